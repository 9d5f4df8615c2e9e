package room

import "time"

type CreateRoomParams struct {
	RoomID    string
	CreatedAt time.Time
}

// UpdateRoomParams is a blind partial write: only non-nil fields are stored.
type UpdateRoomParams struct {
	RoomID           string
	WriteID          string
	VideoURL         *string
	IsPlaying        *bool
	PlaybackPosition *float64
	UpdatedAt        time.Time
}

type SetMemberParams struct {
	UserID      string
	RoomID      string
	DisplayName string
	AvatarToken string
	IsHost      bool
	JoinedAt    time.Time
}

type UpdateMemberParams struct {
	UserID      string
	RoomID      string
	DisplayName *string
	AvatarToken *string
}

type RemoveMemberParams struct {
	UserID string
	RoomID string
}

type KeepAliveParams struct {
	UserID string
	RoomID string
}

// Apply returns r with the fields of params merged in.
func (params *UpdateRoomParams) Apply(r Room) Room {
	if params.VideoURL != nil {
		r.VideoURL = *params.VideoURL
	}
	if params.IsPlaying != nil {
		r.IsPlaying = *params.IsPlaying
	}
	if params.PlaybackPosition != nil {
		r.PlaybackPosition = *params.PlaybackPosition
	}
	r.UpdatedAt = params.UpdatedAt
	r.WriteID = params.WriteID

	return r
}

func (params *UpdateMemberParams) Apply(m Member) Member {
	if params.DisplayName != nil {
		m.DisplayName = *params.DisplayName
	}
	if params.AvatarToken != nil {
		m.AvatarToken = *params.AvatarToken
	}

	return m
}
