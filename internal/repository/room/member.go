package room

import "time"

type Member struct {
	UserID      string    `json:"user_id"`
	RoomID      string    `json:"room_id"`
	DisplayName string    `json:"display_name"`
	AvatarToken string    `json:"avatar_token"`
	IsHost      bool      `json:"is_host"`
	JoinedAt    time.Time `json:"joined_at"`
}

type MemberEventKind string

const (
	MemberAdded   MemberEventKind = "added"
	MemberUpdated MemberEventKind = "updated"
	MemberRemoved MemberEventKind = "removed"
	// MembersResynced carries the whole member list in Members and replaces
	// whatever the reader had.
	MembersResynced MemberEventKind = "resynced"
)

type MemberEvent struct {
	Kind    MemberEventKind `json:"kind"`
	Member  Member          `json:"member"`
	Members []Member        `json:"members,omitempty"`
}
