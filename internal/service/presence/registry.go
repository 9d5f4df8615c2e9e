// Package presence elects the room host on join and keeps the live member list
// of one session.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sharetube/roomsync/internal/repository/room"
)

type iRoomRepo interface {
	GetRoom(context.Context, string) (room.Room, error)
	CreateRoom(context.Context, *room.CreateRoomParams) (room.Room, error)
	AddMember(context.Context, *room.SetMemberParams) error
	UpdateMember(context.Context, *room.UpdateMemberParams) error
	RemoveMember(context.Context, *room.RemoveMemberParams) error
	GetMembers(context.Context, string) ([]room.Member, error)
}

// Profile is the user-editable part of a membership. Empty fields are filled
// with random values on join.
type Profile struct {
	DisplayName string
	AvatarToken string
}

type JoinResponse struct {
	Self    room.Member
	Room    room.Room
	Members []room.Member
}

// Registry is owned by a single session.
type Registry struct {
	repo    iRoomRepo
	now     func() time.Time
	logger  *slog.Logger
	mu      sync.RWMutex
	self    room.Member
	members map[string]room.Member
}

func New(repo iRoomRepo, logger *slog.Logger) *Registry {
	return &Registry{
		repo:    repo,
		now:     time.Now,
		logger:  logger.With("component", "presence"),
		members: make(map[string]room.Member),
	}
}

// Join creates the room or, if another session won the create race, reads the
// existing one. The creator becomes host for the lifetime of its membership.
// ErrRoomNotFound means the room vanished between the lost create and the read,
// and the caller should retry.
func (r *Registry) Join(ctx context.Context, roomID string, profile Profile) (JoinResponse, error) {
	r.logger.DebugContext(ctx, "called", "room_id", roomID)

	now := r.now()
	isHost := true
	rm, err := r.repo.CreateRoom(ctx, &room.CreateRoomParams{
		RoomID:    roomID,
		CreatedAt: now,
	})
	if errors.Is(err, room.ErrRoomAlreadyExists) {
		isHost = false
		rm, err = r.repo.GetRoom(ctx, roomID)
	}
	if err != nil {
		r.logger.InfoContext(ctx, "failed to join room", "room_id", roomID, "error", err)
		return JoinResponse{}, fmt.Errorf("join room %s: %w", roomID, err)
	}

	if profile.DisplayName == "" {
		profile.DisplayName = RandomDisplayName()
	}
	if profile.AvatarToken == "" {
		profile.AvatarToken = RandomAvatarToken()
	}

	self := room.Member{
		UserID:      uuid.NewString(),
		RoomID:      roomID,
		DisplayName: profile.DisplayName,
		AvatarToken: profile.AvatarToken,
		IsHost:      isHost,
		JoinedAt:    now,
	}
	if err := r.repo.AddMember(ctx, &room.SetMemberParams{
		UserID:      self.UserID,
		RoomID:      self.RoomID,
		DisplayName: self.DisplayName,
		AvatarToken: self.AvatarToken,
		IsHost:      self.IsHost,
		JoinedAt:    self.JoinedAt,
	}); err != nil {
		r.logger.InfoContext(ctx, "failed to add member", "room_id", roomID, "error", err)
		return JoinResponse{}, fmt.Errorf("add member: %w", err)
	}

	members, err := r.repo.GetMembers(ctx, roomID)
	if err != nil {
		r.logger.InfoContext(ctx, "failed to get members", "room_id", roomID, "error", err)
		return JoinResponse{}, fmt.Errorf("get members: %w", err)
	}

	r.mu.Lock()
	r.self = self
	clear(r.members)
	for _, m := range members {
		r.members[m.UserID] = m
	}
	r.members[self.UserID] = self
	r.mu.Unlock()

	resp := JoinResponse{
		Self:    self,
		Room:    rm,
		Members: r.Members(),
	}
	r.logger.DebugContext(ctx, "returned", "user_id", self.UserID, "is_host", isHost)

	return resp, nil
}

// Apply merges a membership event and reports whether the list changed. Events
// may be delivered more than once.
func (r *Registry) Apply(ev room.MemberEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.members[ev.Member.UserID]
	switch ev.Kind {
	case room.MemberAdded, room.MemberUpdated:
		if ok && current == ev.Member {
			return false
		}
		r.members[ev.Member.UserID] = ev.Member
		if ev.Member.UserID == r.self.UserID {
			r.self = ev.Member
		}
		return true
	case room.MemberRemoved:
		if !ok {
			return false
		}
		delete(r.members, ev.Member.UserID)
		return true
	case room.MembersResynced:
		clear(r.members)
		for _, m := range ev.Members {
			r.members[m.UserID] = m
		}
		if m, ok := r.members[r.self.UserID]; ok {
			r.self = m
		} else {
			r.members[r.self.UserID] = r.self
		}
		return true
	default:
		return false
	}
}

// Members returns the members ordered by join time.
func (r *Registry) Members() []room.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]room.Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].UserID < members[j].UserID
	})

	return members
}

func (r *Registry) Self() room.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.self
}

func (r *Registry) Rename(ctx context.Context, displayName string) (room.Member, error) {
	return r.update(ctx, &room.UpdateMemberParams{DisplayName: &displayName})
}

func (r *Registry) UpdateAvatar(ctx context.Context, avatarToken string) (room.Member, error) {
	return r.update(ctx, &room.UpdateMemberParams{AvatarToken: &avatarToken})
}

func (r *Registry) update(ctx context.Context, params *room.UpdateMemberParams) (room.Member, error) {
	self := r.Self()
	params.UserID = self.UserID
	params.RoomID = self.RoomID

	if err := r.repo.UpdateMember(ctx, params); err != nil {
		r.logger.InfoContext(ctx, "failed to update member", "user_id", self.UserID, "error", err)
		return room.Member{}, fmt.Errorf("update member: %w", err)
	}

	r.mu.Lock()
	r.self = params.Apply(r.self)
	r.members[r.self.UserID] = r.self
	self = r.self
	r.mu.Unlock()

	return self, nil
}

// Leave deletes the membership row. A row that is already gone is not an error.
func (r *Registry) Leave(ctx context.Context) error {
	self := r.Self()
	err := r.repo.RemoveMember(ctx, &room.RemoveMemberParams{
		UserID: self.UserID,
		RoomID: self.RoomID,
	})
	if err != nil && !errors.Is(err, room.ErrMemberNotFound) {
		return fmt.Errorf("remove member: %w", err)
	}

	r.mu.Lock()
	delete(r.members, self.UserID)
	r.mu.Unlock()

	return nil
}
