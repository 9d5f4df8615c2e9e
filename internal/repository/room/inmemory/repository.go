package inmemory

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/sharetube/roomsync/internal/repository/room"
)

const subscriptionBuffer = 64

type repo struct {
	rooms      map[string]room.Room
	members    map[string]map[string]room.Member
	roomSubs   map[string]map[*feed[room.Room]]struct{}
	memberSubs map[string]map[*feed[room.MemberEvent]]struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewRepo returns a process-local room store. Every session of a room must share
// the same instance.
func NewRepo(logger *slog.Logger) *repo {
	return &repo{
		rooms:      make(map[string]room.Room),
		members:    make(map[string]map[string]room.Member),
		roomSubs:   make(map[string]map[*feed[room.Room]]struct{}),
		memberSubs: make(map[string]map[*feed[room.MemberEvent]]struct{}),
		logger:     logger.With("component", "room.inmemory"),
	}
}

func (r *repo) GetRoom(ctx context.Context, roomId string) (room.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	r.logger.DebugContext(ctx, "called", "room_id", roomId)
	rm, ok := r.rooms[roomId]
	if !ok {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrRoomNotFound)
		return room.Room{}, room.ErrRoomNotFound
	}

	return rm, nil
}

func (r *repo) CreateRoom(ctx context.Context, params *room.CreateRoomParams) (room.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.DebugContext(ctx, "called", "params", params)
	if _, ok := r.rooms[params.RoomID]; ok {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrRoomAlreadyExists)
		return room.Room{}, room.ErrRoomAlreadyExists
	}

	rm := room.Room{
		ID:        params.RoomID,
		CreatedAt: params.CreatedAt,
		UpdatedAt: params.CreatedAt,
		Version:   1,
	}
	r.rooms[params.RoomID] = rm

	return rm, nil
}

func (r *repo) UpdateRoom(ctx context.Context, params *room.UpdateRoomParams) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.DebugContext(ctx, "called", "params", params)
	rm, ok := r.rooms[params.RoomID]
	if !ok {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrRoomNotFound)
		return 0, room.ErrRoomNotFound
	}

	rm = params.Apply(rm)
	rm.Version++
	r.rooms[params.RoomID] = rm

	for f := range r.roomSubs[params.RoomID] {
		f.push(rm)
	}

	return rm.Version, nil
}

// KeepAlive only reports whether the room still exists; nothing expires here.
func (r *repo) KeepAlive(ctx context.Context, params *room.KeepAliveParams) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	r.logger.DebugContext(ctx, "called", "params", params)
	if _, ok := r.rooms[params.RoomID]; !ok {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrRoomNotFound)
		return room.ErrRoomNotFound
	}

	return nil
}

func (r *repo) SubscribeRoom(ctx context.Context, roomId string) (<-chan room.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.DebugContext(ctx, "called", "room_id", roomId)
	f := newFeed[room.Room](subscriptionBuffer)
	if r.roomSubs[roomId] == nil {
		r.roomSubs[roomId] = make(map[*feed[room.Room]]struct{})
	}
	r.roomSubs[roomId][f] = struct{}{}

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.roomSubs[roomId], f)
		f.close()
		r.mu.Unlock()
	}()

	return f.ch, nil
}

func (r *repo) AddMember(ctx context.Context, params *room.SetMemberParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.DebugContext(ctx, "called", "params", params)
	m := room.Member{
		UserID:      params.UserID,
		RoomID:      params.RoomID,
		DisplayName: params.DisplayName,
		AvatarToken: params.AvatarToken,
		IsHost:      params.IsHost,
		JoinedAt:    params.JoinedAt,
	}
	if r.members[params.RoomID] == nil {
		r.members[params.RoomID] = make(map[string]room.Member)
	}
	r.members[params.RoomID][params.UserID] = m

	r.notifyMembers(params.RoomID, room.MemberEvent{Kind: room.MemberAdded, Member: m})

	return nil
}

func (r *repo) UpdateMember(ctx context.Context, params *room.UpdateMemberParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.DebugContext(ctx, "called", "params", params)
	m, ok := r.members[params.RoomID][params.UserID]
	if !ok {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrMemberNotFound)
		return room.ErrMemberNotFound
	}

	m = params.Apply(m)
	r.members[params.RoomID][params.UserID] = m

	r.notifyMembers(params.RoomID, room.MemberEvent{Kind: room.MemberUpdated, Member: m})

	return nil
}

func (r *repo) RemoveMember(ctx context.Context, params *room.RemoveMemberParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.DebugContext(ctx, "called", "params", params)
	m, ok := r.members[params.RoomID][params.UserID]
	if !ok {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrMemberNotFound)
		return room.ErrMemberNotFound
	}

	delete(r.members[params.RoomID], params.UserID)

	r.notifyMembers(params.RoomID, room.MemberEvent{Kind: room.MemberRemoved, Member: m})

	return nil
}

func (r *repo) GetMembers(ctx context.Context, roomId string) ([]room.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	r.logger.DebugContext(ctx, "called", "room_id", roomId)
	return r.membersOf(roomId), nil
}

// membersOf must be called with the repository lock held.
func (r *repo) membersOf(roomId string) []room.Member {
	members := make([]room.Member, 0, len(r.members[roomId]))
	for _, m := range r.members[roomId] {
		members = append(members, m)
	}

	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].UserID < members[j].UserID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})

	return members
}

func (r *repo) SubscribeMembers(ctx context.Context, roomId string) (<-chan room.MemberEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.DebugContext(ctx, "called", "room_id", roomId)
	// Member events are deltas, so a reader that falls behind gets the full
	// list instead of a gap.
	f := newResyncFeed(subscriptionBuffer, func() room.MemberEvent {
		return room.MemberEvent{Kind: room.MembersResynced, Members: r.membersOf(roomId)}
	})
	if r.memberSubs[roomId] == nil {
		r.memberSubs[roomId] = make(map[*feed[room.MemberEvent]]struct{})
	}
	r.memberSubs[roomId][f] = struct{}{}

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.memberSubs[roomId], f)
		f.close()
		r.mu.Unlock()
	}()

	return f.ch, nil
}

func (r *repo) notifyMembers(roomId string, ev room.MemberEvent) {
	for f := range r.memberSubs[roomId] {
		f.push(ev)
	}
}
