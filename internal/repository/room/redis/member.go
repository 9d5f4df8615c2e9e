package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sharetube/roomsync/internal/repository/room"
	omitnilpointers "github.com/sharetube/roomsync/pkg/omit-nil-pointers"
	"github.com/sharetube/roomsync/pkg/redisclient"
)

func (r repo) AddMember(ctx context.Context, params *room.SetMemberParams) error {
	r.logger.DebugContext(ctx, "called", "params", params)
	pipe := r.rc.TxPipeline()

	member := memberHash{
		DisplayName: params.DisplayName,
		AvatarToken: params.AvatarToken,
		IsHost:      params.IsHost,
		JoinedAt:    params.JoinedAt.UnixMilli(),
	}

	memberKey := r.getMemberKey(params.RoomID, params.UserID)
	memberListKey := r.getMemberListKey(params.RoomID)
	r.hSetStruct(ctx, pipe, memberKey, member)
	pipe.ZAdd(ctx, memberListKey, redis.Z{
		Score:  float64(member.JoinedAt),
		Member: params.UserID,
	})
	r.expire(ctx, pipe, memberKey, memberListKey)

	if err := r.executePipe(ctx, pipe); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return fmt.Errorf("failed to add member: %w", err)
	}

	r.publish(ctx, r.getMembersChannel(params.RoomID), room.MemberEvent{
		Kind:   room.MemberAdded,
		Member: member.toMember(params.RoomID, params.UserID),
	})

	return nil
}

func (r repo) UpdateMember(ctx context.Context, params *room.UpdateMemberParams) error {
	r.logger.DebugContext(ctx, "called", "params", params)
	key := r.getMemberKey(params.RoomID, params.UserID)
	cmd := r.rc.Exists(ctx, key)
	if err := cmd.Err(); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return fmt.Errorf("failed to check member: %w", err)
	}

	if cmd.Val() == 0 {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrMemberNotFound)
		return room.ErrMemberNotFound
	}

	fields := omitnilpointers.OmitNilPointers(map[string]any{
		"display_name": params.DisplayName,
		"avatar_token": params.AvatarToken,
	})
	if len(fields) == 0 {
		return nil
	}

	pipe := r.rc.TxPipeline()
	pipe.HSet(ctx, key, fields)
	memberCmd := pipe.HGetAll(ctx, key)
	r.expire(ctx, pipe, key)

	if err := r.executePipe(ctx, pipe); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return fmt.Errorf("failed to update member: %w", err)
	}

	var h memberHash
	if err := memberCmd.Scan(&h); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return fmt.Errorf("failed to scan member: %w", err)
	}

	r.publish(ctx, r.getMembersChannel(params.RoomID), room.MemberEvent{
		Kind:   room.MemberUpdated,
		Member: h.toMember(params.RoomID, params.UserID),
	})

	return nil
}

func (r repo) RemoveMember(ctx context.Context, params *room.RemoveMemberParams) error {
	r.logger.DebugContext(ctx, "called", "params", params)
	key := r.getMemberKey(params.RoomID, params.UserID)

	pipe := r.rc.TxPipeline()
	memberCmd := pipe.HGetAll(ctx, key)
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, r.getMemberListKey(params.RoomID), params.UserID)

	if err := r.executePipe(ctx, pipe); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return fmt.Errorf("failed to remove member: %w", err)
	}

	if len(memberCmd.Val()) == 0 {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrMemberNotFound)
		return room.ErrMemberNotFound
	}

	var h memberHash
	if err := memberCmd.Scan(&h); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return fmt.Errorf("failed to scan member: %w", err)
	}

	r.publish(ctx, r.getMembersChannel(params.RoomID), room.MemberEvent{
		Kind:   room.MemberRemoved,
		Member: h.toMember(params.RoomID, params.UserID),
	})

	return nil
}

// GetMembers returns the members ordered by join time. List entries whose
// member hash has expired are skipped.
func (r repo) GetMembers(ctx context.Context, roomId string) ([]room.Member, error) {
	r.logger.DebugContext(ctx, "called", "room_id", roomId)
	userIds, err := r.rc.ZRange(ctx, r.getMemberListKey(roomId), 0, -1).Result()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return nil, fmt.Errorf("failed to get member ids: %w", err)
	}

	if len(userIds) == 0 {
		return []room.Member{}, nil
	}

	pipe := r.rc.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(userIds))
	for _, userId := range userIds {
		cmds = append(cmds, pipe.HGetAll(ctx, r.getMemberKey(roomId, userId)))
	}

	if err := r.executePipe(ctx, pipe); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return nil, fmt.Errorf("failed to get members: %w", err)
	}

	members := make([]room.Member, 0, len(userIds))
	for i, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			continue
		}

		var h memberHash
		if err := cmd.Scan(&h); err != nil {
			r.logger.DebugContext(ctx, "returned", "error", err)
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}

		members = append(members, h.toMember(roomId, userIds[i]))
	}

	return members, nil
}

func (r repo) SubscribeMembers(ctx context.Context, roomId string) (<-chan room.MemberEvent, error) {
	r.logger.DebugContext(ctx, "called", "room_id", roomId)
	return redisclient.SubscribeJSON[room.MemberEvent](ctx, r.rc, r.getMembersChannel(roomId), subscriptionBuffer, r.logger)
}
