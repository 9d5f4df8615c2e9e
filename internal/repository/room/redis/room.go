package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sharetube/roomsync/internal/repository/room"
	omitnilpointers "github.com/sharetube/roomsync/pkg/omit-nil-pointers"
	"github.com/sharetube/roomsync/pkg/redisclient"
)

func (r repo) GetRoom(ctx context.Context, roomId string) (room.Room, error) {
	r.logger.DebugContext(ctx, "called", "room_id", roomId)
	var h roomHash
	cmd := r.rc.HGetAll(ctx, r.getRoomKey(roomId))
	if err := cmd.Err(); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.Room{}, fmt.Errorf("failed to get room: %w", err)
	}

	if len(cmd.Val()) == 0 {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrRoomNotFound)
		return room.Room{}, room.ErrRoomNotFound
	}

	if err := cmd.Scan(&h); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.Room{}, fmt.Errorf("failed to scan room: %w", err)
	}

	return h.toRoom(roomId), nil
}

// CreateRoom atomically creates the empty room row. It returns ErrRoomAlreadyExists
// when another creator won.
func (r repo) CreateRoom(ctx context.Context, params *room.CreateRoomParams) (room.Room, error) {
	r.logger.DebugContext(ctx, "called", "params", params)
	created, err := r.createRoomScript.Run(ctx, r.rc,
		[]string{r.getRoomKey(params.RoomID)},
		params.CreatedAt.UnixMilli(),
		int64(r.expireDuration.Seconds()),
	).Int()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.Room{}, fmt.Errorf("failed to create room: %w", err)
	}

	if created == 0 {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrRoomAlreadyExists)
		return room.Room{}, room.ErrRoomAlreadyExists
	}

	return room.Room{
		ID:        params.RoomID,
		CreatedAt: fromMillis(params.CreatedAt.UnixMilli()),
		UpdatedAt: fromMillis(params.CreatedAt.UnixMilli()),
		Version:   1,
	}, nil
}

// UpdateRoom blindly merges the supplied fields, bumps the version and publishes the
// committed row. It returns the version assigned to this write, or ErrRoomNotFound
// when the row has expired or was never created.
func (r repo) UpdateRoom(ctx context.Context, params *room.UpdateRoomParams) (int64, error) {
	r.logger.DebugContext(ctx, "called", "params", params)
	fields := omitnilpointers.OmitNilPointers(map[string]any{
		"video_url":         params.VideoURL,
		"is_playing":        params.IsPlaying,
		"playback_position": params.PlaybackPosition,
		"updated_at":        params.UpdatedAt.UnixMilli(),
		"write_id":          params.WriteID,
	})

	args := make([]any, 0, 1+2*len(fields))
	args = append(args, int64(r.expireDuration.Seconds()))
	for field, value := range fields {
		args = append(args, field, value)
	}

	flat, err := r.updateRoomScript.Run(ctx, r.rc, []string{r.getRoomKey(params.RoomID)}, args...).StringSlice()
	if errors.Is(err, redis.Nil) {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrRoomNotFound)
		return 0, room.ErrRoomNotFound
	}
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return 0, fmt.Errorf("failed to update room: %w", err)
	}

	h, err := scanRoomHash(flat)
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return 0, fmt.Errorf("failed to scan room: %w", err)
	}

	r.publish(ctx, r.getRoomChangesChannel(params.RoomID), h.toRoom(params.RoomID))

	return h.Version, nil
}

// KeepAlive refreshes the expiry of the room row, its member list and the
// member's own row. Live sessions call it so an idle room outlives its TTL.
func (r repo) KeepAlive(ctx context.Context, params *room.KeepAliveParams) error {
	r.logger.DebugContext(ctx, "called", "params", params)
	alive, err := r.keepAliveScript.Run(ctx, r.rc,
		[]string{
			r.getRoomKey(params.RoomID),
			r.getMemberListKey(params.RoomID),
			r.getMemberKey(params.RoomID, params.UserID),
		},
		int64(r.expireDuration.Seconds()),
	).Int()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return fmt.Errorf("failed to keep room alive: %w", err)
	}

	if alive == 0 {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrRoomNotFound)
		return room.ErrRoomNotFound
	}

	return nil
}

func (r repo) SubscribeRoom(ctx context.Context, roomId string) (<-chan room.Room, error) {
	r.logger.DebugContext(ctx, "called", "room_id", roomId)
	return redisclient.SubscribeJSON[room.Room](ctx, r.rc, r.getRoomChangesChannel(roomId), subscriptionBuffer, r.logger)
}
