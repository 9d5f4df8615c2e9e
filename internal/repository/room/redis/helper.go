package redis

import (
	"context"
	"reflect"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sharetube/roomsync/internal/repository/room"
)

type roomHash struct {
	VideoURL         string  `redis:"video_url"`
	IsPlaying        bool    `redis:"is_playing"`
	PlaybackPosition float64 `redis:"playback_position"`
	UpdatedAt        int64   `redis:"updated_at"`
	CreatedAt        int64   `redis:"created_at"`
	Version          int64   `redis:"version"`
	WriteID          string  `redis:"write_id"`
}

func (h roomHash) toRoom(roomId string) room.Room {
	return room.Room{
		ID:               roomId,
		VideoURL:         h.VideoURL,
		IsPlaying:        h.IsPlaying,
		PlaybackPosition: h.PlaybackPosition,
		UpdatedAt:        fromMillis(h.UpdatedAt),
		CreatedAt:        fromMillis(h.CreatedAt),
		Version:          h.Version,
		WriteID:          h.WriteID,
	}
}

type memberHash struct {
	DisplayName string `redis:"display_name"`
	AvatarToken string `redis:"avatar_token"`
	IsHost      bool   `redis:"is_host"`
	JoinedAt    int64  `redis:"joined_at"`
}

func (h memberHash) toMember(roomId, userId string) room.Member {
	return room.Member{
		UserID:      userId,
		RoomID:      roomId,
		DisplayName: h.DisplayName,
		AvatarToken: h.AvatarToken,
		IsHost:      h.IsHost,
		JoinedAt:    fromMillis(h.JoinedAt),
	}
}

// scanRoomHash decodes the flat field/value reply of HGETALL run inside a script.
func scanRoomHash(flat []string) (roomHash, error) {
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		fields[flat[i]] = flat[i+1]
	}

	var h roomHash
	err := redis.NewMapStringStringResult(fields, nil).Scan(&h)
	return h, err
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}

	return time.UnixMilli(ms)
}

func (r repo) hSetStruct(ctx context.Context, c redis.Cmdable, key string, value any) {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	fields := make(map[string]any, v.NumField())
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		tag := t.Field(i).Tag.Get("redis")
		if tag == "" {
			tag = t.Field(i).Name
		}

		fields[tag] = v.Field(i).Interface()
	}

	c.HSet(ctx, key, fields)
}

func (r repo) executePipe(ctx context.Context, pipe redis.Pipeliner) error {
	cmds, err := pipe.Exec(ctx)
	if err != nil {
		for _, cmd := range cmds {
			if err := cmd.Err(); err != nil {
				return err
			}
		}

		return err
	}

	return nil
}
