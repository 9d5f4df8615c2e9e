package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const subscriptionBuffer = 64

type repo struct {
	rc               *redis.Client
	createRoomScript *redis.Script
	updateRoomScript *redis.Script
	keepAliveScript  *redis.Script
	expireDuration   time.Duration
	logger           *slog.Logger
}

// NewRepo returns a room store backed by redis hashes. Keys are refreshed to live
// expireDuration after every write and on KeepAlive; zero disables expiry.
func NewRepo(rc *redis.Client, expireDuration time.Duration, logger *slog.Logger) *repo {
	return &repo{
		rc: rc,
		createRoomScript: redis.NewScript(`
			if redis.call('EXISTS', KEYS[1]) == 1 then
				return 0
			end
			redis.call('HSET', KEYS[1],
				'video_url', '',
				'is_playing', 0,
				'playback_position', 0,
				'created_at', ARGV[1],
				'updated_at', ARGV[1],
				'version', 1,
				'write_id', '')
			local ttl = tonumber(ARGV[2])
			if ttl > 0 then
				redis.call('EXPIRE', KEYS[1], ttl)
			end
			return 1
		`),
		// A missing row is never recreated: the version would restart and every
		// live subscriber would treat later snapshots as stale.
		updateRoomScript: redis.NewScript(`
			if redis.call('EXISTS', KEYS[1]) == 0 then
				return false
			end
			if #ARGV > 1 then
				redis.call('HSET', KEYS[1], unpack(ARGV, 2))
			end
			redis.call('HINCRBY', KEYS[1], 'version', 1)
			local ttl = tonumber(ARGV[1])
			if ttl > 0 then
				redis.call('EXPIRE', KEYS[1], ttl)
			end
			return redis.call('HGETALL', KEYS[1])
		`),
		keepAliveScript: redis.NewScript(`
			if redis.call('EXISTS', KEYS[1]) == 0 then
				return 0
			end
			local ttl = tonumber(ARGV[1])
			if ttl > 0 then
				for i = 1, #KEYS do
					redis.call('EXPIRE', KEYS[i], ttl)
				end
			end
			return 1
		`),
		expireDuration: expireDuration,
		logger:         logger.With("component", "room.redis"),
	}
}

func (r repo) getRoomKey(roomId string) string {
	return "room:" + roomId
}

func (r repo) getRoomChangesChannel(roomId string) string {
	return "room:" + roomId + ":changes"
}

func (r repo) getMemberKey(roomId, userId string) string {
	return "room:" + roomId + ":member:" + userId
}

func (r repo) getMemberListKey(roomId string) string {
	return "room:" + roomId + ":memberlist"
}

func (r repo) getMembersChannel(roomId string) string {
	return "room:" + roomId + ":members"
}

func (r repo) expire(ctx context.Context, pipe redis.Pipeliner, keys ...string) {
	if r.expireDuration <= 0 {
		return
	}

	for _, key := range keys {
		pipe.Expire(ctx, key, r.expireDuration)
	}
}

// publish is best effort: the write it reports has already been committed.
func (r repo) publish(ctx context.Context, channel string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to marshal notification", "channel", channel, "error", err)
		return
	}

	if err := r.rc.Publish(ctx, channel, data).Err(); err != nil {
		r.logger.WarnContext(ctx, "failed to publish notification", "channel", channel, "error", err)
	}
}
