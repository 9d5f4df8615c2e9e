package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/sharetube/roomsync/internal/repository/action"
	"github.com/sharetube/roomsync/pkg/redisclient"
)

const subscriptionBuffer = 64

// Bus carries actions over redis Pub/Sub. Nothing is persisted: subscribers that
// are not connected at publish time never see the action.
type Bus struct {
	rc     *redis.Client
	logger *slog.Logger
}

func NewBus(rc *redis.Client, logger *slog.Logger) *Bus {
	return &Bus{
		rc:     rc,
		logger: logger.With("component", "action.redis"),
	}
}

func (b *Bus) getChannel(roomId string) string {
	return "room:" + roomId + ":actions"
}

func (b *Bus) Publish(ctx context.Context, roomId string, a action.Action) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}

	if err := b.rc.Publish(ctx, b.getChannel(roomId), data).Err(); err != nil {
		return fmt.Errorf("failed to publish action: %w", err)
	}

	b.logger.DebugContext(ctx, "published action",
		"room_id", roomId,
		"type", a.Kind,
		"user_id", a.SenderID,
	)

	return nil
}

func (b *Bus) Subscribe(ctx context.Context, roomId string) (<-chan action.Action, error) {
	return redisclient.SubscribeJSON[action.Action](ctx, b.rc, b.getChannel(roomId), subscriptionBuffer, b.logger)
}
