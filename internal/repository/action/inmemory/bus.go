package inmemory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sharetube/roomsync/internal/repository/action"
)

const subscriptionBuffer = 64

type subscriber struct {
	ch chan action.Action
}

// Bus fans actions out to the subscribers of a room inside one process.
// Delivery is at most once: a subscriber whose buffer is full misses the action.
type Bus struct {
	subs   map[string]map[*subscriber]struct{}
	mu     sync.RWMutex
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[string]map[*subscriber]struct{}),
		logger: logger.With("component", "action.inmemory"),
	}
}

func (b *Bus) Publish(ctx context.Context, roomId string, a action.Action) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[roomId] {
		select {
		case sub.ch <- a:
		default:
			b.logger.WarnContext(ctx, "dropped action for slow subscriber", "room_id", roomId, "type", a.Kind)
		}
	}

	return nil
}

func (b *Bus) Subscribe(ctx context.Context, roomId string) (<-chan action.Action, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan action.Action, subscriptionBuffer)}
	if b.subs[roomId] == nil {
		b.subs[roomId] = make(map[*subscriber]struct{})
	}
	b.subs[roomId][sub] = struct{}{}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[roomId], sub)
		close(sub.ch)
		b.mu.Unlock()
	}()

	return sub.ch, nil
}
