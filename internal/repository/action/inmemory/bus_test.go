package inmemory

import (
	"context"
	"log/slog"
	"testing"

	"github.com/sharetube/roomsync/internal/repository/action"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())

	a, err := bus.Subscribe(ctx, "r1")
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, "r1")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "r1", action.Action{Kind: action.KindSeek, Position: 7}))
	require.NoError(t, bus.Publish(ctx, "other", action.Action{Kind: action.KindPlay}))

	assert.Equal(t, 7.0, (<-a).Position)
	assert.Equal(t, 7.0, (<-b).Position)
	assert.Empty(t, a)

	cancel()
	_, ok := <-a
	assert.False(t, ok)
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.Subscribe(ctx, "r1")
	require.NoError(t, err)

	for i := 0; i < subscriptionBuffer+5; i++ {
		require.NoError(t, bus.Publish(ctx, "r1", action.Action{Kind: action.KindTimeUpdate, Position: float64(i)}))
	}

	assert.Len(t, sub, subscriptionBuffer)
	assert.Equal(t, 0.0, (<-sub).Position)
}
