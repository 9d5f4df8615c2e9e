package ctxlogger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHandlerAddsAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(ContextHandler{slog.NewJSONHandler(&buf, nil)}).With("component", "test")

	ctx := AppendCtx(context.Background(), slog.String("room_id", "abc"))
	ctx = AppendCtx(ctx, slog.String("user_id", "u1"))
	logger.InfoContext(ctx, "hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "abc", rec["room_id"])
	assert.Equal(t, "u1", rec["user_id"])
	assert.Equal(t, "test", rec["component"])
}

func TestAppendCtxDoesNotShareParentSlice(t *testing.T) {
	parent := AppendCtx(context.Background(), slog.Int("a", 1))
	left := AppendCtx(parent, slog.Int("b", 2))
	right := AppendCtx(parent, slog.Int("c", 3))

	assert.Len(t, left.Value(slogFields), 2)
	assert.Equal(t, "c", right.Value(slogFields).([]slog.Attr)[1].Key)
	assert.Equal(t, "b", left.Value(slogFields).([]slog.Attr)[1].Key)
}
