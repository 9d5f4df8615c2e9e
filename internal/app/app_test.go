package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *AppConfig {
	return &AppConfig{
		Host:              "127.0.0.1",
		Port:              0,
		LogLevel:          "debug",
		Backend:           BackendMemory,
		RoomTTL:           time.Hour,
		TelemetryInterval: time.Second,
		JoinSyncDelay:     time.Hour,
		SyncResponder:     "host",
		NotificationLimit: 5,
		NotificationTTL:   4 * time.Second,
	}
}

func TestValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	cfg.Backend = "postgres"
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.SyncResponder = "everyone"
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.LogLevel = "loud"
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.NotificationLimit = 0
	assert.Error(t, cfg.Validate())
}

type message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type roomState struct {
	Playback struct {
		IsPlaying bool    `json:"is_playing"`
		Position  float64 `json:"position"`
	} `json:"playback"`
}

func dial(t *testing.T, srv *httptest.Server, name string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rooms/movie-night?username=" + name
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var joined message
	require.NoError(t, conn.ReadJSON(&joined))
	require.Equal(t, "JOINED_ROOM", joined.Type)

	return conn
}

func TestRedisBackendEndToEnd(t *testing.T) {
	s := miniredis.RunT(t)
	port, err := strconv.Atoi(s.Port())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Backend = BackendRedis
	cfg.RedisHost = s.Host()
	cfg.RedisPort = port

	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	host := dial(t, srv, "Host")
	guest := dial(t, srv, "Guest")

	require.NoError(t, host.WriteJSON(map[string]any{"type": "SEEK", "payload": map[string]any{"position": 42}}))

	for {
		var msg message
		require.NoError(t, guest.ReadJSON(&msg))
		if msg.Type != "ROOM_STATE" {
			continue
		}

		var state roomState
		require.NoError(t, json.Unmarshal(msg.Payload, &state))
		if state.Playback.Position == 42 {
			break
		}
	}

	assert.Eventually(t, func() bool {
		return s.HGet("room:movie-night", "playback_position") == "42"
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.Exists("room:movie-night"))
}

func TestNewFailsWithoutRedis(t *testing.T) {
	cfg := testConfig()
	cfg.Backend = BackendRedis
	cfg.RedisHost = "127.0.0.1"
	cfg.RedisPort = 1

	_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
