package inmemory

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/sharetube/roomsync/internal/repository/connection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newConnPair returns the server side of a websocket connection and the client.
func newConnPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	serverConns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return <-serverConns, client
}

func TestAddRemove(t *testing.T) {
	r := NewRepo(slog.Default())
	conn, _ := newConnPair(t)

	require.NoError(t, r.Add(conn, "u1"))
	assert.ErrorIs(t, r.Add(conn, "u2"), connection.ErrAlreadyExists)
	assert.Equal(t, 1, r.Len())

	other, _ := newConnPair(t)
	assert.ErrorIs(t, r.Add(other, "u1"), connection.ErrAlreadyExists)

	require.NoError(t, r.Remove(conn))
	assert.ErrorIs(t, r.Remove(conn), connection.ErrNotFound)
	assert.Equal(t, 0, r.Len())

	require.NoError(t, r.Add(other, "u1"))
	assert.Equal(t, 1, r.Len())
}

func TestCloseAll(t *testing.T) {
	r := NewRepo(slog.Default())
	conn, client := newConnPair(t)
	require.NoError(t, r.Add(conn, "u1"))

	assert.Equal(t, 1, r.CloseAll())
	assert.Equal(t, 0, r.Len())

	_, _, err := client.ReadMessage()
	assert.Error(t, err)
}
