package controller

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Output struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// connWriter serializes writes to a connection shared by the message loop and
// the state pusher.
type connWriter struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
}

func (w *connWriter) write(out *Output) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timeout > 0 {
		w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	}

	return w.conn.WriteJSON(out)
}

func (c controller) generateTimeBasedId() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + c.idGenerator.GenerateRandomString(6)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
