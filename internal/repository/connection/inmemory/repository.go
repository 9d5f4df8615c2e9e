package inmemory

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sharetube/roomsync/internal/repository/connection"
)

// repo tracks the open websocket connections of this process by user id.
type repo struct {
	connList map[*websocket.Conn]string
	idList   map[string]*websocket.Conn
	mu       sync.RWMutex
	logger   *slog.Logger
}

func NewRepo(logger *slog.Logger) *repo {
	return &repo{
		connList: make(map[*websocket.Conn]string),
		idList:   make(map[string]*websocket.Conn),
		logger:   logger.With("component", "connection.inmemory"),
	}
}

func (r *repo) Add(conn *websocket.Conn, userId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug("called", "user_id", userId)
	if _, ok := r.connList[conn]; ok {
		return connection.ErrAlreadyExists
	}
	if _, ok := r.idList[userId]; ok {
		return connection.ErrAlreadyExists
	}

	r.connList[conn] = userId
	r.idList[userId] = conn

	return nil
}

// Remove forgets conn without closing it.
func (r *repo) Remove(conn *websocket.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	userId, ok := r.connList[conn]
	if !ok {
		r.logger.Debug("returned", "error", connection.ErrNotFound)
		return connection.ErrNotFound
	}

	delete(r.connList, conn)
	delete(r.idList, userId)

	return nil
}

func (r *repo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.connList)
}

// CloseAll closes every tracked connection and returns how many were closed.
// Their handlers observe the read error and tear their sessions down.
func (r *repo) CloseAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	closed := len(r.connList)
	for conn, userId := range r.connList {
		conn.Close()
		delete(r.connList, conn)
		delete(r.idList, userId)
	}

	return closed
}
