package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/roomsync/internal/metrics"
	"github.com/sharetube/roomsync/internal/service/session"
	"github.com/sharetube/roomsync/pkg/randstr"
	"github.com/sharetube/roomsync/pkg/validator"
	"github.com/sharetube/roomsync/pkg/wsrouter"
	"golang.org/x/time/rate"
)

type iSessionService interface {
	Open(context.Context, *session.OpenParams) (*session.Session, error)
}

type iConnRepo interface {
	Add(*websocket.Conn, string) error
	Remove(*websocket.Conn) error
	Len() int
	CloseAll() int
}

type Config struct {
	// RateLimit is the sustained number of inbound messages per second allowed
	// on one connection.
	RateLimit    rate.Limit
	RateBurst    int
	WriteTimeout time.Duration
}

type controller struct {
	sessionService iSessionService
	connRepo       iConnRepo
	upgrader       websocket.Upgrader
	validate       *validator.Validator
	wsRouter       *wsrouter.WSRouter
	metrics        *metrics.Collector
	idGenerator    *randstr.Generator
	cfg            Config
	logger         *slog.Logger
}

func NewController(sessionService iSessionService, connRepo iConnRepo, m *metrics.Collector, cfg *Config, logger *slog.Logger) *controller {
	c := &controller{
		sessionService: sessionService,
		connRepo:       connRepo,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		validate:    validator.NewValidator(),
		metrics:     m,
		idGenerator: randstr.New([]byte("abcdefghijklmnopqrstuvwxyz0123456789")),
		cfg:         *cfg,
		logger:      logger.With("component", "controller"),
	}
	c.wsRouter = c.getWSRouter()

	return c
}

// CloseConnections closes every open websocket. http.Server.Shutdown does not
// touch hijacked connections, so this has to run on shutdown for sessions to
// leave their rooms.
func (c controller) CloseConnections() {
	closed := c.connRepo.CloseAll()
	c.logger.Info("closed websocket connections", "count", closed)
}
