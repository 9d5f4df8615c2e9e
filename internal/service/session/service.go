// Package session wires presence, the reconciliation engine, the room store and
// the action bus into one session per connected client.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sharetube/roomsync/internal/metrics"
	"github.com/sharetube/roomsync/internal/repository/action"
	"github.com/sharetube/roomsync/internal/repository/room"
	"github.com/sharetube/roomsync/internal/service/engine"
	"github.com/sharetube/roomsync/internal/service/presence"
)

var (
	ErrSubscriptionLost = errors.New("subscription lost")
	ErrSessionClosed    = errors.New("session closed")
	ErrUnknownResponder = errors.New("unknown sync responder policy")
)

type iRoomRepo interface {
	GetRoom(context.Context, string) (room.Room, error)
	CreateRoom(context.Context, *room.CreateRoomParams) (room.Room, error)
	UpdateRoom(context.Context, *room.UpdateRoomParams) (int64, error)
	SubscribeRoom(context.Context, string) (<-chan room.Room, error)
	AddMember(context.Context, *room.SetMemberParams) error
	UpdateMember(context.Context, *room.UpdateMemberParams) error
	RemoveMember(context.Context, *room.RemoveMemberParams) error
	GetMembers(context.Context, string) ([]room.Member, error)
	SubscribeMembers(context.Context, string) (<-chan room.MemberEvent, error)
	KeepAlive(context.Context, *room.KeepAliveParams) error
}

type iActionBus interface {
	Publish(context.Context, string, action.Action) error
	Subscribe(context.Context, string) (<-chan action.Action, error)
}

// ResponderPolicy selects which sessions answer a peer's request-sync.
type ResponderPolicy string

const (
	ResponderHost ResponderPolicy = "host"
	ResponderAll  ResponderPolicy = "all"
	ResponderNone ResponderPolicy = "none"
)

func ParseResponderPolicy(s string) (ResponderPolicy, error) {
	switch p := ResponderPolicy(s); p {
	case ResponderHost, ResponderAll, ResponderNone:
		return p, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownResponder, s)
}

type Config struct {
	// TelemetryInterval is how often a playing session publishes its position.
	TelemetryInterval time.Duration
	// JoinSyncDelay is how long a guest waits after joining before it asks
	// peers for their position.
	JoinSyncDelay     time.Duration
	Responder         ResponderPolicy
	NotificationLimit int
	NotificationTTL   time.Duration
	PruneInterval     time.Duration
	JoinAttempts      int
	LeaveTimeout      time.Duration
	// KeepAliveInterval is how often the session refreshes the expiry of its
	// room and membership rows. Zero disables it.
	KeepAliveInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		TelemetryInterval: 5 * time.Second,
		JoinSyncDelay:     time.Second,
		Responder:         ResponderHost,
		NotificationLimit: 5,
		NotificationTTL:   4 * time.Second,
		PruneInterval:     500 * time.Millisecond,
		JoinAttempts:      3,
		LeaveTimeout:      5 * time.Second,
	}
}

type service struct {
	store   iRoomRepo
	bus     iActionBus
	cfg     Config
	metrics *metrics.Collector
	logger  *slog.Logger
}

func NewService(store iRoomRepo, bus iActionBus, cfg *Config, logger *slog.Logger, m *metrics.Collector) *service {
	return &service{
		store:   store,
		bus:     bus,
		cfg:     *cfg,
		metrics: m,
		logger:  logger.With("component", "session"),
	}
}

type OpenParams struct {
	RoomID      string
	DisplayName string
	AvatarToken string
}

// Open joins the room and starts the session's event loop. The session lives
// until Close is called, ctx is done, or one of its subscriptions is lost.
func (s *service) Open(ctx context.Context, params *OpenParams) (*Session, error) {
	s.logger.DebugContext(ctx, "called", "params", params)

	sessCtx, cancel := context.WithCancel(ctx)

	// Subscribing before the join read means no committed write can fall between
	// the seed snapshot and the stream. Older snapshots are discarded as stale.
	snapshots, err := s.store.SubscribeRoom(sessCtx, params.RoomID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe room: %w: %w", engine.ErrTransportUnavailable, err)
	}
	memberEvents, err := s.store.SubscribeMembers(sessCtx, params.RoomID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe members: %w: %w", engine.ErrTransportUnavailable, err)
	}
	actions, err := s.bus.Subscribe(sessCtx, params.RoomID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe actions: %w: %w", engine.ErrTransportUnavailable, err)
	}

	registry := presence.New(s.store, s.logger)
	profile := presence.Profile{
		DisplayName: params.DisplayName,
		AvatarToken: params.AvatarToken,
	}

	var resp presence.JoinResponse
	for attempt := 1; ; attempt++ {
		resp, err = registry.Join(sessCtx, params.RoomID, profile)
		if err == nil || !errors.Is(err, room.ErrRoomNotFound) || attempt >= s.cfg.JoinAttempts {
			break
		}
		s.logger.InfoContext(ctx, "room vanished during join, retrying", "room_id", params.RoomID, "attempt", attempt)
	}
	if err != nil {
		cancel()
		return nil, err
	}

	sess := &Session{
		roomID:   params.RoomID,
		presence: registry,
		store:    s.store,
		bus:      s.bus,
		cfg:      s.cfg,
		metrics:  s.metrics,
		logger:   s.logger.With("room_id", params.RoomID, "user_id", resp.Self.UserID),
		updates:  make(chan struct{}, 1),
		ctx:      sessCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	engineCfg := engine.DefaultConfig()
	engineCfg.NotificationLimit = s.cfg.NotificationLimit
	engineCfg.NotificationTTL = s.cfg.NotificationTTL
	engineCfg.OnChange = sess.notify

	sess.engine = engine.New(params.RoomID, engine.Identity{
		UserID:      resp.Self.UserID,
		DisplayName: resp.Self.DisplayName,
		AvatarToken: resp.Self.AvatarToken,
	}, s.store, engineCfg, s.logger)
	sess.engine.Begin()
	sess.engine.Seed(resp.Room)
	sess.engine.RecordActivity(resp.Self.DisplayName, "joined the room")

	s.metrics.SessionOpened()
	go sess.run(snapshots, memberEvents, actions, resp.Self.IsHost)

	s.logger.DebugContext(ctx, "returned", "user_id", resp.Self.UserID, "is_host", resp.Self.IsHost)
	return sess, nil
}
