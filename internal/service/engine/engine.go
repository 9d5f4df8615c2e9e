// Package engine reconciles one session's view of a room's playback state with
// durable room snapshots and ephemeral peer actions.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sharetube/roomsync/internal/repository/action"
	"github.com/sharetube/roomsync/internal/repository/room"
	"github.com/sharetube/roomsync/pkg/randstr"
)

var (
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrNotSynced            = errors.New("session is not synced")
)

type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseJoining
	PhaseSynced
)

func (p Phase) String() string {
	switch p {
	case PhaseJoining:
		return "joining"
	case PhaseSynced:
		return "synced"
	default:
		return "uninitialized"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

type Outcome string

const (
	OutcomeApplied       Outcome = "applied"
	OutcomeSuppressed    Outcome = "suppressed"
	OutcomeStale         Outcome = "stale"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeTelemetry     Outcome = "telemetry"
	OutcomeSyncRequested Outcome = "sync_requested"
)

type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarToken string `json:"avatar_token"`
}

// Playback is the replicated part of the room. Position is the checkpoint taken
// at the last state change; see State for the advancing position.
type Playback struct {
	VideoURL  string  `json:"video_url"`
	IsPlaying bool    `json:"is_playing"`
	Position  float64 `json:"position"`
}

type PeerPosition struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Position    float64   `json:"position"`
	// Drift is the peer position minus the local position when the report arrived.
	Drift      float64   `json:"drift"`
	ReportedAt time.Time `json:"reported_at"`
}

type Activity struct {
	Actor       string    `json:"user"`
	Description string    `json:"action"`
	At          time.Time `json:"timestamp"`
}

type State struct {
	Phase         Phase          `json:"phase"`
	Playback      Playback       `json:"playback"`
	Version       int64          `json:"version"`
	Notifications []Notification `json:"notifications"`
	Peers         []PeerPosition `json:"peers"`
	LastActivity  *Activity      `json:"last_activity"`
}

// Store is the write side of the room store the engine writes through to.
type Store interface {
	UpdateRoom(context.Context, *room.UpdateRoomParams) (int64, error)
}

type Config struct {
	NotificationLimit int
	NotificationTTL   time.Duration
	// PendingWriteTTL bounds how long an unechoed local write keeps masking its fields.
	PendingWriteTTL  time.Duration
	MaxPendingWrites int
	// Now and OnChange are optional.
	Now      func() time.Time
	OnChange func()
}

func DefaultConfig() Config {
	return Config{
		NotificationLimit: 5,
		NotificationTTL:   4 * time.Second,
		PendingWriteTTL:   10 * time.Second,
		MaxPendingWrites:  32,
	}
}

type Engine struct {
	mu       sync.Mutex
	roomID   string
	self     Identity
	phase    Phase
	playback Playback
	anchor   time.Time
	version  int64
	latest   room.Room
	pending  []pendingWrite
	feed     *Feed
	peers    map[string]PeerPosition
	activity *Activity
	store    Store
	cfg      Config
	ids      *randstr.Generator
	logger   *slog.Logger
}

func New(roomID string, self Identity, store Store, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.OnChange == nil {
		cfg.OnChange = func() {}
	}

	return &Engine{
		roomID: roomID,
		self:   self,
		feed:   NewFeed(cfg.NotificationLimit, cfg.NotificationTTL),
		peers:  make(map[string]PeerPosition),
		store:  store,
		cfg:    cfg,
		ids:    randstr.New([]byte("abcdefghijklmnopqrstuvwxyz0123456789")),
		logger: logger.With("component", "engine", "room_id", roomID, "user_id", self.UserID),
	}
}

func (e *Engine) Begin() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == PhaseUninitialized {
		e.phase = PhaseJoining
	}
}

// Seed applies the initial room snapshot read on join and moves the engine to
// PhaseSynced. Snapshots at or below its version are treated as stale afterwards.
func (e *Engine) Seed(r room.Room) {
	e.mu.Lock()
	now := e.cfg.Now()
	e.playback = Playback{
		VideoURL:  r.VideoURL,
		IsPlaying: r.IsPlaying,
		Position:  r.PlaybackPosition,
	}
	e.anchor = now
	if r.Version > e.version {
		e.version = r.Version
	}
	e.latest = r
	e.phase = PhaseSynced
	e.mu.Unlock()

	e.cfg.OnChange()
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.phase
}

func (e *Engine) Identity() Identity {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.self
}

func (e *Engine) SetIdentity(self Identity) {
	e.mu.Lock()
	e.self.DisplayName = self.DisplayName
	e.self.AvatarToken = self.AvatarToken
	e.mu.Unlock()

	e.cfg.OnChange()
}

// Playback returns the checkpointed playback state.
func (e *Engine) Playback() Playback {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.playback
}

// CurrentPosition is the checkpoint advanced by the local clock while playing.
func (e *Engine) CurrentPosition() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.positionAt(e.cfg.Now())
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Now()
	e.feed.Prune(now)

	playback := e.playback
	playback.Position = e.positionAt(now)

	peers := make([]PeerPosition, 0, len(e.peers))
	for _, p := range e.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].UserID < peers[j].UserID
	})

	var activity *Activity
	if e.activity != nil {
		a := *e.activity
		activity = &a
	}

	return State{
		Phase:         e.phase,
		Playback:      playback,
		Version:       e.version,
		Notifications: e.feed.List(),
		Peers:         peers,
		LastActivity:  activity,
	}
}

// Expire drops expired notifications and reports whether the feed changed.
func (e *Engine) Expire() bool {
	e.mu.Lock()
	changed := e.feed.Prune(e.cfg.Now())
	e.mu.Unlock()

	if changed {
		e.cfg.OnChange()
	}

	return changed
}

func (e *Engine) DismissNotification(id string) bool {
	e.mu.Lock()
	changed := e.feed.Dismiss(id)
	e.mu.Unlock()

	if changed {
		e.cfg.OnChange()
	}

	return changed
}

// Notify adds a notification attributed to the local user.
func (e *Engine) Notify(kind NotificationKind) {
	e.mu.Lock()
	now := e.cfg.Now()
	e.pushNotification(kind, e.self.DisplayName, e.self.AvatarToken, e.positionAt(now), now)
	e.mu.Unlock()

	e.cfg.OnChange()
}

func (e *Engine) RecordActivity(actor, description string) {
	e.mu.Lock()
	e.activity = &Activity{Actor: actor, Description: description, At: e.cfg.Now()}
	e.mu.Unlock()

	e.cfg.OnChange()
}

// ForgetPeer drops the telemetry of a user who left the room.
func (e *Engine) ForgetPeer(userID string) {
	e.mu.Lock()
	_, ok := e.peers[userID]
	delete(e.peers, userID)
	e.mu.Unlock()

	if ok {
		e.cfg.OnChange()
	}
}

// NewAction builds an action sent by the local user at the current position.
func (e *Engine) NewAction(kind action.Kind) action.Action {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Now()
	return e.newAction(kind, e.positionAt(now), now)
}

func (e *Engine) newAction(kind action.Kind, position float64, now time.Time) action.Action {
	return action.Action{
		Kind:         kind,
		Position:     position,
		SenderID:     e.self.UserID,
		SenderName:   e.self.DisplayName,
		SenderAvatar: e.self.AvatarToken,
		SentAt:       now,
	}
}

func (e *Engine) positionAt(now time.Time) float64 {
	if !e.playback.IsPlaying || e.anchor.IsZero() {
		return e.playback.Position
	}

	return e.playback.Position + now.Sub(e.anchor).Seconds()
}

func (e *Engine) setPlaying(playing bool, now time.Time) bool {
	if e.playback.IsPlaying == playing {
		return false
	}

	e.playback.Position = e.positionAt(now)
	e.anchor = now
	e.playback.IsPlaying = playing

	return true
}

func (e *Engine) setPosition(position float64, now time.Time) bool {
	changed := e.playback.Position != position || e.playback.IsPlaying
	e.playback.Position = position
	e.anchor = now

	return changed
}

func (e *Engine) pushNotification(kind NotificationKind, actorName, actorAvatar string, position float64, now time.Time) {
	e.feed.Prune(now)
	e.feed.Push(Notification{
		ID:          e.ids.GenerateRandomString(8),
		Kind:        kind,
		ActorName:   actorName,
		ActorAvatar: actorAvatar,
		Position:    position,
		CreatedAt:   now,
	})
}

func newWriteID() string {
	return uuid.NewString()
}
