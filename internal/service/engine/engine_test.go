package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sharetube/roomsync/internal/repository/action"
	"github.com/sharetube/roomsync/internal/repository/room"
	"github.com/sharetube/roomsync/internal/repository/room/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeStore assigns increasing versions and records every write.
type fakeStore struct {
	mu       sync.Mutex
	version  int64
	writes   []room.UpdateRoomParams
	err      error
	onUpdate func(params *room.UpdateRoomParams, version int64)
}

func (s *fakeStore) UpdateRoom(_ context.Context, params *room.UpdateRoomParams) (int64, error) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return 0, s.err
	}
	s.version++
	version := s.version
	s.writes = append(s.writes, *params)
	hook := s.onUpdate
	s.mu.Unlock()

	if hook != nil {
		hook(params, version)
	}

	return version, nil
}

func (s *fakeStore) last() room.UpdateRoomParams {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writes[len(s.writes)-1]
}

func newSyncedEngine(t *testing.T, store Store, c *clock, seed room.Room) *Engine {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Now = c.Now
	e := New("room", Identity{UserID: "me", DisplayName: "Me"}, store, cfg, discard)
	e.Begin()
	require.Equal(t, PhaseJoining, e.Phase())
	e.Seed(seed)
	require.Equal(t, PhaseSynced, e.Phase())

	return e
}

func snapshotOf(params room.UpdateRoomParams, base room.Room, version int64) room.Room {
	r := params.Apply(base)
	r.Version = version
	return r
}

func TestLocalChangeRequiresSync(t *testing.T) {
	c := newClock()
	cfg := DefaultConfig()
	cfg.Now = c.Now
	e := New("room", Identity{UserID: "me"}, &fakeStore{}, cfg, discard)

	err := e.IssueLocalChange(context.Background(), Change{IsPlaying: ptr(true)})
	assert.ErrorIs(t, err, ErrNotSynced)
	assert.Equal(t, PhaseUninitialized, e.Phase())
}

func TestOwnEchoIsSuppressed(t *testing.T) {
	c := newClock()
	store := &fakeStore{version: 1}
	e := newSyncedEngine(t, store, c, room.Room{ID: "room", Version: 1})

	err := e.IssueLocalChange(context.Background(), Change{IsPlaying: ptr(true), Position: ptr(10.0)})
	require.NoError(t, err)
	assert.True(t, e.Playback().IsPlaying)
	assert.Equal(t, 1, e.pendingCount())

	c.Advance(2 * time.Second)
	echo := snapshotOf(store.last(), room.Room{ID: "room"}, 2)
	assert.Equal(t, OutcomeSuppressed, e.ApplyDurableChange(echo))
	assert.Equal(t, 0, e.pendingCount())
	assert.InDelta(t, 12.0, e.CurrentPosition(), 1e-9)
	assert.Equal(t, int64(2), e.State().Version)
}

func TestForeignSnapshotKeepsPendingFields(t *testing.T) {
	c := newClock()
	store := &fakeStore{version: 2}
	e := newSyncedEngine(t, store, c, room.Room{ID: "room", VideoURL: "a", Version: 1})

	require.NoError(t, e.IssueLocalChange(context.Background(), Change{IsPlaying: ptr(true), Position: ptr(0.0)}))
	mine := store.last()

	// Written by a peer before our write was committed.
	other := room.Room{ID: "room", VideoURL: "b", IsPlaying: false, PlaybackPosition: 50, Version: 2, WriteID: "peer"}
	assert.Equal(t, OutcomeApplied, e.ApplyDurableChange(other))

	pb := e.Playback()
	assert.Equal(t, "b", pb.VideoURL)
	assert.True(t, pb.IsPlaying)
	assert.Equal(t, 0.0, pb.Position)

	echo := snapshotOf(mine, other, 3)
	assert.Equal(t, OutcomeSuppressed, e.ApplyDurableChange(echo))
	assert.Equal(t, 0, e.pendingCount())

	pb = e.Playback()
	assert.Equal(t, "b", pb.VideoURL)
	assert.True(t, pb.IsPlaying)
}

func TestStaleSnapshotIsDropped(t *testing.T) {
	c := newClock()
	e := newSyncedEngine(t, &fakeStore{}, c, room.Room{ID: "room", VideoURL: "new", Version: 5})

	outcome := e.ApplyDurableChange(room.Room{ID: "room", VideoURL: "old", Version: 4, WriteID: "x"})
	assert.Equal(t, OutcomeStale, outcome)
	assert.Equal(t, "new", e.Playback().VideoURL)

	outcome = e.ApplyDurableChange(room.Room{ID: "room", VideoURL: "same", Version: 5})
	assert.Equal(t, OutcomeStale, outcome)
	assert.Equal(t, "new", e.Playback().VideoURL)
}

func TestUntaggedSnapshotConsumesOnePendingWrite(t *testing.T) {
	c := newClock()
	store := &fakeStore{version: 10}
	e := newSyncedEngine(t, store, c, room.Room{ID: "room", Version: 1})

	require.NoError(t, e.IssueLocalChange(context.Background(), Change{VideoURL: ptr("mine")}))

	assert.Equal(t, OutcomeSuppressed, e.ApplyDurableChange(room.Room{ID: "room", VideoURL: "theirs", Version: 2}))
	assert.Equal(t, "mine", e.Playback().VideoURL)
	assert.Equal(t, 0, e.pendingCount())

	assert.Equal(t, OutcomeApplied, e.ApplyDurableChange(room.Room{ID: "room", VideoURL: "theirs", Version: 3}))
	assert.Equal(t, "theirs", e.Playback().VideoURL)
}

func TestWriteFailureKeepsOptimisticValue(t *testing.T) {
	c := newClock()
	store := &fakeStore{err: errors.New("connection refused")}
	e := newSyncedEngine(t, store, c, room.Room{ID: "room", Version: 1})

	err := e.IssueLocalChange(context.Background(), Change{VideoURL: ptr("mine")})
	require.ErrorIs(t, err, ErrTransportUnavailable)
	assert.Equal(t, "mine", e.Playback().VideoURL)
	assert.Equal(t, 0, e.pendingCount())

	assert.Equal(t, OutcomeApplied, e.ApplyDurableChange(room.Room{ID: "room", VideoURL: "theirs", Version: 2}))
	assert.Equal(t, "theirs", e.Playback().VideoURL)
}

func TestEchoBeforeAck(t *testing.T) {
	c := newClock()
	store := &fakeStore{}
	e := newSyncedEngine(t, store, c, room.Room{ID: "room", Version: 0})

	var outcome Outcome
	store.onUpdate = func(params *room.UpdateRoomParams, version int64) {
		outcome = e.ApplyDurableChange(snapshotOf(*params, room.Room{ID: "room"}, version))
	}

	require.NoError(t, e.IssueLocalChange(context.Background(), Change{Position: ptr(30.0)}))
	assert.Equal(t, OutcomeSuppressed, outcome)
	assert.Equal(t, 0, e.pendingCount())
}

func TestSupersededWriteIsRetired(t *testing.T) {
	c := newClock()
	store := &fakeStore{}
	e := newSyncedEngine(t, store, c, room.Room{ID: "room"})

	require.NoError(t, e.IssueLocalChange(context.Background(), Change{Position: ptr(30.0)}))
	require.Equal(t, 1, e.pendingCount())

	// The echo of version 1 was coalesced away; version 2 comes from a peer.
	outcome := e.ApplyDurableChange(room.Room{ID: "room", PlaybackPosition: 45, Version: 2, WriteID: "peer"})
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 0, e.pendingCount())
	assert.Equal(t, 45.0, e.Playback().Position)
}

func TestLateAckTakesSupersedingSnapshot(t *testing.T) {
	c := newClock()
	store := &fakeStore{}
	e := newSyncedEngine(t, store, c, room.Room{ID: "room"})

	// A peer's later write is delivered before our write is acknowledged.
	store.onUpdate = func(params *room.UpdateRoomParams, version int64) {
		peer := room.Room{ID: "room", PlaybackPosition: 80, Version: version + 1, WriteID: "peer"}
		assert.Equal(t, OutcomeApplied, e.ApplyDurableChange(peer))
		assert.Equal(t, 30.0, e.Playback().Position)
	}

	require.NoError(t, e.IssueLocalChange(context.Background(), Change{Position: ptr(30.0)}))
	assert.Equal(t, 0, e.pendingCount())
	assert.Equal(t, 80.0, e.Playback().Position)
}

func TestUnechoedWriteExpires(t *testing.T) {
	c := newClock()
	store := &fakeStore{version: 200}
	e := newSyncedEngine(t, store, c, room.Room{ID: "room", Version: 100})

	require.NoError(t, e.IssueLocalChange(context.Background(), Change{VideoURL: ptr("mine")}))
	c.Advance(DefaultConfig().PendingWriteTTL + time.Second)

	outcome := e.ApplyDurableChange(room.Room{ID: "room", VideoURL: "theirs", Version: 101, WriteID: "peer"})
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, "theirs", e.Playback().VideoURL)
}

func TestAckAtLastSeenVersionKeepsWrite(t *testing.T) {
	c := newClock()
	store := &fakeStore{}
	e := newSyncedEngine(t, store, c, room.Room{ID: "room", PlaybackPosition: 10, Version: 1})

	// The store commits our write as version 1, the version the seed carried.
	require.NoError(t, e.IssueLocalChange(context.Background(), Change{IsPlaying: ptr(true)}))
	assert.True(t, e.Playback().IsPlaying)
	assert.Equal(t, 1, e.pendingCount())

	outcome := e.ApplyDurableChange(room.Room{ID: "room", PlaybackPosition: 40, Version: 2, WriteID: "peer"})
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 0, e.pendingCount())
	assert.Equal(t, 40.0, e.Playback().Position)
}

func TestPositionAdvancesOnlyWhilePlaying(t *testing.T) {
	c := newClock()
	e := newSyncedEngine(t, &fakeStore{version: 1}, c, room.Room{ID: "room", PlaybackPosition: 10, Version: 1})

	c.Advance(5 * time.Second)
	assert.Equal(t, 10.0, e.CurrentPosition())

	require.NoError(t, e.IssueLocalChange(context.Background(), Change{IsPlaying: ptr(true)}))
	c.Advance(5 * time.Second)
	assert.InDelta(t, 15.0, e.CurrentPosition(), 1e-9)

	require.NoError(t, e.IssueLocalChange(context.Background(), Change{IsPlaying: ptr(false)}))
	c.Advance(5 * time.Second)
	assert.InDelta(t, 15.0, e.CurrentPosition(), 1e-9)
	assert.InDelta(t, 15.0, e.Playback().Position, 1e-9)

	e.ObservePosition(3)
	assert.Equal(t, 3.0, e.CurrentPosition())
}

func TestRemoteActions(t *testing.T) {
	c := newClock()
	e := newSyncedEngine(t, &fakeStore{version: 1}, c, room.Room{ID: "room", Version: 1})

	self := action.Action{Kind: action.KindSeek, Position: 99, SenderID: "me"}
	assert.Equal(t, OutcomeIgnored, e.HandleRemoteAction(self))

	rewind := action.Action{Kind: "rewind", Position: 99, SenderID: "bob", SenderName: "Bob"}
	assert.Equal(t, OutcomeIgnored, e.HandleRemoteAction(rewind))
	assert.Empty(t, e.State().Peers)
	assert.Equal(t, 0.0, e.Playback().Position)
	assert.Empty(t, e.State().Notifications)

	play := action.Action{Kind: action.KindPlay, Position: 20, SenderID: "bob", SenderName: "Bob"}
	assert.Equal(t, OutcomeApplied, e.HandleRemoteAction(play))
	assert.True(t, e.Playback().IsPlaying)
	assert.Equal(t, 20.0, e.Playback().Position)

	state := e.State()
	require.Len(t, state.Notifications, 1)
	assert.Equal(t, NotificationPlay, state.Notifications[0].Kind)
	assert.Equal(t, "Bob", state.Notifications[0].ActorName)

	c.Advance(time.Second)
	tick := action.Action{Kind: action.KindTimeUpdate, Position: 22, SenderID: "bob", SenderName: "Bob"}
	before := e.Playback()
	assert.Equal(t, OutcomeTelemetry, e.HandleRemoteAction(tick))
	assert.Equal(t, before, e.Playback())

	state = e.State()
	require.Len(t, state.Peers, 1)
	assert.InDelta(t, 1.0, state.Peers[0].Drift, 1e-9)
	assert.Len(t, state.Notifications, 1)

	req := action.Action{Kind: action.KindRequestSync, SenderID: "bob"}
	assert.Equal(t, OutcomeSyncRequested, e.HandleRemoteAction(req))

	pause := action.Action{Kind: action.KindPause, Position: 25, SenderID: "bob", SenderName: "Bob"}
	assert.Equal(t, OutcomeApplied, e.HandleRemoteAction(pause))
	assert.False(t, e.Playback().IsPlaying)
	assert.Equal(t, 25.0, e.CurrentPosition())

	e.ForgetPeer("bob")
	assert.Empty(t, e.State().Peers)
}

func TestNotificationsExpireAndDismiss(t *testing.T) {
	c := newClock()
	changes := 0
	cfg := DefaultConfig()
	cfg.Now = c.Now
	cfg.OnChange = func() { changes++ }
	e := New("room", Identity{UserID: "me", DisplayName: "Me"}, &fakeStore{}, cfg, discard)
	e.Begin()
	e.Seed(room.Room{ID: "room"})

	for i := 0; i < 7; i++ {
		e.HandleRemoteAction(action.Action{Kind: action.KindSeek, Position: float64(i), SenderID: "bob"})
	}
	notifications := e.State().Notifications
	require.Len(t, notifications, 5)
	assert.Equal(t, 2.0, notifications[0].Position)

	assert.True(t, e.DismissNotification(notifications[0].ID))
	assert.False(t, e.DismissNotification(notifications[0].ID))
	assert.Len(t, e.State().Notifications, 4)

	before := changes
	c.Advance(4 * time.Second)
	assert.True(t, e.Expire())
	assert.False(t, e.Expire())
	assert.Equal(t, before+1, changes)
	assert.Empty(t, e.State().Notifications)
}

func TestActivityAndIdentity(t *testing.T) {
	c := newClock()
	e := newSyncedEngine(t, &fakeStore{}, c, room.Room{ID: "room"})

	assert.Nil(t, e.State().LastActivity)
	e.RecordActivity("Bob", "joined the room")
	require.NotNil(t, e.State().LastActivity)
	assert.Equal(t, "Bob", e.State().LastActivity.Actor)

	e.SetIdentity(Identity{DisplayName: "Renamed", AvatarToken: "cat"})
	id := e.Identity()
	assert.Equal(t, "me", id.UserID)
	assert.Equal(t, "Renamed", id.DisplayName)

	a := e.NewAction(action.KindSeek)
	assert.Equal(t, "me", a.SenderID)
	assert.Equal(t, "Renamed", a.SenderName)
	assert.Equal(t, "cat", a.SenderAvatar)

	e.Notify(NotificationSync)
	require.Len(t, e.State().Notifications, 1)
	assert.Equal(t, "Renamed", e.State().Notifications[0].ActorName)
}

func TestConcurrentWritersConverge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := inmemory.NewRepo(discard)
	initial, err := repo.CreateRoom(ctx, &room.CreateRoomParams{RoomID: "room", CreatedAt: time.Now()})
	require.NoError(t, err)

	engines := make([]*Engine, 3)
	var wg sync.WaitGroup
	for i := range engines {
		cfg := DefaultConfig()
		e := New("room", Identity{UserID: string(rune('a' + i))}, repo, cfg, discard)
		e.Begin()

		snapshots, err := repo.SubscribeRoom(ctx, "room")
		require.NoError(t, err)
		e.Seed(initial)
		engines[i] = e

		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range snapshots {
				e.ApplyDurableChange(r)
			}
		}()
	}

	var writers sync.WaitGroup
	for i, e := range engines {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for j := 0; j < 20; j++ {
				pos := float64(i*100 + j)
				_ = e.IssueLocalChange(ctx, Change{Position: &pos, IsPlaying: ptr(j%2 == 0)})
			}
		}()
	}
	writers.Wait()

	final, err := repo.GetRoom(ctx, "room")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, e := range engines {
			pb := e.Playback()
			if e.State().Version != final.Version || pb.Position != final.PlaybackPosition || pb.IsPlaying != final.IsPlaying {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()
}
