package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sharetube/roomsync/internal/metrics"
	"github.com/sharetube/roomsync/internal/repository/action"
	"github.com/sharetube/roomsync/internal/repository/room"
	"github.com/sharetube/roomsync/internal/service/engine"
	"github.com/sharetube/roomsync/internal/service/presence"
)

// State is everything a client renders for a room.
type State struct {
	RoomID  string        `json:"room_id"`
	Self    room.Member   `json:"self"`
	Members []room.Member `json:"members"`
	engine.State
}

type Session struct {
	roomID   string
	engine   *engine.Engine
	presence *presence.Registry
	store    iRoomRepo
	bus      iActionBus
	cfg      Config
	metrics  *metrics.Collector
	logger   *slog.Logger

	updates chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	errMu sync.Mutex
	err   error
}

func (s *Session) Self() room.Member {
	return s.presence.Self()
}

func (s *Session) State() State {
	return State{
		RoomID:  s.roomID,
		Self:    s.presence.Self(),
		Members: s.presence.Members(),
		State:   s.engine.State(),
	}
}

// Updates signals that State may have changed. Signals are coalesced.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// Done is closed once the session has stopped and left the room.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason a session stopped on its own, or nil.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	return s.err
}

// Close stops the session and waits for its membership row to be removed.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

func (s *Session) LoadVideo(ctx context.Context, videoURL string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.engine.IssueLocalChange(ctx, engine.Change{VideoURL: &videoURL})
	s.engine.RecordActivity(s.engine.Identity().DisplayName, "changed the video")

	return s.writeResult(err)
}

// SetPlaying stores the playing flag together with a position checkpoint and
// announces the change to peers.
func (s *Session) SetPlaying(ctx context.Context, playing bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	position := s.engine.CurrentPosition()
	err := s.engine.IssueLocalChange(ctx, engine.Change{IsPlaying: &playing, Position: &position})

	kind, description := action.KindPause, "paused playback"
	if playing {
		kind, description = action.KindPlay, "started playback"
	}
	s.engine.RecordActivity(s.engine.Identity().DisplayName, description)
	s.publish(ctx, s.engine.NewAction(kind))

	return s.writeResult(err)
}

func (s *Session) Seek(ctx context.Context, position float64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.engine.IssueLocalChange(ctx, engine.Change{Position: &position})
	s.engine.RecordActivity(s.engine.Identity().DisplayName, "seeked the video")
	s.publish(ctx, s.engine.NewAction(action.KindSeek))

	return s.writeResult(err)
}

// RequestSync asks peers to publish their position. There is no reply; peers
// answer with a seek action according to their responder policy.
func (s *Session) RequestSync(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.publish(ctx, s.engine.NewAction(action.KindRequestSync))
	return nil
}

// ForceSync moves every peer to the local position without a durable write.
func (s *Session) ForceSync(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.publish(ctx, s.engine.NewAction(action.KindSeek))
	s.engine.Notify(engine.NotificationSync)
	s.engine.RecordActivity(s.engine.Identity().DisplayName, "synced everyone")

	return nil
}

func (s *Session) Rename(ctx context.Context, displayName string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	self, err := s.presence.Rename(ctx, displayName)
	if err != nil {
		s.metrics.TransportFailed("update_member")
		return fmt.Errorf("%w: %w", engine.ErrTransportUnavailable, err)
	}

	s.engine.SetIdentity(engine.Identity{
		DisplayName: self.DisplayName,
		AvatarToken: self.AvatarToken,
	})
	s.engine.RecordActivity(self.DisplayName, "changed their name")

	return nil
}

func (s *Session) UpdateAvatar(ctx context.Context, avatarToken string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	self, err := s.presence.UpdateAvatar(ctx, avatarToken)
	if err != nil {
		s.metrics.TransportFailed("update_member")
		return fmt.Errorf("%w: %w", engine.ErrTransportUnavailable, err)
	}

	s.engine.SetIdentity(engine.Identity{
		DisplayName: self.DisplayName,
		AvatarToken: self.AvatarToken,
	})

	return nil
}

// ReportPosition re-anchors the local clock at the position the client's
// player reports. Peers learn it through the next telemetry tick.
func (s *Session) ReportPosition(position float64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.engine.ObservePosition(position)
	return nil
}

func (s *Session) DismissNotification(id string) bool {
	return s.engine.DismissNotification(id)
}

func (s *Session) checkOpen() error {
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}

	return nil
}

func (s *Session) writeResult(err error) error {
	if err != nil {
		s.metrics.TransportFailed("update_room")
	}

	return err
}

// publish is fire-and-forget. A failed publish is only logged.
func (s *Session) publish(ctx context.Context, a action.Action) {
	if err := s.bus.Publish(ctx, s.roomID, a); err != nil {
		s.metrics.TransportFailed("publish")
		s.logger.WarnContext(ctx, "failed to publish action", "type", a.Kind, "error", err)
		return
	}

	s.metrics.ActionPublished(string(a.Kind))
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Session) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()

	s.cancel()
}

func (s *Session) run(snapshots <-chan room.Room, memberEvents <-chan room.MemberEvent, actions <-chan action.Action, isHost bool) {
	defer close(s.done)
	defer s.teardown()

	prune := time.NewTicker(s.cfg.PruneInterval)
	defer prune.Stop()

	telemetry := time.NewTicker(s.cfg.TelemetryInterval)
	defer telemetry.Stop()

	var keepAlive <-chan time.Time
	if s.cfg.KeepAliveInterval > 0 {
		t := time.NewTicker(s.cfg.KeepAliveInterval)
		defer t.Stop()
		keepAlive = t.C
	}

	var joinSync <-chan time.Time
	if !isHost {
		t := time.NewTimer(s.cfg.JoinSyncDelay)
		defer t.Stop()
		joinSync = t.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case r, ok := <-snapshots:
			if !ok {
				s.streamClosed("room")
				return
			}
			s.handleSnapshot(r)
		case ev, ok := <-memberEvents:
			if !ok {
				s.streamClosed("members")
				return
			}
			s.handleMemberEvent(ev)
		case a, ok := <-actions:
			if !ok {
				s.streamClosed("actions")
				return
			}
			s.handleAction(a, isHost)
		case <-prune.C:
			s.engine.Expire()
		case <-telemetry.C:
			if s.engine.Playback().IsPlaying {
				s.publish(s.ctx, s.engine.NewAction(action.KindTimeUpdate))
			}
		case <-keepAlive:
			if err := s.keepAlive(); err != nil {
				s.fail(err)
				return
			}
		case <-joinSync:
			joinSync = nil
			s.publish(s.ctx, s.engine.NewAction(action.KindRequestSync))
		}
	}
}

// keepAlive fails only when the room row is gone. Other errors are retried on
// the next tick.
func (s *Session) keepAlive() error {
	err := s.store.KeepAlive(s.ctx, &room.KeepAliveParams{
		RoomID: s.roomID,
		UserID: s.presence.Self().UserID,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, room.ErrRoomNotFound):
		s.logger.Warn("room expired")
		return fmt.Errorf("room %s expired: %w", s.roomID, err)
	default:
		s.metrics.TransportFailed("keep_alive")
		s.logger.Warn("failed to keep room alive", "error", err)
		return nil
	}
}

func (s *Session) streamClosed(stream string) {
	if s.ctx.Err() != nil {
		return
	}

	s.logger.Warn("subscription closed", "stream", stream)
	s.fail(fmt.Errorf("%w: %s stream closed", ErrSubscriptionLost, stream))
}

func (s *Session) teardown() {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.cfg.LeaveTimeout)
	defer cancel()

	if err := s.presence.Leave(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to leave room", "error", err)
	}

	s.metrics.SessionClosed()
	s.notify()
}

func (s *Session) handleSnapshot(r room.Room) {
	outcome := s.engine.ApplyDurableChange(r)
	s.metrics.SnapshotProcessed(string(outcome))
}

func (s *Session) handleMemberEvent(ev room.MemberEvent) {
	if !s.presence.Apply(ev) {
		return
	}

	switch ev.Kind {
	case room.MemberAdded:
		s.engine.RecordActivity(ev.Member.DisplayName, "joined the room")
	case room.MemberRemoved:
		s.engine.ForgetPeer(ev.Member.UserID)
		if ev.Member.DisplayName != "" {
			s.engine.RecordActivity(ev.Member.DisplayName, "left the room")
		}
	default:
		s.notify()
	}
}

func (s *Session) handleAction(a action.Action, isHost bool) {
	outcome := s.engine.HandleRemoteAction(a)
	s.metrics.ActionReceived(string(a.Kind), string(outcome))

	if outcome != engine.OutcomeSyncRequested {
		return
	}

	switch s.cfg.Responder {
	case ResponderAll:
	case ResponderHost:
		if !isHost {
			return
		}
	default:
		return
	}

	s.logger.Debug("answering sync request", "requester_id", a.SenderID)
	s.publish(s.ctx, s.engine.NewAction(action.KindSeek))
}
