package engine

import (
	"github.com/sharetube/roomsync/internal/repository/action"
)

// HandleRemoteAction applies an action published by a peer. Actions sent by the
// local user and actions of an unknown kind are ignored. Telemetry only updates
// the sender's peer position.
func (e *Engine) HandleRemoteAction(a action.Action) Outcome {
	if err := a.Kind.Validate(); err != nil {
		e.logger.Warn("dropping action", "type", a.Kind, "sender_id", a.SenderID, "error", err)
		return OutcomeIgnored
	}

	e.mu.Lock()
	outcome, changed := e.handleRemoteAction(a)
	e.mu.Unlock()

	e.logger.Debug("action processed",
		"type", a.Kind,
		"sender_id", a.SenderID,
		"outcome", outcome,
	)

	if changed {
		e.cfg.OnChange()
	}

	return outcome
}

func (e *Engine) handleRemoteAction(a action.Action) (Outcome, bool) {
	if a.SenderID == e.self.UserID || e.phase != PhaseSynced {
		return OutcomeIgnored, false
	}

	now := e.cfg.Now()
	if !a.Kind.IsCommand() {
		e.peers[a.SenderID] = PeerPosition{
			UserID:      a.SenderID,
			DisplayName: a.SenderName,
			Position:    a.Position,
			Drift:       a.Position - e.positionAt(now),
			ReportedAt:  now,
		}
		return OutcomeTelemetry, true
	}

	switch a.Kind {
	case action.KindPlay, action.KindPause:
		e.setPlaying(a.Kind == action.KindPlay, now)
		e.playback.Position = a.Position
		e.anchor = now

		kind := NotificationPause
		if a.Kind == action.KindPlay {
			kind = NotificationPlay
		}
		e.pushNotification(kind, a.SenderName, a.SenderAvatar, a.Position, now)
		return OutcomeApplied, true
	case action.KindSeek:
		e.setPosition(a.Position, now)
		e.pushNotification(NotificationSeek, a.SenderName, a.SenderAvatar, a.Position, now)
		return OutcomeApplied, true
	default:
		return OutcomeSyncRequested, false
	}
}

// ObservePosition re-anchors the local clock at a position reported by the
// local player. Nothing is written to the store.
func (e *Engine) ObservePosition(position float64) {
	e.mu.Lock()
	e.playback.Position = position
	e.anchor = e.cfg.Now()
	e.mu.Unlock()
}
