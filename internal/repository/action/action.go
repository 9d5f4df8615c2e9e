package action

import (
	"errors"
	"time"
)

var ErrUnknownKind = errors.New("unknown action kind")

type Kind string

const (
	KindPlay        Kind = "play"
	KindPause       Kind = "pause"
	KindSeek        Kind = "seek"
	KindRequestSync Kind = "request-sync"
	// KindTimeUpdate is position telemetry. It never mutates playback state.
	KindTimeUpdate Kind = "time-update"
)

// IsCommand reports whether receiving the action may change playback state.
func (k Kind) IsCommand() bool {
	switch k {
	case KindPlay, KindPause, KindSeek, KindRequestSync:
		return true
	}

	return false
}

func (k Kind) Validate() error {
	if k.IsCommand() || k == KindTimeUpdate {
		return nil
	}

	return ErrUnknownKind
}

// Action is an ephemeral, fire-and-forget message broadcast to room peers.
type Action struct {
	Kind         Kind      `json:"type"`
	Position     float64   `json:"position"`
	SenderID     string    `json:"user_id"`
	SenderName   string    `json:"user_name"`
	SenderAvatar string    `json:"user_avatar"`
	SentAt       time.Time `json:"sent_at"`
}
