package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sharetube/roomsync/internal/repository/room"
)

type field uint8

const (
	fieldVideoURL field = 1 << iota
	fieldIsPlaying
	fieldPosition

	allFields = fieldVideoURL | fieldIsPlaying | fieldPosition
)

// Change is a partial update of the durable playback state. Nil fields are left
// untouched.
type Change struct {
	VideoURL  *string
	IsPlaying *bool
	Position  *float64
}

func (c Change) mask() field {
	var m field
	if c.VideoURL != nil {
		m |= fieldVideoURL
	}
	if c.IsPlaying != nil {
		m |= fieldIsPlaying
	}
	if c.Position != nil {
		m |= fieldPosition
	}

	return m
}

// pendingWrite is a local write whose echo has not been observed yet. version
// stays zero until the store acknowledges the write.
type pendingWrite struct {
	id       string
	fields   field
	version  int64
	issuedAt time.Time
}

// IssueLocalChange applies c optimistically and writes it through to the store.
// On a store failure the optimistic value is kept and the returned error wraps
// ErrTransportUnavailable.
func (e *Engine) IssueLocalChange(ctx context.Context, c Change) error {
	mask := c.mask()
	if mask == 0 {
		return nil
	}

	e.mu.Lock()
	if e.phase != PhaseSynced {
		e.mu.Unlock()
		return ErrNotSynced
	}

	now := e.cfg.Now()
	if c.VideoURL != nil {
		e.playback.VideoURL = *c.VideoURL
	}
	if c.IsPlaying != nil {
		e.setPlaying(*c.IsPlaying, now)
	}
	if c.Position != nil {
		e.playback.Position = *c.Position
		e.anchor = now
	}

	writeID := newWriteID()
	e.pending = append(e.pending, pendingWrite{id: writeID, fields: mask, issuedAt: now})
	if over := len(e.pending) - e.cfg.MaxPendingWrites; e.cfg.MaxPendingWrites > 0 && over > 0 {
		e.pending = e.pending[over:]
	}

	params := room.UpdateRoomParams{
		RoomID:           e.roomID,
		WriteID:          writeID,
		VideoURL:         c.VideoURL,
		IsPlaying:        c.IsPlaying,
		PlaybackPosition: c.Position,
		UpdatedAt:        now,
	}
	e.mu.Unlock()

	e.cfg.OnChange()

	version, err := e.store.UpdateRoom(ctx, &params)
	if err != nil {
		e.mu.Lock()
		e.removePending(writeID)
		e.mu.Unlock()

		e.logger.WarnContext(ctx, "durable write failed", "write_id", writeID, "error", err)
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	e.mu.Lock()
	changed := e.ackPending(writeID, version)
	e.mu.Unlock()

	if changed {
		e.cfg.OnChange()
	}

	return nil
}

// ApplyDurableChange reconciles a room snapshot delivered by the store.
func (e *Engine) ApplyDurableChange(r room.Room) Outcome {
	e.mu.Lock()
	outcome, changed := e.applyDurableChange(r)
	e.mu.Unlock()

	e.logger.Debug("snapshot processed",
		"version", r.Version,
		"write_id", r.WriteID,
		"outcome", outcome,
	)

	if changed {
		e.cfg.OnChange()
	}

	return outcome
}

func (e *Engine) applyDurableChange(r room.Room) (Outcome, bool) {
	if e.phase != PhaseSynced {
		return OutcomeIgnored, false
	}

	now := e.cfg.Now()
	e.retirePending(r.Version, now)

	if r.Version <= e.version {
		if r.WriteID != "" {
			e.removePending(r.WriteID)
		}
		return OutcomeStale, false
	}
	e.version = r.Version
	e.latest = r

	// Snapshots without a write id come from writers that do not tag their
	// writes. Any pending local write is assumed to be the source.
	if r.WriteID == "" {
		if len(e.pending) > 0 {
			e.pending = e.pending[1:]
			return OutcomeSuppressed, false
		}
		return OutcomeApplied, e.applySnapshot(r, 0, now)
	}

	var (
		matched bool
		skip    field
	)
	for i, p := range e.pending {
		if p.id == r.WriteID {
			matched = true
			skip |= p.fields
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			break
		}
	}
	for _, p := range e.pending {
		skip |= p.fields
	}

	changed := e.applySnapshot(r, skip, now)
	if matched {
		return OutcomeSuppressed, changed
	}

	return OutcomeApplied, changed
}

func (e *Engine) applySnapshot(r room.Room, skip field, now time.Time) bool {
	changed := false

	if skip&fieldVideoURL == 0 && e.playback.VideoURL != r.VideoURL {
		e.playback.VideoURL = r.VideoURL
		changed = true
	}
	if skip&fieldIsPlaying == 0 && e.setPlaying(r.IsPlaying, now) {
		changed = true
	}
	if skip&fieldPosition == 0 && e.setPosition(r.PlaybackPosition, now) {
		changed = true
	}

	return changed
}

// retirePending drops acknowledged writes that a newer snapshot has superseded
// and writes that were never echoed within the pending TTL.
func (e *Engine) retirePending(version int64, now time.Time) {
	kept := e.pending[:0]
	for _, p := range e.pending {
		if p.version != 0 && p.version < version {
			continue
		}
		if e.cfg.PendingWriteTTL > 0 && now.Sub(p.issuedAt) > e.cfg.PendingWriteTTL {
			continue
		}
		kept = append(kept, p)
	}
	e.pending = kept
}

// ackPending records the committed version of a pending write. A write that an
// already processed snapshot supersedes is dropped, and the fields it masked are
// taken from that snapshot. A version equal to the last seen one belongs to this
// write, since two writes never share a version.
func (e *Engine) ackPending(id string, version int64) bool {
	for i := range e.pending {
		if e.pending[i].id != id {
			continue
		}
		if version >= e.version {
			e.pending[i].version = version
			return false
		}

		fields := e.pending[i].fields
		e.pending = append(e.pending[:i], e.pending[i+1:]...)
		for _, p := range e.pending {
			fields &^= p.fields
		}
		if fields == 0 {
			return false
		}
		return e.applySnapshot(e.latest, allFields&^fields, e.cfg.Now())
	}

	return false
}

func (e *Engine) removePending(id string) {
	for i, p := range e.pending {
		if p.id == id {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return
		}
	}
}

func (e *Engine) pendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.pending)
}
