package engine

import (
	"slices"
	"time"
)

type NotificationKind string

const (
	NotificationPlay  NotificationKind = "play"
	NotificationPause NotificationKind = "pause"
	NotificationSeek  NotificationKind = "seek"
	NotificationSync  NotificationKind = "sync"
)

// Notification is a display record of a playback action. It is cosmetic and has
// no effect on playback state.
type Notification struct {
	ID          string           `json:"id"`
	Kind        NotificationKind `json:"type"`
	ActorName   string           `json:"user_name"`
	ActorAvatar string           `json:"user_avatar"`
	Position    float64          `json:"position"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Feed keeps the most recent notifications. Entries are evicted oldest first when
// the limit is reached and expire ttl after creation.
type Feed struct {
	limit int
	ttl   time.Duration
	items []Notification
}

func NewFeed(limit int, ttl time.Duration) *Feed {
	return &Feed{
		limit: limit,
		ttl:   ttl,
		items: make([]Notification, 0, limit),
	}
}

func (f *Feed) Push(n Notification) {
	if f.limit <= 0 {
		return
	}

	if len(f.items) >= f.limit {
		f.items = slices.Delete(f.items, 0, len(f.items)-f.limit+1)
	}
	f.items = append(f.items, n)
}

// Prune drops expired entries and reports whether any were dropped.
func (f *Feed) Prune(now time.Time) bool {
	before := len(f.items)
	f.items = slices.DeleteFunc(f.items, func(n Notification) bool {
		return !now.Before(n.CreatedAt.Add(f.ttl))
	})

	return len(f.items) != before
}

func (f *Feed) Dismiss(id string) bool {
	before := len(f.items)
	f.items = slices.DeleteFunc(f.items, func(n Notification) bool {
		return n.ID == id
	})

	return len(f.items) != before
}

func (f *Feed) List() []Notification {
	return slices.Clone(f.items)
}
