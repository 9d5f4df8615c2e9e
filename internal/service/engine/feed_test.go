package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFeedEvictsOldestBeyondLimit(t *testing.T) {
	f := NewFeed(5, 4*time.Second)
	now := time.Now()

	for i := 0; i < 8; i++ {
		f.Push(Notification{ID: fmt.Sprint(i), CreatedAt: now})
	}

	items := f.List()
	assert.Len(t, items, 5)
	assert.Equal(t, "3", items[0].ID)
	assert.Equal(t, "7", items[4].ID)
}

func TestFeedExpiresIndependentlyOfEviction(t *testing.T) {
	f := NewFeed(5, 4*time.Second)
	start := time.Now()

	f.Push(Notification{ID: "old", CreatedAt: start})
	f.Push(Notification{ID: "new", CreatedAt: start.Add(3 * time.Second)})

	assert.False(t, f.Prune(start.Add(3999*time.Millisecond)))
	assert.Len(t, f.List(), 2)

	assert.True(t, f.Prune(start.Add(4*time.Second)))
	assert.Equal(t, "new", f.List()[0].ID)

	assert.True(t, f.Prune(start.Add(7*time.Second)))
	assert.Empty(t, f.List())
}

func TestFeedDismiss(t *testing.T) {
	f := NewFeed(5, time.Second)
	f.Push(Notification{ID: "a"})
	f.Push(Notification{ID: "b"})

	assert.True(t, f.Dismiss("a"))
	assert.False(t, f.Dismiss("a"))
	assert.Equal(t, []Notification{{ID: "b"}}, f.List())
}
