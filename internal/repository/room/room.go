package room

import "time"

// Room is the durable playback record shared by every session of a room.
// PlaybackPosition is a checkpoint valid at UpdatedAt, not a live clock.
type Room struct {
	ID               string    `json:"id"`
	VideoURL         string    `json:"video_url"`
	IsPlaying        bool      `json:"is_playing"`
	PlaybackPosition float64   `json:"playback_position"`
	UpdatedAt        time.Time `json:"updated_at"`
	CreatedAt        time.Time `json:"created_at"`
	// Version is assigned by the store and grows with every committed write.
	Version int64 `json:"version"`
	// WriteID echoes the id the writer of the committed write attached to it.
	WriteID string `json:"write_id,omitempty"`
}
