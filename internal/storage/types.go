package storage

import (
	"errors"
	"time"

	"berealbot/internal/transport"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the snapshot store.
//
// Driver values:
//   - "file": whole-document JSON snapshot, atomically replaced on every Save
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled (memory-only registry).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Participant is the persisted form of a registered user.
//
// MediaKind/MediaRef may hold stale values from a previous round; PostedMedia
// gates all reads of them.
type Participant struct {
	ID           int64               `json:"-"`
	DisplayName  string              `json:"name"`
	RegisteredAt time.Time           `json:"registered_at"`
	PostedMedia  bool                `json:"posted_media"`
	MediaKind    transport.MediaKind `json:"media_kind,omitempty"`
	MediaRef     string              `json:"media_ref,omitempty"`
	SubmittedAt  time.Time           `json:"submitted_at"`
}

// Destination is the persisted form of a group chat target.
type Destination struct {
	ID           int64     `json:"-"`
	AddedAt      time.Time `json:"added_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Snapshot is the whole persisted state document. Every mutation overwrites
// the full document; there is no incremental format.
type Snapshot struct {
	Participants map[int64]Participant `json:"participants"`
	Destinations map[int64]Destination `json:"destinations"`
	NextCycleAt  time.Time             `json:"next_cycle_at"`
}

// Empty returns a snapshot with initialized maps.
func Empty() Snapshot {
	return Snapshot{
		Participants: map[int64]Participant{},
		Destinations: map[int64]Destination{},
	}
}
