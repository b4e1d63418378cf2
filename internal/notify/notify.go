// Package notify is the narrow surface the core emits state changes
// through. It never formats or delivers a user-facing message; a
// presentation layer subscribes and renders.
package notify

import (
	"time"

	"github.com/google/uuid"
)

// EventKind discriminates the three notifications the core emits.
type EventKind string

const (
	KindJobCreated       EventKind = "job_created"
	KindJobStatus        EventKind = "job_status"
	KindPlaylistProgress EventKind = "playlist_progress"
)

// Progress is the aggregate state of a playlist at one item boundary.
type Progress struct {
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Total       int           `json:"total"`
	CurrentItem string        `json:"current_item,omitempty"`
	ETA         time.Duration `json:"eta_ns,omitempty"`
	Status      string        `json:"status"`
}

// Event is one notification. JobID or PlaylistID is set depending on Kind.
type Event struct {
	Kind       EventKind `json:"kind"`
	JobID      uuid.UUID `json:"job_id,omitempty"`
	PlaylistID uuid.UUID `json:"playlist_id,omitempty"`
	Plugin     string    `json:"plugin,omitempty"`
	Status     string    `json:"status,omitempty"`
	Preview    string    `json:"preview,omitempty"`
	Error      string    `json:"error,omitempty"`
	Progress   *Progress `json:"progress,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notifier receives state changes from the job manager and the playlist
// orchestrator.
type Notifier interface {
	JobCreated(id uuid.UUID, pluginName string)
	JobStatusChanged(id uuid.UUID, pluginName, status, preview, errMsg string)
	PlaylistProgress(id uuid.UUID, p Progress)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) JobCreated(uuid.UUID, string)                          {}
func (Nop) JobStatusChanged(uuid.UUID, string, string, string, string) {}
func (Nop) PlaylistProgress(uuid.UUID, Progress)                  {}
