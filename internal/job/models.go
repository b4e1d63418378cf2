package job

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a single invocation.
// Pending → Running → {Completed | Failed}; terminal states are final.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PlaylistStatus is the lifecycle state of a multi-item run.
type PlaylistStatus string

const (
	PlaylistPending         PlaylistStatus = "pending"
	PlaylistRunning         PlaylistStatus = "running"
	PlaylistPaused          PlaylistStatus = "paused"
	PlaylistCompleted       PlaylistStatus = "completed"
	PlaylistPartialComplete PlaylistStatus = "partial_complete"
	PlaylistFailed          PlaylistStatus = "failed"
	PlaylistCancelled       PlaylistStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s PlaylistStatus) Terminal() bool {
	switch s {
	case PlaylistCompleted, PlaylistPartialComplete, PlaylistFailed, PlaylistCancelled:
		return true
	}
	return false
}

// Context is the optional chat-platform context an invocation came from.
type Context struct {
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// Job is one durable invocation record. Created the instant a request passes
// security and validation checks; mutated only by the Manager.
type Job struct {
	ID               uuid.UUID         `json:"id"`
	Plugin           string            `json:"plugin"`
	Requester        string            `json:"requester"`
	Context          Context           `json:"context"`
	ParentPlaylistID *uuid.UUID        `json:"parent_playlist_id,omitempty"`
	Status           Status            `json:"status"`
	Params           map[string]string `json:"params"`
	Result           string            `json:"result,omitempty"`
	ErrorMessage     string            `json:"error,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

func (j *Job) clone() *Job {
	c := *j
	if j.Params != nil {
		c.Params = make(map[string]string, len(j.Params))
		for k, v := range j.Params {
			c.Params[k] = v
		}
	}
	return &c
}

// PlaylistJob is the durable aggregate record of one multi-item run. It owns
// its child Jobs for bookkeeping, but each child is independently persisted.
type PlaylistJob struct {
	ID             uuid.UUID      `json:"id"`
	Plugin         string         `json:"plugin"`
	Requester      string         `json:"requester"`
	Context        Context        `json:"context"`
	Total          int            `json:"total"`
	Completed      int            `json:"completed"`
	Failed         int            `json:"failed"`
	Skipped        int            `json:"skipped"`
	Status         PlaylistStatus `json:"status"`
	MaxItems       int            `json:"max_items"`
	CurrentChildID *uuid.UUID     `json:"current_child_id,omitempty"`
	ErrorMessage   string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CancelledAt    *time.Time     `json:"cancelled_at,omitempty"`
	CancelledBy    string         `json:"cancelled_by,omitempty"`

	// CancelRequested is in-memory only: set the moment a cancel arrives,
	// observed by the orchestrator at the next item boundary.
	CancelRequested bool `json:"-"`
}

func (p *PlaylistJob) clone() *PlaylistJob {
	c := *p
	return &c
}
