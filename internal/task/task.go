package task

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status represents the lifecycle state of a background task.
type Status string

const (
	StatusPending   Status = "pending"   // Created, detached flow not yet started
	StatusRunning   Status = "running"   // Session bound, poll loop active
	StatusCompleted Status = "completed" // Session went idle (or poll budget ran out)
	StatusFailed    Status = "failed"    // Session setup or prompt dispatch failed
	StatusCancelled Status = "cancelled" // Cancelled by the caller
	StatusTimedOut  Status = "timed_out" // Poll budget ran out; only when timeouts are enabled
)

// IsTerminal reports whether no automatic transition leaves s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// IDPrefix marks identifiers of background tasks.
const IDPrefix = "bg_"

// NewID returns a fresh task identifier: the prefix followed by a lowercase
// ULID (millisecond timestamp plus random suffix).
func NewID() string {
	return IDPrefix + strings.ToLower(ulid.Make().String())
}

// IsID reports whether s has the shape of a task identifier.
func IsID(s string) bool {
	rest, ok := strings.CutPrefix(s, IDPrefix)
	if !ok {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(rest))
	return err == nil
}

// Task is a tracked unit of background work bound to a remote session.
// Values handed out by the Registry are snapshots; mutate through the Registry.
type Task struct {
	ID              string
	Description     string
	Prompt          string
	Agent           string // Persona or category the remote session runs as
	ParentSessionID string // Informational back-reference, never dereferenced
	ParentMessageID string // Informational back-reference, never dereferenced
	SessionID       string // Empty while pending; set at most once
	Status          Status
	CreatedAt       time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
	Error           string // Set only on transition into failed
	// LastMessageCount is the number of transcript messages already
	// delivered to callers.
	LastMessageCount int

	generation uint64
}

// CreateInput describes the work for a new task.
type CreateInput struct {
	Description     string
	Prompt          string
	Agent           string
	ParentSessionID string
	ParentMessageID string
}

// Duration returns how long the task has been (or was) running.
func (t Task) Duration(now time.Time) time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	if !t.CompletedAt.IsZero() && !t.CompletedAt.Before(t.StartedAt) {
		return t.CompletedAt.Sub(t.StartedAt)
	}
	return now.Sub(t.StartedAt)
}
