package task

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSessionAlreadyBound is returned when a task already carries a
// different session identifier.
var ErrSessionAlreadyBound = errors.New("task already bound to a session")

// ErrNotFound is returned by registry operations on unknown task IDs.
var ErrNotFound = errors.New("task not found")

// Registry owns every task record of one orchestrator instance and is the
// only mutator of status, session, error and timestamp fields. All methods
// are safe for concurrent use; each mutation happens in one critical section.
type Registry struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	order    []string // insertion order for stable listing
	sessions *SessionSet
	now      func() time.Time
}

// NewRegistry creates an empty registry with its own subagent session set.
func NewRegistry() *Registry {
	return &Registry{
		tasks:    make(map[string]*Task),
		sessions: NewSessionSet(),
		now:      time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// SubagentSessions returns the shared set of background session IDs.
// Every call returns the same set.
func (r *Registry) SubagentSessions() *SessionSet {
	return r.sessions
}

// Create allocates a fresh ID, stores a pending task and returns a snapshot.
func (r *Registry) Create(in CreateInput) Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := &Task{
		ID:              NewID(),
		Description:     in.Description,
		Prompt:          in.Prompt,
		Agent:           in.Agent,
		ParentSessionID: in.ParentSessionID,
		ParentMessageID: in.ParentMessageID,
		Status:          StatusPending,
		CreatedAt:       r.now(),
	}
	r.tasks[t.ID] = t
	r.order = append(r.order, t.ID)
	return *t
}

// Get returns a snapshot of the task, or false if the ID is unknown.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// List returns snapshots of all tasks in creation order.
func (r *Registry) List() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Task, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.tasks[id])
	}
	return out
}

// Counts returns the number of tasks per status.
func (r *Registry) Counts() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[Status]int)
	for _, t := range r.tasks {
		counts[t.Status]++
	}
	return counts
}

// MarkRunning moves a pending task to running. Returns false if the task is
// unknown or no longer pending (e.g. cancelled before its flow started).
func (r *Registry) MarkRunning(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != StatusPending {
		return false
	}
	t.Status = StatusRunning
	t.StartedAt = r.now()
	return true
}

// BindSession records the remote session of a task and registers it as a
// subagent session. Binding the same session again is a no-op.
func (r *Registry) BindSession(id, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("bind session %q: %w: %s", sessionID, ErrNotFound, id)
	}
	if t.SessionID != "" && t.SessionID != sessionID {
		return fmt.Errorf("bind session %q to task %s (has %q): %w", sessionID, id, t.SessionID, ErrSessionAlreadyBound)
	}
	t.SessionID = sessionID
	r.sessions.Add(sessionID)
	return nil
}

// Complete moves a running task to completed. The transition only happens
// while gen is still the task's current generation, so a poll loop retired
// by Resume cannot finish the task behind the new loop's back.
func (r *Registry) Complete(id string, gen uint64) bool {
	return r.finish(id, gen, StatusCompleted)
}

// TimeOut moves a running task to timed_out under the same rules as Complete.
func (r *Registry) TimeOut(id string, gen uint64) bool {
	return r.finish(id, gen, StatusTimedOut)
}

func (r *Registry) finish(id string, gen uint64, to Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != StatusRunning || t.generation != gen {
		return false
	}
	t.Status = to
	t.CompletedAt = r.now()
	return true
}

// Fail moves a pending or running task to failed with the given reason.
// A task that was cancelled or already finished keeps its status.
func (r *Registry) Fail(id string, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || (t.Status != StatusPending && t.Status != StatusRunning) {
		return false
	}
	t.Status = StatusFailed
	t.Error = reason
	t.CompletedAt = r.now()
	return true
}

// Cancel unconditionally marks the task cancelled and returns the updated
// snapshot. Returns false only for unknown IDs.
func (r *Registry) Cancel(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	t.Status = StatusCancelled
	t.CompletedAt = r.now()
	return *t, true
}

// Reopen puts a task with an existing session back into running with a new
// prompt, and returns the snapshot plus the generation the caller's poll
// loop must carry. Returns false if the task is unknown or has no session.
func (r *Registry) Reopen(id, prompt string) (Task, uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.SessionID == "" {
		return Task{}, 0, false
	}
	t.Prompt = prompt
	t.Status = StatusRunning
	t.StartedAt = r.now()
	t.Error = ""
	t.generation++
	r.sessions.Add(t.SessionID)
	return *t, t.generation, true
}

// Generation returns the current poll-loop generation of the task.
func (r *Registry) Generation(id string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return 0, false
	}
	return t.generation, true
}

// Driving reports whether a poll loop of generation gen should keep going:
// the task is running and no later loop has replaced it.
func (r *Registry) Driving(id string, gen uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return ok && t.Status == StatusRunning && t.generation == gen
}

// AdvanceWatermark moves LastMessageCount from `from` to `to`. It fails if
// another caller already moved the watermark or if `to` does not increase it.
func (r *Registry) AdvanceWatermark(id string, from, to int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.LastMessageCount != from || to <= from {
		return false
	}
	t.LastMessageCount = to
	return true
}
