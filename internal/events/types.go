package events

import (
	"time"

	"github.com/aristath/subagents/internal/task"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// StateEvent is implemented by events that carry the task snapshot taken
// right after a lifecycle transition.
type StateEvent interface {
	Event
	Snapshot() task.Task
}

// Topic constants
const (
	TopicTask     = "task"
	TopicProgress = "progress"
)

// Event type constants
const (
	EventTypeTaskLaunched  = "task.launched"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskOutput    = "task.output"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskCancelled = "task.cancelled"
	EventTypeTaskResumed   = "task.resumed"
	EventTypeTaskTimedOut  = "task.timed_out"
	EventTypeTasksProgress = "tasks.progress"
)

// TaskLaunchedEvent is published when a pending task is registered.
type TaskLaunchedEvent struct {
	Task      task.Task
	Timestamp time.Time
}

func (e TaskLaunchedEvent) EventType() string   { return EventTypeTaskLaunched }
func (e TaskLaunchedEvent) TaskID() string      { return e.Task.ID }
func (e TaskLaunchedEvent) Snapshot() task.Task { return e.Task }

// TaskStartedEvent is published once a task's session is bound and the
// initial prompt has been dispatched.
type TaskStartedEvent struct {
	Task      task.Task
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string   { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string      { return e.Task.ID }
func (e TaskStartedEvent) Snapshot() task.Task { return e.Task }

// TaskOutputEvent is published when new transcript output is delivered.
type TaskOutputEvent struct {
	ID string
	// From and To delimit the delivered messages: transcript[From:To].
	From      int
	To        int
	Chunk     string
	Timestamp time.Time
}

func (e TaskOutputEvent) EventType() string { return EventTypeTaskOutput }
func (e TaskOutputEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task's session goes idle, or the
// poll budget runs out while timeouts are not tracked separately.
type TaskCompletedEvent struct {
	Task      task.Task
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string   { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string      { return e.Task.ID }
func (e TaskCompletedEvent) Snapshot() task.Task { return e.Task }

// TaskFailedEvent is published when a task fails.
type TaskFailedEvent struct {
	Task      task.Task
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string   { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string      { return e.Task.ID }
func (e TaskFailedEvent) Snapshot() task.Task { return e.Task }

// TaskCancelledEvent is published when a task is cancelled.
type TaskCancelledEvent struct {
	Task      task.Task
	Timestamp time.Time
}

func (e TaskCancelledEvent) EventType() string   { return EventTypeTaskCancelled }
func (e TaskCancelledEvent) TaskID() string      { return e.Task.ID }
func (e TaskCancelledEvent) Snapshot() task.Task { return e.Task }

// TaskResumedEvent is published when a task is reopened with a new prompt.
type TaskResumedEvent struct {
	Task      task.Task
	Timestamp time.Time
}

func (e TaskResumedEvent) EventType() string   { return EventTypeTaskResumed }
func (e TaskResumedEvent) TaskID() string      { return e.Task.ID }
func (e TaskResumedEvent) Snapshot() task.Task { return e.Task }

// TaskTimedOutEvent is published when the poll budget runs out and
// timeouts are tracked as their own status.
type TaskTimedOutEvent struct {
	Task      task.Task
	Polls     int
	Timestamp time.Time
}

func (e TaskTimedOutEvent) EventType() string   { return EventTypeTaskTimedOut }
func (e TaskTimedOutEvent) TaskID() string      { return e.Task.ID }
func (e TaskTimedOutEvent) Snapshot() task.Task { return e.Task }

// ProgressEvent is published after every transition with per-status counts.
type ProgressEvent struct {
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
	TimedOut  int
	Timestamp time.Time
}

func (e ProgressEvent) EventType() string { return EventTypeTasksProgress }
func (e ProgressEvent) TaskID() string    { return "" }

// NewProgressEvent builds a ProgressEvent from registry counts.
func NewProgressEvent(counts map[task.Status]int, now time.Time) ProgressEvent {
	ev := ProgressEvent{
		Pending:   counts[task.StatusPending],
		Running:   counts[task.StatusRunning],
		Completed: counts[task.StatusCompleted],
		Failed:    counts[task.StatusFailed],
		Cancelled: counts[task.StatusCancelled],
		TimedOut:  counts[task.StatusTimedOut],
		Timestamp: now,
	}
	for _, n := range counts {
		ev.Total += n
	}
	return ev
}
