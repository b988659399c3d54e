package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/subagents/internal/events"
	"github.com/aristath/subagents/internal/session"
	"github.com/aristath/subagents/internal/task"
)

// ErrTaskNotFound is reported for operations on unknown task IDs.
var ErrTaskNotFound = errors.New("task not found")

// ErrEmptySessionID is recorded when session creation succeeds but yields
// no usable session identifier.
var ErrEmptySessionID = errors.New("session creation returned no session id")

// Config configures the engine.
type Config struct {
	PollInterval time.Duration // Delay between idle checks (default 2s)
	MaxPolls     int           // Idle checks per poll loop (default 300)
	// MarkTimeouts makes an exhausted poll budget end in timed_out instead
	// of completed.
	MarkTimeouts bool
	// ShutdownConcurrency bounds concurrent cancellations in Shutdown
	// (default 8).
	ShutdownConcurrency int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:        2 * time.Second,
		MaxPolls:            300,
		ShutdownConcurrency: 8,
	}
}

// LaunchInput describes a background task to start. Fields are passed
// through to the session server unvalidated.
type LaunchInput struct {
	Description     string
	Prompt          string
	Agent           string
	ParentSessionID string
	ParentMessageID string
}

// Result is the answer to a result query. An empty Output means no new
// output since the previous query.
type Result struct {
	Status task.Status
	Output string
	Error  string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEventBus publishes lifecycle events to bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithRegistry makes the engine use an existing registry.
func WithRegistry(r *task.Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

// Engine launches background tasks against a session transport, drives
// each through its poll loop and hands out incremental output.
type Engine struct {
	cfg       Config
	transport session.Capabilities
	registry  *task.Registry
	bus       *events.EventBus
	logger    *slog.Logger

	// ctx is the parent of every detached flow; stop cancels it on Shutdown.
	ctx  context.Context
	stop context.CancelFunc
	wg   *conc.WaitGroup
}

// New creates an engine. Optional transport capabilities (status, abort)
// are negotiated once here.
func New(cfg Config, t session.Transport, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = def.MaxPolls
	}
	if cfg.ShutdownConcurrency <= 0 {
		cfg.ShutdownConcurrency = def.ShutdownConcurrency
	}

	ctx, stop := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		transport: session.Resolve(t),
		registry:  task.NewRegistry(),
		logger:    slog.New(slog.DiscardHandler),
		ctx:       ctx,
		stop:      stop,
		wg:        conc.NewWaitGroup(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if !e.transport.CanReportStatus() {
		e.logger.Warn("transport cannot report session status; tasks complete only when the poll budget runs out",
			"max_polls", cfg.MaxPolls, "poll_interval", cfg.PollInterval)
	}
	return e
}

// Registry returns the task registry backing the engine.
func (e *Engine) Registry() *task.Registry {
	return e.registry
}

// Get returns a snapshot of the task, or false if the ID is unknown.
func (e *Engine) Get(id string) (task.Task, bool) {
	return e.registry.Get(id)
}

// SubagentSessions returns the shared set of session IDs created for
// background work.
func (e *Engine) SubagentSessions() *task.SessionSet {
	return e.registry.SubagentSessions()
}

// Launch registers a pending task and returns it immediately. Session
// creation, the initial prompt and the poll loop run detached; failures
// are only observable through Get and GetResult.
func (e *Engine) Launch(in LaunchInput) task.Task {
	t := e.registry.Create(task.CreateInput{
		Description:     in.Description,
		Prompt:          in.Prompt,
		Agent:           in.Agent,
		ParentSessionID: in.ParentSessionID,
		ParentMessageID: in.ParentMessageID,
	})

	e.logger.Info("task launched", "task_id", t.ID, "agent", t.Agent, "description", t.Description)
	e.publish(events.TaskLaunchedEvent{Task: t, Timestamp: time.Now()})

	e.spawn(t.ID, func() { e.run(e.ctx, t.ID) })
	return t
}

// Resume sends a new prompt to the session of an existing task and
// restarts its poll loop. It reports false, without touching the
// transport, when the task is unknown or never got a session. A prompt
// failure marks the task failed and is returned.
func (e *Engine) Resume(ctx context.Context, id, prompt string) (task.Task, bool, error) {
	t, gen, ok := e.registry.Reopen(id, prompt)
	if !ok {
		return task.Task{}, false, nil
	}

	log := e.logger.With("task_id", id, "session_id", t.SessionID)
	log.Info("task resumed", "generation", gen)
	e.publish(events.TaskResumedEvent{Task: t, Timestamp: time.Now()})

	if err := e.transport.Prompt(ctx, t.SessionID, prompt, t.Agent); err != nil {
		e.fail(id, err)
		cur, _ := e.registry.Get(id)
		return cur, true, fmt.Errorf("resuming task %s: %w", id, err)
	}

	e.spawn(id, func() { e.poll(e.ctx, id, gen) })
	return t, true, nil
}

// Cancel marks the task cancelled and, when the task has a session and the
// transport supports it, asks the server to abort. The task is cancelled
// even if the abort call fails; that error is returned alongside true.
func (e *Engine) Cancel(ctx context.Context, id string) (bool, error) {
	t, ok := e.registry.Cancel(id)
	if !ok {
		return false, nil
	}

	e.logger.Info("task cancelled", "task_id", id, "session_id", t.SessionID)
	e.publish(events.TaskCancelledEvent{Task: t, Timestamp: time.Now()})

	if t.SessionID == "" || !e.transport.CanAbort() {
		return true, nil
	}
	if err := e.transport.Abort(ctx, t.SessionID); err != nil {
		return true, fmt.Errorf("aborting session %s of task %s: %w", t.SessionID, id, err)
	}
	return true, nil
}

// GetResult reports the task's status, its error and any transcript
// output produced since the previous call. Unknown IDs yield a failed
// result rather than an error; transcript fetch errors are returned.
func (e *Engine) GetResult(ctx context.Context, id string) (Result, error) {
	t, ok := e.registry.Get(id)
	if !ok {
		return Result{
			Status: task.StatusFailed,
			Error:  fmt.Sprintf("%v: %s", ErrTaskNotFound, id),
		}, nil
	}

	res := Result{Status: t.Status, Error: t.Error}
	output, err := e.consumeNewMessages(ctx, t)
	if err != nil {
		return res, err
	}
	res.Output = output
	return res, nil
}

// Wait blocks until every detached flow has exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown cancels every task that has not reached a terminal status, stops
// the detached flows and waits for them, or for ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ShutdownConcurrency)

	for _, t := range e.registry.List() {
		if t.Status.IsTerminal() {
			continue
		}
		id := t.ID
		g.Go(func() error {
			if _, err := e.Cancel(gctx, id); err != nil {
				e.logger.Warn("abort during shutdown failed", "task_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	e.stop()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background flows: %w", ctx.Err())
	}
}

// run is the detached launch flow: create the session, bind it, send the
// initial prompt and poll until the task settles.
func (e *Engine) run(ctx context.Context, id string) {
	if !e.registry.MarkRunning(id) {
		e.logger.Debug("task left pending before its flow started", "task_id", id)
		return
	}
	t, _ := e.registry.Get(id)
	gen, _ := e.registry.Generation(id)

	sessionID, err := e.transport.Create(ctx, t.ParentSessionID)
	if err != nil {
		e.fail(id, err)
		return
	}
	if sessionID == "" {
		e.fail(id, ErrEmptySessionID)
		return
	}
	if err := e.registry.BindSession(id, sessionID); err != nil {
		e.fail(id, err)
		return
	}

	log := e.logger.With("task_id", id, "session_id", sessionID)

	// Cancelled while the session was being created: nothing else will
	// ever stop the remote work, so abort it here.
	if !e.registry.Driving(id, gen) {
		log.Info("task cancelled during session creation")
		if e.transport.CanAbort() {
			if err := e.transport.Abort(ctx, sessionID); err != nil {
				log.Warn("abort of orphaned session failed", "error", err)
			}
		}
		return
	}

	if err := e.transport.Prompt(ctx, sessionID, t.Prompt, t.Agent); err != nil {
		e.fail(id, err)
		return
	}

	if started, ok := e.registry.Get(id); ok {
		log.Info("task started", "agent", started.Agent)
		e.publish(events.TaskStartedEvent{Task: started, Timestamp: time.Now()})
	}

	e.poll(ctx, id, gen)
}

// fail records err on the task. Tasks that already left pending/running
// keep their status.
func (e *Engine) fail(id string, err error) {
	if !e.registry.Fail(id, err.Error()) {
		e.logger.Debug("failure ignored for settled task", "task_id", id, "error", err)
		return
	}
	t, _ := e.registry.Get(id)
	e.logger.Error("task failed", "task_id", id, "session_id", t.SessionID, "error", err)
	e.publish(events.TaskFailedEvent{
		Task:      t,
		Err:       err,
		Duration:  t.Duration(time.Now()),
		Timestamp: time.Now(),
	})
}

// publish sends ev to the bus, followed by a progress snapshot for
// lifecycle transitions.
func (e *Engine) publish(ev events.Event) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.TopicTask, ev)
	if _, ok := ev.(events.StateEvent); ok {
		e.bus.Publish(events.TopicProgress, events.NewProgressEvent(e.registry.Counts(), time.Now()))
	}
}
