package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/aristath/subagents/internal/events"
	"github.com/aristath/subagents/internal/session"
)

// poll drives a running task of generation gen toward a terminal status.
// Every iteration first checks that the loop still owns the task, so a
// cancellation or a newer Resume is observed before any further transition.
func (e *Engine) poll(ctx context.Context, id string, gen uint64) {
	t, ok := e.registry.Get(id)
	if !ok {
		return
	}
	log := e.logger.With("task_id", id, "session_id", t.SessionID, "generation", gen)

	for i := 0; i < e.cfg.MaxPolls; i++ {
		if !e.registry.Driving(id, gen) {
			log.Debug("poll loop retired", "polls", i)
			return
		}

		if e.sessionIdle(ctx, t.SessionID, log) {
			if e.registry.Complete(id, gen) {
				e.completed(id, log)
			}
			return
		}

		if i == e.cfg.MaxPolls-1 {
			break
		}
		if err := sleepCtx(ctx, e.cfg.PollInterval); err != nil {
			log.Debug("poll loop stopped", "error", err)
			return
		}
	}

	if e.cfg.MarkTimeouts {
		if e.registry.TimeOut(id, gen) {
			done, _ := e.registry.Get(id)
			log.Warn("poll budget exhausted", "polls", e.cfg.MaxPolls)
			e.publish(events.TaskTimedOutEvent{Task: done, Polls: e.cfg.MaxPolls, Timestamp: time.Now()})
		}
		return
	}
	if e.registry.Complete(id, gen) {
		log.Warn("poll budget exhausted; marking task completed", "polls", e.cfg.MaxPolls)
		e.completed(id, log)
	}
}

func (e *Engine) completed(id string, log *slog.Logger) {
	done, _ := e.registry.Get(id)
	log.Info("task completed", "duration", done.Duration(time.Now()))
	e.publish(events.TaskCompletedEvent{
		Task:      done,
		Duration:  done.Duration(time.Now()),
		Timestamp: time.Now(),
	})
}

// sessionIdle asks the transport for the session state. Transports without
// status reporting never report idle; query errors count as not idle.
func (e *Engine) sessionIdle(ctx context.Context, sessionID string, log *slog.Logger) bool {
	if sessionID == "" || !e.transport.CanReportStatus() {
		return false
	}
	token, err := e.transport.Status(ctx, sessionID)
	if err != nil {
		log.Warn("session status query failed", "error", err)
		return false
	}
	return session.IsIdle(token)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
