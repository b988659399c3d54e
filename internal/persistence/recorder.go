package persistence

import (
	"context"
	"log/slog"

	"github.com/aristath/subagents/internal/events"
)

// Recorder writes engine events into a Store: task snapshots and their
// lifecycle events from state transitions, and delivered output chunks.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{store: store, logger: logger}
}

// Run records events from ch until ch is closed or ctx is done. Write
// failures are logged and do not stop the recorder.
func (r *Recorder) Run(ctx context.Context, ch <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.Record(ctx, ev); err != nil {
				r.logger.Warn("journal write failed", "task_id", ev.TaskID(), "event", ev.EventType(), "error", err)
			}
		}
	}
}

// Record writes a single event. Events without a journal representation,
// such as progress snapshots, are ignored.
func (r *Recorder) Record(ctx context.Context, ev events.Event) error {
	switch ev := ev.(type) {
	case events.StateEvent:
		t := ev.Snapshot()
		if err := r.store.SaveTask(ctx, t); err != nil {
			return err
		}
		return r.store.RecordEvent(ctx, t.ID, EventRecord{Type: ev.EventType(), Status: t.Status})
	case events.TaskOutputEvent:
		return r.store.AppendOutput(ctx, ev.ID, OutputChunk{
			From:       ev.From,
			To:         ev.To,
			Text:       ev.Chunk,
			RecordedAt: ev.Timestamp,
		})
	}
	return nil
}
