package main

import (
	"context"

	"github.com/aristath/subagents/internal/events"
	"github.com/aristath/subagents/internal/orchestrator"
	"github.com/aristath/subagents/internal/tui"
)

// newMonitor creates the task monitor with a cancel key bound to eng.
func newMonitor(bus *events.EventBus, eng *orchestrator.Engine) tui.Model {
	return tui.New(bus, func(id string) error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_, err := eng.Cancel(ctx, id)
		return err
	})
}
