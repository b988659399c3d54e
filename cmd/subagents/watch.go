package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/aristath/subagents/internal/config"
	"github.com/aristath/subagents/internal/persistence"
	"github.com/aristath/subagents/internal/task"
)

var errNoJournal = errors.New("no journal configured (set journal.path or --journal)")

// runWatch prints the journal: every task, or the history of one.
func runWatch(ctx context.Context, cfg *config.Config, id string, withOutput bool, out io.Writer) error {
	if cfg.Journal.Path == "" {
		return errNoJournal
	}
	store, err := persistence.NewSQLiteStore(ctx, cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer store.Close()

	if id != "" {
		return printTask(ctx, store, id, out)
	}
	return printJournal(ctx, store, withOutput, out)
}

func printJournal(ctx context.Context, store persistence.Store, withOutput bool, out io.Writer) error {
	tasks, err := store.ListTasks(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(out, "no tasks recorded")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tAGENT\tCREATED\tDURATION\tDESCRIPTION")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Status, t.Agent, t.CreatedAt.Format(time.DateTime), formatDuration(t), t.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !withOutput {
		return nil
	}
	for _, t := range tasks {
		if err := printOutput(ctx, store, t.ID, out); err != nil {
			return err
		}
	}
	return nil
}

func printTask(ctx context.Context, store persistence.Store, id string, out io.Writer) error {
	t, err := store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s  %s  %s\n", t.ID, t.Status, t.Description)
	if t.SessionID != "" {
		fmt.Fprintf(out, "session: %s\n", t.SessionID)
	}
	if t.Error != "" {
		fmt.Fprintf(out, "error: %s\n", t.Error)
	}

	history, err := store.GetEvents(ctx, id)
	if err != nil {
		return err
	}
	for _, ev := range history {
		fmt.Fprintf(out, "  %s  %-15s %s\n", ev.RecordedAt.Format(time.TimeOnly), ev.Type, ev.Status)
	}
	return printOutput(ctx, store, id, out)
}

func printOutput(ctx context.Context, store persistence.Store, id string, out io.Writer) error {
	chunks, err := store.GetOutput(ctx, id)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		fmt.Fprintf(out, "\n--- %s messages %d-%d ---\n%s\n", id, c.From, c.To-1, c.Text)
	}
	return nil
}

func formatDuration(t task.Task) string {
	if t.StartedAt.IsZero() || t.CompletedAt.IsZero() {
		return "-"
	}
	return t.CompletedAt.Sub(t.StartedAt).Round(time.Second).String()
}
