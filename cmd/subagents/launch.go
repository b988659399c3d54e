package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/subagents/internal/config"
	"github.com/aristath/subagents/internal/events"
	"github.com/aristath/subagents/internal/orchestrator"
	"github.com/aristath/subagents/internal/persistence"
	"github.com/aristath/subagents/internal/session"
	"github.com/aristath/subagents/internal/task"
)

// errBackgroundDisabled is returned when the background engine is switched
// off in the configuration.
var errBackgroundDisabled = errors.New("background tasks are disabled (background.enabled = false)")

const shutdownTimeout = 10 * time.Second

type launchOptions struct {
	Description     string
	Prompt          string
	Agent           string
	ParentSessionID string
	ParentMessageID string
	FollowUps       []string
	TUI             bool
}

// engineConfig maps the file configuration onto the engine's.
func engineConfig(cfg *config.Config) orchestrator.Config {
	ec := orchestrator.DefaultConfig()
	ec.PollInterval = cfg.Background.PollInterval()
	ec.MaxPolls = cfg.Background.MaxPolls
	ec.MarkTimeouts = cfg.Background.MarkTimeouts
	return ec
}

// newTransport builds the HTTP session transport wrapped in retries and
// circuit breakers.
func newTransport(cfg *config.Config, log *slog.Logger) (session.Transport, error) {
	client, err := session.NewHTTPClient(session.HTTPConfig{
		BaseURL:   cfg.Server.BaseURL,
		Directory: cfg.Server.Directory,
		Timeout:   cfg.Server.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	retry := session.DefaultRetryConfig()
	retry.InitialInterval = cfg.Retry.InitialInterval()
	retry.MaxInterval = cfg.Retry.MaxInterval()
	retry.MaxElapsedTime = cfg.Retry.MaxElapsed()

	breaker := session.DefaultBreakerConfig()
	breaker.ConsecutiveFailures = cfg.Retry.BreakerFailures
	breaker.OpenTimeout = cfg.Retry.BreakerOpen()

	return session.NewResilient(client, retry, session.NewCircuitBreakerRegistry(breaker, log)), nil
}

// runLaunch starts one background task, streams its output to out until it
// settles, then sends each follow-up prompt as long as the task keeps
// completing.
func runLaunch(ctx context.Context, cfg *config.Config, log *slog.Logger, opts launchOptions, out io.Writer) error {
	if !cfg.Background.Enabled {
		return errBackgroundDisabled
	}

	transport, err := newTransport(cfg, log)
	if err != nil {
		return err
	}

	bus := events.NewEventBus()
	stopJournal, err := startJournal(ctx, cfg, bus, log)
	if err != nil {
		bus.Close()
		return err
	}
	defer func() {
		bus.Close()
		stopJournal()
	}()

	eng := orchestrator.New(engineConfig(cfg), transport,
		orchestrator.WithLogger(log),
		orchestrator.WithEventBus(bus),
	)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := eng.Shutdown(shutdownCtx); err != nil {
			log.Warn("engine shutdown incomplete", "error", err)
		}
	}()

	if !opts.TUI {
		return drive(ctx, eng, opts, cfg.Background.PollInterval(), out)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := newMonitor(bus, eng)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(runCtx))

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return drive(gctx, eng, opts, cfg.Background.PollInterval(), io.Discard)
	})
	g.Go(func() error {
		// Quitting the monitor stops the launch.
		defer cancel()
		if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("task monitor: %w", err)
		}
		return nil
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// The user quit the monitor.
		return nil
	}
	return err
}

// drive launches the task and works through its follow-up prompts.
func drive(ctx context.Context, eng *orchestrator.Engine, opts launchOptions, every time.Duration, out io.Writer) error {
	t := eng.Launch(orchestrator.LaunchInput{
		Description:     opts.Description,
		Prompt:          opts.Prompt,
		Agent:           opts.Agent,
		ParentSessionID: opts.ParentSessionID,
		ParentMessageID: opts.ParentMessageID,
	})
	fmt.Fprintf(out, "launched %s\n", t.ID)

	res, err := streamResult(ctx, eng, t.ID, every, out)
	if err != nil {
		return err
	}

	for _, prompt := range opts.FollowUps {
		if res.Status != task.StatusCompleted {
			break
		}
		if _, ok, err := eng.Resume(ctx, t.ID, prompt); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("task %s cannot be resumed", t.ID)
		}
		fmt.Fprintf(out, "resumed %s\n", t.ID)

		if res, err = streamResult(ctx, eng, t.ID, every, out); err != nil {
			return err
		}
	}

	if res.Status != task.StatusCompleted {
		if res.Error != "" {
			return fmt.Errorf("task %s %s: %s", t.ID, res.Status, res.Error)
		}
		return fmt.Errorf("task %s %s", t.ID, res.Status)
	}
	return nil
}

type resultSource interface {
	GetResult(ctx context.Context, id string) (orchestrator.Result, error)
}

// streamResult queries the task every interval, writing new output to out,
// until the task reaches a terminal status. Output that arrived before the
// final status is drained by the last query.
func streamResult(ctx context.Context, src resultSource, id string, every time.Duration, out io.Writer) (orchestrator.Result, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		res, err := src.GetResult(ctx, id)
		if err != nil {
			return res, err
		}
		if res.Output != "" {
			fmt.Fprintln(out, res.Output)
		}
		if res.Status.IsTerminal() {
			return res, nil
		}

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}

// startJournal records bus events into the configured journal. The returned
// function waits for the recorder to drain after the bus is closed.
func startJournal(ctx context.Context, cfg *config.Config, bus *events.EventBus, log *slog.Logger) (func(), error) {
	if cfg.Journal.Path == "" {
		return func() {}, nil
	}

	store, err := persistence.NewSQLiteStore(ctx, cfg.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	sub := bus.SubscribeAll(0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Runs until the bus closes so the final transitions are recorded.
		_ = persistence.NewRecorder(store, log).Run(context.Background(), sub)
	}()

	return func() {
		<-done
		if err := store.Close(); err != nil {
			log.Warn("closing journal failed", "error", err)
		}
	}, nil
}
