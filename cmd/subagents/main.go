package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"

	"github.com/aristath/subagents/internal/config"
	"github.com/aristath/subagents/internal/logger"
)

var (
	app = kingpin.New("subagents", "Run prompts as background subagent sessions")

	serverURL = app.Flag("server", "Session server base URL (overrides config)").String()
	directory = app.Flag("directory", "Project directory forwarded to the server").String()
	logLevel  = app.Flag("log-level", "Log level: debug, info, warn, error").Enum("debug", "info", "warn", "error")
	journal   = app.Flag("journal", "SQLite journal path (overrides config)").String()

	launchCmd         = app.Command("launch", "Launch a background task and stream its output until it settles")
	launchPrompt      = launchCmd.Arg("prompt", "Prompt sent to the subagent").Required().String()
	launchDescription = launchCmd.Flag("description", "Short task description").Short('d').String()
	launchAgent       = launchCmd.Flag("agent", "Agent that handles the prompt").Short('a').Default("general").String()
	launchParent      = launchCmd.Flag("parent-session", "Session the task is launched on behalf of").String()
	launchMessage     = launchCmd.Flag("parent-message", "Message the task is launched on behalf of").String()
	launchThen        = launchCmd.Flag("then", "Follow-up prompt sent after the task completes (repeatable)").Strings()
	launchTUI         = launchCmd.Flag("tui", "Show the task monitor").Bool()

	watchCmd    = app.Command("watch", "Print tasks recorded in the journal")
	watchID     = watchCmd.Arg("id", "Show events and output of one task").String()
	watchOutput = watchCmd.Flag("output", "Include delivered output when listing tasks").Bool()

	configCmd    = app.Command("config", "Inspect and edit configuration files")
	configGlobal = configCmd.Flag("global", "Edit ~/.subagents/config.json instead of the project file").Bool()

	configInitCmd   = configCmd.Command("init", "Write a config file with the default settings")
	configInitForce = configInitCmd.Flag("force", "Overwrite an existing file").Bool()

	configSetCmd   = configCmd.Command("set", "Change one setting and save the file")
	configSetKey   = configSetCmd.Arg("key", "Dotted key, e.g. background.max_polls").Required().Enum(config.Keys()...)
	configSetValue = configSetCmd.Arg("value", "New value").Required().String()

	configShowCmd = configCmd.Command("show", "Print the effective configuration")
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	switch command {
	case configInitCmd.FullCommand(), configSetCmd.FullCommand():
		// Editing must work even when the current files do not validate.
		if err := runConfigEdit(command, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case launchCmd.FullCommand():
		err = runLaunch(ctx, cfg, log, launchOptions{
			Description:     *launchDescription,
			Prompt:          *launchPrompt,
			Agent:           *launchAgent,
			ParentSessionID: *launchParent,
			ParentMessageID: *launchMessage,
			FollowUps:       *launchThen,
			TUI:             *launchTUI,
		}, os.Stdout)
	case watchCmd.FullCommand():
		err = runWatch(ctx, cfg, *watchID, *watchOutput, os.Stdout)
	case configShowCmd.FullCommand():
		err = showConfig(cfg, os.Stdout)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Interrupted")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// applyFlags layers command-line overrides on top of the loaded config.
func applyFlags(cfg *config.Config) {
	if *serverURL != "" {
		cfg.Server.BaseURL = *serverURL
	}
	if *directory != "" {
		cfg.Server.Directory = *directory
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *journal != "" {
		cfg.Journal.Path = *journal
	}
}
