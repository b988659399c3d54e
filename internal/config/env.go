package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces environment overrides, e.g. SUBAGENTS_BASE_URL.
const EnvPrefix = "SUBAGENTS"

// envOverlay lists the settings that can be overridden from the environment.
// Variables that are not set leave the corresponding field untouched.
type envOverlay struct {
	BaseURL        string `envconfig:"BASE_URL"`
	Directory      string `envconfig:"DIRECTORY"`
	TimeoutMs      int    `envconfig:"TIMEOUT_MS"`
	Enabled        bool   `envconfig:"ENABLED"`
	PollIntervalMs int    `envconfig:"POLL_INTERVAL_MS"`
	MaxPolls       int    `envconfig:"MAX_POLLS"`
	MarkTimeouts   bool   `envconfig:"MARK_TIMEOUTS"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
	LogFormat      string `envconfig:"LOG_FORMAT"`
	JournalPath    string `envconfig:"JOURNAL_PATH"`
}

// ApplyEnv overrides cfg with SUBAGENTS_* environment variables.
func ApplyEnv(cfg *Config) error {
	env := envOverlay{
		BaseURL:        cfg.Server.BaseURL,
		Directory:      cfg.Server.Directory,
		TimeoutMs:      cfg.Server.TimeoutMs,
		Enabled:        cfg.Background.Enabled,
		PollIntervalMs: cfg.Background.PollIntervalMs,
		MaxPolls:       cfg.Background.MaxPolls,
		MarkTimeouts:   cfg.Background.MarkTimeouts,
		LogLevel:       cfg.Logging.Level,
		LogFormat:      cfg.Logging.Format,
		JournalPath:    cfg.Journal.Path,
	}
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("loading environment: %w", err)
	}

	cfg.Server.BaseURL = env.BaseURL
	cfg.Server.Directory = env.Directory
	cfg.Server.TimeoutMs = env.TimeoutMs
	cfg.Background.Enabled = env.Enabled
	cfg.Background.PollIntervalMs = env.PollIntervalMs
	cfg.Background.MaxPolls = env.MaxPolls
	cfg.Background.MarkTimeouts = env.MarkTimeouts
	cfg.Logging.Level = env.LogLevel
	cfg.Logging.Format = env.LogFormat
	cfg.Journal.Path = env.JournalPath
	return nil
}
