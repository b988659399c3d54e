package config

import "time"

// ServerConfig locates the session server background tasks run against.
type ServerConfig struct {
	BaseURL   string `json:"base_url"`            // e.g. "http://127.0.0.1:4096"
	Directory string `json:"directory,omitempty"` // Project directory forwarded to the server
	TimeoutMs int    `json:"timeout_ms"`          // Per-request timeout
}

// BackgroundConfig tunes the background task engine.
type BackgroundConfig struct {
	Enabled        bool `json:"enabled"`
	PollIntervalMs int  `json:"poll_interval_ms"` // Milliseconds between idle checks
	MaxPolls       int  `json:"max_polls"`        // Idle checks before giving up
	MarkTimeouts   bool `json:"mark_timeouts"`    // Report an exhausted poll budget as timed_out
}

// RetryConfig tunes transport retries and circuit breakers.
type RetryConfig struct {
	InitialIntervalMs int    `json:"initial_interval_ms"`
	MaxIntervalMs     int    `json:"max_interval_ms"`
	MaxElapsedMs      int    `json:"max_elapsed_ms"`
	BreakerFailures   uint32 `json:"breaker_failures"` // Consecutive failures that open a breaker
	BreakerOpenMs     int    `json:"breaker_open_ms"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// JournalConfig configures the SQLite task journal. An empty path disables it.
type JournalConfig struct {
	Path string `json:"path,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Background BackgroundConfig `json:"background"`
	Retry      RetryConfig      `json:"retry"`
	Logging    LoggingConfig    `json:"logging"`
	Journal    JournalConfig    `json:"journal"`
}

// PollInterval returns the poll interval as a duration.
func (b BackgroundConfig) PollInterval() time.Duration {
	return time.Duration(b.PollIntervalMs) * time.Millisecond
}

// Timeout returns the per-request timeout as a duration.
func (s ServerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// InitialInterval returns the first retry delay.
func (r RetryConfig) InitialInterval() time.Duration { return ms(r.InitialIntervalMs) }

// MaxInterval returns the retry delay cap.
func (r RetryConfig) MaxInterval() time.Duration { return ms(r.MaxIntervalMs) }

// MaxElapsed returns the total retry budget per call.
func (r RetryConfig) MaxElapsed() time.Duration { return ms(r.MaxElapsedMs) }

// BreakerOpen returns how long an open breaker waits before probing.
func (r RetryConfig) BreakerOpen() time.Duration { return ms(r.BreakerOpenMs) }
