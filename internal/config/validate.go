package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.BaseURL != "" {
		u, err := url.Parse(c.Server.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.base_url %q is not an http(s) URL", c.Server.BaseURL))
		}
	}
	if c.Server.TimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("server.timeout_ms must not be negative, got %d", c.Server.TimeoutMs))
	}
	if c.Background.PollIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("background.poll_interval_ms must be positive, got %d", c.Background.PollIntervalMs))
	}
	if c.Background.MaxPolls <= 0 {
		errs = append(errs, fmt.Errorf("background.max_polls must be positive, got %d", c.Background.MaxPolls))
	}
	if c.Retry.InitialIntervalMs < 0 || c.Retry.MaxIntervalMs < 0 || c.Retry.MaxElapsedMs < 0 || c.Retry.BreakerOpenMs < 0 {
		errs = append(errs, errors.New("retry intervals must not be negative"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not text or json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
