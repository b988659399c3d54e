package config

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"
)

func TestSet(t *testing.T) {
	tests := []struct {
		key   string
		value string
		check func(*Config) bool
	}{
		{"background.max_polls", "12", func(c *Config) bool { return c.Background.MaxPolls == 12 }},
		{"background.enabled", "false", func(c *Config) bool { return !c.Background.Enabled }},
		{"background.mark_timeouts", "true", func(c *Config) bool { return c.Background.MarkTimeouts }},
		{"server.base_url", "http://10.0.0.5:4096", func(c *Config) bool { return c.Server.BaseURL == "http://10.0.0.5:4096" }},
		{"server.directory", "/srv/project", func(c *Config) bool { return c.Server.Directory == "/srv/project" }},
		{"logging.level", "debug", func(c *Config) bool { return c.Logging.Level == "debug" }},
		{"journal.path", "/tmp/journal.db", func(c *Config) bool { return c.Journal.Path == "/tmp/journal.db" }},
		{"retry.breaker_failures", "9", func(c *Config) bool { return c.Retry.BreakerFailures == 9 }},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := DefaultConfig()
			if err := Set(cfg, tt.key, tt.value); err != nil {
				t.Fatalf("Set(%s, %s) failed: %v", tt.key, tt.value, err)
			}
			if !tt.check(cfg) {
				t.Errorf("Set(%s, %s) left %+v", tt.key, tt.value, cfg)
			}
		})
	}
}

func TestSetLeavesOtherFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Directory = "/srv/project"

	if err := Set(cfg, "background.poll_interval_ms", "500"); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Directory != "/srv/project" || cfg.Background.MaxPolls != 300 {
		t.Errorf("unrelated fields changed: %+v", cfg)
	}
}

func TestSetRejectsUnknownKeys(t *testing.T) {
	for _, key := range []string{"background", "background.nope", "nope.max_polls", ""} {
		if err := Set(DefaultConfig(), key, "1"); !errors.Is(err, ErrUnknownKey) {
			t.Errorf("Set(%q) error = %v, want ErrUnknownKey", key, err)
		}
	}
}

func TestSetRejectsWrongType(t *testing.T) {
	cfg := DefaultConfig()
	if err := Set(cfg, "background.max_polls", "lots"); err == nil {
		t.Fatal("expected error for non-numeric max_polls")
	}
	if cfg.Background.MaxPolls != 300 {
		t.Errorf("failed Set modified the config: max_polls = %d", cfg.Background.MaxPolls)
	}
}

func TestKeys(t *testing.T) {
	keys := Keys()
	for _, want := range []string{"background.max_polls", "server.base_url", "server.directory", "journal.path", "logging.format"} {
		if !slices.Contains(keys, want) {
			t.Errorf("Keys() missing %q", want)
		}
	}
	if !slices.IsSorted(keys) {
		t.Errorf("Keys() not sorted: %v", keys)
	}
}

func TestUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".subagents", "config.json")

	if _, err := Update(path, "background.max_polls", "42"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := Update(path, "logging.format", "json"); err != nil {
		t.Fatalf("second Update failed: %v", err)
	}

	cfg, err := Load("", path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Background.MaxPolls != 42 || cfg.Logging.Format != "json" {
		t.Errorf("saved config = %+v", cfg)
	}
}

func TestUpdateValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	if _, err := Update(path, "background.max_polls", "0"); err == nil {
		t.Fatal("expected validation error")
	}
	if cfg, err := Load("", path); err != nil || cfg.Background.MaxPolls != 300 {
		t.Errorf("invalid value was saved: %+v, %v", cfg, err)
	}
}
