package config

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:   "http://127.0.0.1:4096",
			TimeoutMs: 30000,
		},
		Background: BackgroundConfig{
			Enabled:        true,
			PollIntervalMs: 2000,
			MaxPolls:       300,
		},
		Retry: RetryConfig{
			InitialIntervalMs: 100,
			MaxIntervalMs:     10000,
			MaxElapsedMs:      120000,
			BreakerFailures:   5,
			BreakerOpenMs:     30000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
