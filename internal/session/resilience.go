package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 2min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerConfig configures the per-operation circuit breakers.
type BreakerConfig struct {
	ConsecutiveFailures uint32        // Trip after this many consecutive failures (default 5)
	OpenTimeout         time.Duration // Stay open this long before probing (default 30s)
	HalfOpenRequests    uint32        // Probe requests allowed while half-open (default 3)
}

// DefaultBreakerConfig returns the default circuit breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    3,
	}
}

// CircuitBreakerRegistry manages per-operation circuit breakers.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	logger   *slog.Logger
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitBreakerRegistry creates a new circuit breaker registry.
// A nil logger discards state-change logs.
func NewCircuitBreakerRegistry(cfg BreakerConfig, logger *slog.Logger) *CircuitBreakerRegistry {
	def := DefaultBreakerConfig()
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CircuitBreakerRegistry{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for the given operation name.
// Creates a new one if it doesn't exist.
func (r *CircuitBreakerRegistry) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	threshold := r.cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: r.cfg.HalfOpenRequests,
		Interval:    0, // Don't clear counts automatically
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation is not a transport failure; client timeouts are.
			var gone callerGone
			return err == nil || errors.As(err, &gone)
		},
	})

	r.breakers[name] = cb
	return cb
}

// Resilient decorates a Transport with exponential backoff retry and a
// circuit breaker per operation. It exposes Status and Abort only when the
// wrapped transport supports them.
type Resilient struct {
	caps     Capabilities
	retry    RetryConfig
	breakers *CircuitBreakerRegistry
}

// NewResilient wraps t. A nil breaker registry gets a default one.
func NewResilient(t Transport, retry RetryConfig, breakers *CircuitBreakerRegistry) *Resilient {
	if breakers == nil {
		breakers = NewCircuitBreakerRegistry(DefaultBreakerConfig(), nil)
	}
	return &Resilient{
		caps:     Resolve(t),
		retry:    retry,
		breakers: breakers,
	}
}

func (r *Resilient) probeCapabilities() (bool, bool) {
	return r.caps.CanReportStatus(), r.caps.CanAbort()
}

// Create allocates a session. Creation is not idempotent: it is retried only
// when the request never reached the server or the server refused it with a
// retryable status.
func (r *Resilient) Create(ctx context.Context, parentID string) (string, error) {
	return callWithRetry(ctx, r.breakers.Get("create"), r.retry, retrySafe, func() (string, error) {
		return r.caps.Create(ctx, parentID)
	})
}

// Prompt sends content to the session. Like Create it is single-shot for
// failures that may have delivered the prompt.
func (r *Resilient) Prompt(ctx context.Context, sessionID, content, agent string) error {
	_, err := callWithRetry(ctx, r.breakers.Get("prompt"), r.retry, retrySafe, func() (struct{}, error) {
		return struct{}{}, r.caps.Prompt(ctx, sessionID, content, agent)
	})
	return err
}

// Messages fetches the transcript.
func (r *Resilient) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	return callWithRetry(ctx, r.breakers.Get("messages"), r.retry, retryAny, func() ([]Message, error) {
		return r.caps.Messages(ctx, sessionID)
	})
}

// Status queries the session state.
func (r *Resilient) Status(ctx context.Context, sessionID string) (string, error) {
	if !r.caps.CanReportStatus() {
		return "", ErrStatusUnsupported
	}
	return callWithRetry(ctx, r.breakers.Get("status"), r.retry, retryAny, func() (string, error) {
		return r.caps.Status(ctx, sessionID)
	})
}

// Abort requests cancellation of the session.
func (r *Resilient) Abort(ctx context.Context, sessionID string) error {
	if !r.caps.CanAbort() {
		return ErrAbortUnsupported
	}
	_, err := callWithRetry(ctx, r.breakers.Get("abort"), r.retry, retryAny, func() (struct{}, error) {
		return struct{}{}, r.caps.Abort(ctx, sessionID)
	})
	return err
}

// callerGone marks a failure caused by the caller's context ending. It says
// nothing about the health of the server, so breakers do not count it.
type callerGone struct{ err error }

func (e callerGone) Error() string { return e.err.Error() }
func (e callerGone) Unwrap() error { return e.err }

// retryPolicy decides whether a failed attempt may be repeated.
type retryPolicy func(err error) bool

// retryAny suits idempotent operations: every transient failure is retried.
func retryAny(err error) bool { return !isPermanent(err) }

// retrySafe suits non-idempotent operations. It retries only failures where
// the server certainly did not act on the request: a dial failure, or a
// 5xx/429 answer.
func retrySafe(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// callWithRetry runs fn with exponential backoff retry and circuit breaker protection.
func callWithRetry[T any](ctx context.Context, cb *gobreaker.CircuitBreaker, retryCfg RetryConfig, retryable retryPolicy, fn func() (T, error)) (T, error) {
	var result T

	operation := func() error {
		// Check context first - fail fast if cancelled
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		out, err := cb.Execute(func() (interface{}, error) {
			out, err := fn()
			if err != nil && ctx.Err() != nil {
				return out, callerGone{err: err}
			}
			return out, err
		})
		if err != nil {
			var gone callerGone
			if errors.As(err, &gone) {
				return backoff.Permanent(gone.err)
			}
			// Circuit is open - don't retry
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		result = out.(T)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryCfg.InitialInterval
	policy.MaxInterval = retryCfg.MaxInterval
	policy.MaxElapsedTime = retryCfg.MaxElapsedTime
	policy.Multiplier = retryCfg.Multiplier
	policy.RandomizationFactor = retryCfg.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	return result, err
}

// isPermanent reports whether retrying err cannot help: client errors other
// than rate limiting.
func isPermanent(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != http.StatusTooManyRequests
}
