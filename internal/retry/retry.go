// Package retry runs operations with exponential backoff and an optional
// circuit breaker. The agent uses it for mDNS registration and for
// persisting written values.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/geekxflood/common/config"
)

// ErrCircuitOpen is returned when the breaker refuses to run the operation.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// RetryConfig holds configuration for the retry mechanism
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	JitterRange       float64       `json:"jitter_range"`

	// FailureThreshold consecutive failed runs open the breaker; zero
	// disables it. An open breaker lets one trial run through after
	// OpenTimeout.
	FailureThreshold int           `json:"failure_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout"`
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterRange:       0.1,
		FailureThreshold:  5,
		OpenTimeout:       30 * time.Second,
	}
}

// LoadRetryConfig reads the retry section from the configuration provider.
func LoadRetryConfig(cfg config.Provider) (*RetryConfig, error) {
	c := DefaultRetryConfig()
	if cfg == nil {
		return c, nil
	}

	var err error
	if c.MaxAttempts, err = cfg.GetInt("retry.max_attempts", c.MaxAttempts); err != nil {
		return nil, fmt.Errorf("failed to get retry max attempts: %w", err)
	}
	if c.InitialDelay, err = cfg.GetDuration("retry.initial_delay", c.InitialDelay); err != nil {
		return nil, fmt.Errorf("failed to get retry initial delay: %w", err)
	}
	if c.MaxDelay, err = cfg.GetDuration("retry.max_delay", c.MaxDelay); err != nil {
		return nil, fmt.Errorf("failed to get retry max delay: %w", err)
	}
	if c.BackoffMultiplier, err = cfg.GetFloat("retry.backoff_multiplier", c.BackoffMultiplier); err != nil {
		return nil, fmt.Errorf("failed to get retry backoff multiplier: %w", err)
	}
	if c.FailureThreshold, err = cfg.GetInt("retry.failure_threshold", c.FailureThreshold); err != nil {
		return nil, fmt.Errorf("failed to get retry failure threshold: %w", err)
	}
	if c.OpenTimeout, err = cfg.GetDuration("retry.open_timeout", c.OpenTimeout); err != nil {
		return nil, fmt.Errorf("failed to get retry open timeout: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the configuration for consistency.
func (c *RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.InitialDelay < 0 || c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("retry delays must satisfy 0 <= initial_delay <= max_delay")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("retry backoff_multiplier must be at least 1, got %g", c.BackoffMultiplier)
	}
	if c.JitterRange < 0 || c.JitterRange >= 1 {
		return fmt.Errorf("retry jitter_range must be in [0, 1), got %g", c.JitterRange)
	}
	return nil
}

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns the string representation of a circuit state
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Func is one attempt of a retried operation. Attempts are numbered from 1.
type Func func(ctx context.Context, attempt int) error

// Result describes one Do call.
type Result struct {
	Attempts  int
	TotalTime time.Duration
	Err       error
}

// Stats tracks retry statistics
type Stats struct {
	Runs      int64 `json:"runs"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
	Attempts  int64 `json:"attempts"`
}

// Retryer runs operations with backoff. It is safe for concurrent use.
type Retryer struct {
	config *RetryConfig
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	stats    Stats
}

// NewRetryer creates a retryer. A nil config uses the defaults.
func NewRetryer(cfg *RetryConfig) (*Retryer, error) {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Retryer{
		config: cfg,
		now:    time.Now,
		sleep:  sleepContext,
	}, nil
}

// Do runs fn until it succeeds, the attempts are exhausted or ctx ends.
func (r *Retryer) Do(ctx context.Context, fn Func) Result {
	start := r.now()

	if !r.admit() {
		return Result{TotalTime: r.now().Sub(start), Err: ErrCircuitOpen}
	}

	var lastErr error
	attempt := 0
	for attempt < r.config.MaxAttempts {
		attempt++
		if err := ctx.Err(); err != nil {
			lastErr = err
			attempt--
			break
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			break
		}
		if attempt == r.config.MaxAttempts {
			break
		}
		if err := r.sleep(ctx, r.Delay(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	r.record(attempt, lastErr)
	return Result{Attempts: attempt, TotalTime: r.now().Sub(start), Err: lastErr}
}

// Delay returns the wait after the given failed attempt.
func (r *Retryer) Delay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffMultiplier, float64(attempt-1))
	delay = math.Min(delay, float64(r.config.MaxDelay))

	if r.config.JitterRange > 0 {
		delay += (rand.Float64()*2 - 1) * delay * r.config.JitterRange
	}
	return time.Duration(delay)
}

// State returns the breaker state.
func (r *Retryer) State() CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Reset closes the breaker.
func (r *Retryer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = CircuitClosed
	r.failures = 0
}

// GetStats returns retry statistics
func (r *Retryer) GetStats() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	return map[string]any{
		"runs":          r.stats.Runs,
		"succeeded":     r.stats.Succeeded,
		"failed":        r.stats.Failed,
		"rejected":      r.stats.Rejected,
		"attempts":      r.stats.Attempts,
		"circuit_state": r.state.String(),
	}
}

func (r *Retryer) admit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Runs++
	switch r.state {
	case CircuitOpen:
		if r.now().Sub(r.openedAt) < r.config.OpenTimeout {
			r.stats.Rejected++
			return false
		}
		r.state = CircuitHalfOpen
		return true
	case CircuitHalfOpen:
		// one trial at a time
		r.stats.Rejected++
		return false
	default:
		return true
	}
}

func (r *Retryer) record(attempts int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Attempts += int64(attempts)
	if err == nil {
		r.stats.Succeeded++
		r.state = CircuitClosed
		r.failures = 0
		return
	}

	r.stats.Failed++
	r.failures++
	if r.state == CircuitHalfOpen ||
		(r.config.FailureThreshold > 0 && r.failures >= r.config.FailureThreshold) {
		r.state = CircuitOpen
		r.openedAt = r.now()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
