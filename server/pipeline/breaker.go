package pipeline

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mattermost/mattermost-plugin-vma/server/logging"
	"github.com/mattermost/mattermost-plugin-vma/server/metrics"
)

const (
	// DefaultFailureThreshold is the number of consecutive failed runs that opens the breaker
	DefaultFailureThreshold = 5

	// DefaultCooldown is how long the breaker stays open
	DefaultCooldown = 5 * time.Minute
)

// CircuitBreaker stops pipeline runs after repeated failures and clears itself after a cool-down.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	clock     clock.Clock
	logger    logging.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	failures int
	open     bool
	openedAt time.Time
	reset    *clock.Timer
	stopped  bool
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(threshold int, cooldown time.Duration, clk clock.Clock, logger logging.Logger, m *metrics.Metrics) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if clk == nil {
		clk = clock.New()
	}

	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		clock:     clk,
		logger:    logger,
		metrics:   m,
	}
}

// RecordFailure counts a failed run and opens the breaker once the threshold is reached.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.open || b.stopped || b.failures < b.threshold {
		return
	}

	b.open = true
	b.openedAt = b.clock.Now()
	b.reset = b.clock.AfterFunc(b.cooldown, b.close)
	b.metrics.BreakerOpen(true)
	b.logger.Error("Circuit breaker opened, pausing alert fetches",
		"consecutiveFailures", b.failures,
		"cooldown", b.cooldown.String())
}

// RecordSuccess resets the failure counter.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// IsOpen reports whether runs are currently blocked.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Failures returns the current count of consecutive failures.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// OpenedAt returns when the breaker last opened, or the zero time while closed.
func (b *CircuitBreaker) OpenedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return time.Time{}
	}
	return b.openedAt
}

func (b *CircuitBreaker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped || !b.open {
		return
	}

	b.open = false
	b.failures = 0
	b.reset = nil
	b.metrics.BreakerOpen(false)
	b.logger.Info("Circuit breaker closed, resuming alert fetches")
}

// Stop cancels the pending reset.
func (b *CircuitBreaker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	if b.reset != nil {
		b.reset.Stop()
		b.reset = nil
	}
}
