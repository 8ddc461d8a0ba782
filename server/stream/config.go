package stream

import (
	"time"

	"github.com/mattermost/mattermost-plugin-vma/server/vma"
)

const (
	DefaultBaseDelay           = 5 * time.Second
	DefaultMaxDelay            = 5 * time.Minute
	DefaultMaxAge              = 10 * time.Minute
	DefaultHealthCheckInterval = time.Minute

	// MaxRetryCount caps the retry counter of a source
	MaxRetryCount = 10
)

// Config holds the timing and endpoint settings of the stream manager.
type Config struct {
	Endpoints vma.Endpoints

	// BaseDelay is the delay before the first reconnection attempt
	BaseDelay time.Duration

	// MaxDelay bounds every reconnection delay
	MaxDelay time.Duration

	// MaxAge is how long a connection may live before the health check recycles it
	MaxAge time.Duration

	HealthCheckInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Endpoints == nil {
		c.Endpoints = vma.DefaultEndpoints()
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	return c
}

// ReconnectDelay returns base * 2^(retryCount-1), capped at max.
func ReconnectDelay(base, max time.Duration, retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	if retryCount > MaxRetryCount {
		retryCount = MaxRetryCount
	}

	delay := base << uint(retryCount-1)
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}
