package cache

import (
	"context"
	"time"

	"github.com/c360/skystream/metric"
)

// Option configures a Hybrid cache.
type Option[V any] func(*cacheOptions[V])

type cacheOptions[V any] struct {
	metricsReg       metric.MetricsRegistrar
	metricsComponent string
	clock            func() time.Time
	cleanupInterval  time.Duration
	cleanupCtx       context.Context
}

// WithMetrics exports the cache counters under component. Ignored when registry is nil.
func WithMetrics[V any](registry metric.MetricsRegistrar, component string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && component != "" {
			opts.metricsReg = registry
			opts.metricsComponent = component
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(opts *cacheOptions[V]) {
		if now != nil {
			opts.clock = now
		}
	}
}

// WithCleanup starts a goroutine that sweeps expired entries every interval until ctx
// is done or Close is called. Without it stale entries are removed lazily on Get.
func WithCleanup[V any](ctx context.Context, interval time.Duration) Option[V] {
	return func(opts *cacheOptions[V]) {
		if interval > 0 && ctx != nil {
			opts.cleanupCtx = ctx
			opts.cleanupInterval = interval
		}
	}
}

func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{clock: time.Now}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
