package buffer

import (
	"github.com/c360/skystream/metric"
)

// Option configures a Ring.
type Option[T any] func(*ringOptions[T])

type ringOptions[T any] struct {
	overflowPolicy   OverflowPolicy
	dropCallback     DropCallback[T]
	metricsReg       metric.MetricsRegistrar
	metricsComponent string
}

// WithOverflowPolicy sets the overflow behavior. Defaults to DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(opts *ringOptions[T]) {
		opts.overflowPolicy = policy
	}
}

// WithMetrics exports the ring's counters under component. Ignored when registry is nil.
func WithMetrics[T any](registry metric.MetricsRegistrar, component string) Option[T] {
	return func(opts *ringOptions[T]) {
		if registry != nil && component != "" {
			opts.metricsReg = registry
			opts.metricsComponent = component
		}
	}
}

// WithDropCallback sets a callback for items lost to overflow.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *ringOptions[T]) {
		opts.dropCallback = callback
	}
}

func applyOptions[T any](options ...Option[T]) *ringOptions[T] {
	opts := &ringOptions[T]{overflowPolicy: DropOldest}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
