// Package buffer provides a bounded, thread-safe ring buffer with an overflow policy.
//
// The publisher spool uses it so the firehose handler never waits on the broker:
// producers Write without blocking and a single consumer drains with ReadWait.
package buffer

import (
	"context"
	"sync"

	"github.com/c360/skystream/errors"
)

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the incoming item.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called, outside the lock, with each item lost to overflow.
type DropCallback[T any] func(item T)

// Ring is a fixed-capacity FIFO.
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int // next write
	tail     int // next read
	size     int
	closed   bool
	notEmpty chan struct{}

	policy  OverflowPolicy
	onDrop  DropCallback[T]
	stats   *Statistics
	metrics *bufferMetrics
}

// NewRing creates a ring holding at most capacity items. Capacity below 1 is raised to 1.
func NewRing[T any](capacity int, options ...Option[T]) (*Ring[T], error) {
	if capacity <= 0 {
		capacity = 1
	}
	opts := applyOptions(options...)

	r := &Ring[T]{
		items:    make([]T, capacity),
		notEmpty: make(chan struct{}, 1),
		policy:   opts.overflowPolicy,
		onDrop:   opts.dropCallback,
		stats:    &Statistics{},
	}

	if opts.metricsReg != nil {
		m, err := newBufferMetrics(opts.metricsReg, opts.metricsComponent)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "NewRing", "metrics registration")
		}
		r.metrics = m
	}
	return r, nil
}

func (r *Ring[T]) signal() {
	select {
	case r.notEmpty <- struct{}{}:
	default:
	}
}

// Write appends item, applying the overflow policy when full. It never blocks.
func (r *Ring[T]) Write(item T) error {
	var dropped T
	didDrop := false

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrSpoolClosed, "buffer", "Write", "write to closed ring")
	}

	if r.size == len(r.items) {
		r.stats.drop()
		if r.metrics != nil {
			r.metrics.drops.Inc()
		}
		if r.policy == DropNewest {
			r.mu.Unlock()
			if r.onDrop != nil {
				r.onDrop(item)
			}
			return nil
		}
		dropped = r.items[r.tail]
		didDrop = true
		r.tail = (r.tail + 1) % len(r.items)
		r.size--
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	r.size++
	r.stats.write(r.size)
	if r.metrics != nil {
		r.metrics.writes.Inc()
		r.metrics.size.Set(float64(r.size))
	}
	r.mu.Unlock()

	r.signal()
	if didDrop && r.onDrop != nil {
		r.onDrop(dropped)
	}
	return nil
}

// Read removes and returns the oldest item; false when empty.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked()
}

func (r *Ring[T]) readLocked() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.items[r.tail]
	r.items[r.tail] = zero
	r.tail = (r.tail + 1) % len(r.items)
	r.size--
	r.stats.read()
	if r.metrics != nil {
		r.metrics.reads.Inc()
		r.metrics.size.Set(float64(r.size))
	}
	return item, true
}

// ReadWait blocks until an item is available, the ring is closed and drained, or ctx
// is done. The boolean is false only in the last two cases.
func (r *Ring[T]) ReadWait(ctx context.Context) (T, bool) {
	var zero T
	for {
		r.mu.Lock()
		item, ok := r.readLocked()
		closed := r.closed
		r.mu.Unlock()

		if ok {
			return item, true
		}
		if closed {
			return zero, false
		}

		select {
		case <-ctx.Done():
			return zero, false
		case <-r.notEmpty:
		}
	}
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the maximum number of items the ring can hold.
func (r *Ring[T]) Capacity() int {
	return len(r.items)
}

// Stats returns the ring's counters.
func (r *Ring[T]) Stats() *Statistics {
	return r.stats
}

// Close rejects further writes and wakes a waiting reader. Buffered items can still
// be read.
func (r *Ring[T]) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.signal()
	return nil
}
