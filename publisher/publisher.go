// Package publisher serialises classified firehose operations and publishes them to a
// topic broker under "{kind}.{action}" routing keys.
package publisher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/skystream/errors"
	"github.com/c360/skystream/metric"
	"github.com/c360/skystream/ops"
	"github.com/c360/skystream/pkg/buffer"
)

// DefaultSpoolSize is the number of encoded messages held while the broker is slow.
const DefaultSpoolSize = 10000

// Config holds publisher settings.
type Config struct {
	// SpoolSize bounds the queue between PublishOps and the broker. Zero or less
	// publishes directly from the caller's goroutine.
	SpoolSize int
	// Overflow picks the message lost when the spool is full. Defaults to DropOldest.
	Overflow buffer.OverflowPolicy
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithThroughput counts every successful publish on t.
func WithThroughput(t *Throughput) Option {
	return func(p *Publisher) {
		p.throughput = t
	}
}

// ErrorRecorder counts failures by error class.
type ErrorRecorder interface {
	RecordError(component string, err error)
}

// WithErrorRecorder reports every failed publish to r.
func WithErrorRecorder(r ErrorRecorder) Option {
	return func(p *Publisher) {
		p.errs = r
	}
}

// WithMetrics exports publisher and spool metrics under component.
func WithMetrics(registry metric.MetricsRegistrar, component string) Option {
	return func(p *Publisher) {
		p.metricsReg = registry
		p.component = component
	}
}

// Publisher is fire-and-forget: a failed publish is logged and counted, never retried.
type Publisher struct {
	broker     Broker
	logger     *slog.Logger
	throughput *Throughput
	errs       ErrorRecorder
	metricsReg metric.MetricsRegistrar
	component  string
	metrics    *publisherMetrics

	spool  *buffer.Ring[Message]
	cancel context.CancelFunc
	done   chan struct{}
	start  sync.Once
	closed atomic.Bool

	published atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewPublisher creates a publisher over broker. Call Start before publishing when the
// spool is enabled.
func NewPublisher(broker Broker, cfg Config, opts ...Option) (*Publisher, error) {
	if broker == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Publisher", "New", "nil broker")
	}
	p := &Publisher{
		broker:    broker,
		logger:    slog.Default(),
		component: "publisher",
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", p.component)

	if p.metricsReg != nil {
		m, err := newPublisherMetrics(p.metricsReg, p.component)
		if err != nil {
			return nil, errors.WrapTransient(err, "Publisher", "New", "metrics registration")
		}
		p.metrics = m
	}

	if cfg.SpoolSize > 0 {
		ringOpts := []buffer.Option[Message]{
			buffer.WithOverflowPolicy[Message](cfg.Overflow),
			buffer.WithDropCallback[Message](p.onDrop),
		}
		if p.metricsReg != nil {
			ringOpts = append(ringOpts, buffer.WithMetrics[Message](p.metricsReg, p.component+"_spool"))
		}
		spool, err := buffer.NewRing(cfg.SpoolSize, ringOpts...)
		if err != nil {
			return nil, errors.Wrap(err, "Publisher", "New", "create spool")
		}
		p.spool = spool
	}
	return p, nil
}

// Start launches the spool drainer. It is a no-op without a spool. The drainer outlives
// ctx only until Close has flushed the spool.
func (p *Publisher) Start(ctx context.Context) {
	if p.spool == nil {
		return
	}
	p.start.Do(func() {
		drainCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		p.cancel = cancel
		go p.drain(drainCtx)
	})
}

func (p *Publisher) drain(ctx context.Context) {
	defer close(p.done)
	for {
		msg, ok := p.spool.ReadWait(ctx)
		if !ok {
			return
		}
		p.send(ctx, msg)
	}
}

// PublishOps publishes one message per operation in b, in the order posts, reposts,
// likes, follows and creates before deletes within each kind. The error reports only
// encoding or a closed publisher; broker failures are absorbed.
func (p *Publisher) PublishOps(ctx context.Context, b *ops.ByType) error {
	if b.Empty() {
		return nil
	}
	if p.closed.Load() {
		return errors.WrapInvalid(errors.ErrSpoolClosed, "Publisher", "PublishOps", "publish after close")
	}

	msgs, err := Encode(b)
	if err != nil {
		if p.metrics != nil {
			p.metrics.encodeFails.Inc()
		}
		return errors.WrapInvalid(err, "Publisher", "PublishOps", "encode operations")
	}

	for _, msg := range msgs {
		if p.spool == nil {
			p.send(ctx, msg)
			continue
		}
		if err := p.spool.Write(msg); err != nil {
			return errors.Wrap(err, "Publisher", "PublishOps", "enqueue message")
		}
	}
	return nil
}

func (p *Publisher) send(ctx context.Context, msg Message) {
	if err := p.broker.Publish(ctx, msg.Key, msg.Body); err != nil {
		p.failed.Add(1)
		if p.metrics != nil {
			p.metrics.failed.WithLabelValues(msg.Key).Inc()
		}
		if p.errs != nil {
			p.errs.RecordError(p.component, err)
		}
		p.logger.Warn("Publish failed", "routing_key", msg.Key, errors.Attr(err))
		return
	}

	p.published.Add(1)
	if p.metrics != nil {
		p.metrics.published.WithLabelValues(msg.Key).Inc()
	}
	if p.throughput != nil {
		p.throughput.Add(1)
	}
}

func (p *Publisher) onDrop(msg Message) {
	n := p.dropped.Add(1)
	if p.metrics != nil {
		p.metrics.spoolDrops.Inc()
	}
	// one line per thousand drops keeps a stalled broker from flooding the log
	if n == 1 || n%1000 == 0 {
		p.logger.Warn("Spool full, message dropped", "routing_key", msg.Key, "dropped_total", n)
	}
}

// Published returns the number of messages the broker accepted.
func (p *Publisher) Published() int64 { return p.published.Load() }

// Failed returns the number of messages the broker rejected.
func (p *Publisher) Failed() int64 { return p.failed.Load() }

// Dropped returns the number of messages evicted from a full spool.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Pending returns the number of spooled messages not yet sent.
func (p *Publisher) Pending() int {
	if p.spool == nil {
		return 0
	}
	return p.spool.Len()
}

// Close stops accepting operations and flushes the spool. When ctx expires first the
// remaining messages are abandoned. The broker is left open.
func (p *Publisher) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if p.spool == nil {
		return nil
	}
	_ = p.spool.Close()
	if p.cancel == nil {
		// never started
		return nil
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		p.cancel()
		<-p.done
		p.logger.Warn("Spool flush abandoned", "pending", p.spool.Len())
		return errors.WrapTransient(ctx.Err(), "Publisher", "Close", "flush spool")
	}
}
