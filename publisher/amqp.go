package publisher

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/c360/skystream/errors"
	"github.com/c360/skystream/pkg/retry"
)

// AMQPConfig describes the broker connection and the exchange.
type AMQPConfig struct {
	Host     string
	Port     int
	Vhost    string
	Username string
	Password string
	Exchange string
	// TLS switches the connection to amqps when set.
	TLS *tls.Config
	// Redial controls reconnects after the connection drops.
	Redial retry.Config
}

// URI returns the amqp:// or amqps:// URI for c.
func (c AMQPConfig) URI() string {
	scheme := "amqp"
	if c.TLS != nil {
		scheme = "amqps"
	}
	return amqp.URI{
		Scheme:   scheme,
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		Vhost:    c.Vhost,
	}.String()
}

// AMQPBroker publishes to one non-durable topic exchange. Publishes do not use
// publisher confirms.
type AMQPBroker struct {
	cfg    AMQPConfig
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	lastErr error

	healthy atomic.Bool
	closed  atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewAMQPBroker dials the broker, retrying with the given policy, and declares the
// exchange. After a dropped connection it redials in the background until Close.
func NewAMQPBroker(ctx context.Context, cfg AMQPConfig, dial retry.Config, logger *slog.Logger) (*AMQPBroker, error) {
	if cfg.Exchange == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "AMQPBroker", "New", "exchange name")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Redial.MaxAttempts == 0 {
		cfg.Redial = retry.Persistent()
	}

	b := &AMQPBroker{cfg: cfg, logger: logger.With("component", "amqp", "exchange", cfg.Exchange)}

	dial.OnRetry = func(attempt int, err error, wait time.Duration) {
		b.logger.Warn("Broker connection failed, retrying", "attempt", attempt, "error", err, "wait", wait)
	}
	if err := retry.Do(ctx, dial, b.connect); err != nil {
		return nil, errors.Wrap(err, "AMQPBroker", "New", "connect")
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go b.watch(watchCtx)

	return b, nil
}

// connect opens a connection and channel and declares the exchange.
func (b *AMQPBroker) connect() error {
	conn, err := amqp.DialConfig(b.cfg.URI(), amqp.Config{
		Vhost:           b.cfg.Vhost,
		Heartbeat:       10 * time.Second,
		TLSClientConfig: b.cfg.TLS,
		Properties:      amqp.Table{"connection_name": "skystream"},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrNoConnection, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: open channel: %v", errors.ErrNoConnection, err)
	}

	// topic, non-durable, not auto-deleted
	if err := ch.ExchangeDeclare(b.cfg.Exchange, amqp.ExchangeTopic, false, false, false, false, nil); err != nil {
		conn.Close()
		return retry.NonRetryable(fmt.Errorf("declare exchange %q: %w", b.cfg.Exchange, err))
	}

	b.mu.Lock()
	b.conn, b.channel = conn, ch
	b.lastErr = nil
	b.mu.Unlock()
	b.healthy.Store(true)

	b.logger.Info("Connected to broker", "host", b.cfg.Host, "port", b.cfg.Port, "vhost", b.cfg.Vhost)
	return nil
}

// watch redials whenever the connection closes unexpectedly.
func (b *AMQPBroker) watch(ctx context.Context) {
	defer b.wg.Done()

	for {
		b.mu.RLock()
		conn := b.conn
		b.mu.RUnlock()

		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-ctx.Done():
			return
		case amqpErr, ok := <-closed:
			b.healthy.Store(false)
			if b.closed.Load() || ctx.Err() != nil {
				return
			}
			if ok && amqpErr != nil {
				b.setErr(fmt.Errorf("%w: %v", errors.ErrConnectionLost, amqpErr))
				b.logger.Error("Broker connection lost", "error", amqpErr)
			} else {
				b.setErr(errors.ErrConnectionLost)
				b.logger.Error("Broker connection lost")
			}
		}

		redial := b.cfg.Redial
		redial.OnRetry = func(attempt int, err error, wait time.Duration) {
			b.setErr(err)
			b.logger.Warn("Broker reconnect failed", "attempt", attempt, errors.Attr(err), "wait", wait)
		}
		if err := retry.Do(ctx, redial, b.connect); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.setErr(err)
			pause := redialPause(b.cfg.Redial)
			b.logger.Error("Broker reconnect attempts exhausted", "error", err, "next_attempt_in", pause)
			// the old connection is already closed, so NotifyClose fires at once on the next pass
			if !sleepCtx(ctx, pause) {
				return
			}
		}
	}
}

// redialPause is the wait between redial rounds that gave up.
func redialPause(cfg retry.Config) time.Duration {
	if cfg.MaxDelay > 0 {
		return cfg.MaxDelay
	}
	return time.Second
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (b *AMQPBroker) setErr(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
}

// Publish implements Broker.
func (b *AMQPBroker) Publish(ctx context.Context, routingKey string, body []byte) error {
	if b.closed.Load() {
		return errors.WrapInvalid(errors.ErrBrokerClosed, "AMQPBroker", "Publish", routingKey)
	}

	b.mu.RLock()
	ch := b.channel
	b.mu.RUnlock()
	if ch == nil || !b.healthy.Load() {
		return errors.WrapTransient(errors.ErrConnectionLost, "AMQPBroker", "Publish", routingKey)
	}

	err := ch.PublishWithContext(ctx, b.cfg.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
			"AMQPBroker", "Publish", routingKey)
	}
	return nil
}

// Healthy reports whether the connection is up.
func (b *AMQPBroker) Healthy() bool {
	return b.healthy.Load()
}

// Err returns why the broker is unavailable, or nil while it is connected.
func (b *AMQPBroker) Err() error {
	if b.closed.Load() {
		return errors.ErrBrokerClosed
	}
	if b.healthy.Load() {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastErr != nil {
		return b.lastErr
	}
	return errors.ErrConnectionLost
}

// Close stops reconnecting and closes the connection.
func (b *AMQPBroker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.healthy.Store(false)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	if err := b.conn.Close(); err != nil && !b.conn.IsClosed() {
		return errors.Wrap(err, "AMQPBroker", "Close", "close connection")
	}
	return nil
}
