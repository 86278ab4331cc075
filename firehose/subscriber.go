package firehose

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/skystream/errors"
	"github.com/c360/skystream/lex"
	"github.com/c360/skystream/metric"
)

// Defaults applied by NewSubscriber.
const (
	DefaultReconnectDelay      = 5 * time.Second
	DefaultReadTimeout         = 60 * time.Second
	DefaultHandshakeTimeout    = 45 * time.Second
	DefaultCursorFlushInterval = time.Second
)

// Handler processes one commit event. Errors are logged and do not stop the stream.
type Handler func(ctx context.Context, evt *Commit) error

// Config configures a Subscriber.
type Config struct {
	// Service is the relay base URL, e.g. wss://bsky.network.
	Service string
	// ReconnectDelay is the fixed wait between a lost connection and the next dial.
	ReconnectDelay time.Duration
	// ReadTimeout drops a connection that has been silent this long. Pings are sent
	// every third of it, so a live but quiet relay keeps the connection.
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
	// CursorFlushInterval bounds how often the cursor is written to the CursorStore.
	CursorFlushInterval time.Duration
}

// Option configures optional Subscriber dependencies.
type Option func(*Subscriber)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Subscriber) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCursorStore sets where the cursor is persisted. Defaults to a MemoryCursorStore.
func WithCursorStore(store CursorStore) Option {
	return func(s *Subscriber) {
		if store != nil {
			s.cursors = store
		}
	}
}

// WithValidator sets the schema validator. Defaults to lex.Default.
func WithValidator(v *lex.Validator) Option {
	return func(s *Subscriber) {
		if v != nil {
			s.validator = v
		}
	}
}

// WithMetrics exports subscriber metrics under component.
func WithMetrics(registry metric.MetricsRegistrar, component string) Option {
	return func(s *Subscriber) {
		s.metricsReg = registry
		s.metricsComponent = component
	}
}

// ErrorRecorder counts failures by error class.
type ErrorRecorder interface {
	RecordError(component string, err error)
}

// WithErrorRecorder reports every stream error that forces a reconnect to r.
func WithErrorRecorder(r ErrorRecorder) Option {
	return func(s *Subscriber) {
		s.errs = r
	}
}

// Subscriber consumes the repo event stream and feeds commits to a Handler.
type Subscriber struct {
	config    Config
	handler   Handler
	logger    *slog.Logger
	cursors   CursorStore
	validator *lex.Validator
	dialer    *websocket.Dialer
	errs      ErrorRecorder

	metricsReg       metric.MetricsRegistrar
	metricsComponent string
	metrics          *subscriberMetrics

	cursorMu  sync.Mutex
	cursor    int64
	hasCursor bool
	lastFlush time.Time

	connected atomic.Bool
}

// NewSubscriber validates cfg and creates a subscriber. It does not connect.
func NewSubscriber(cfg Config, handler Handler, opts ...Option) (*Subscriber, error) {
	if cfg.Service == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "firehose", "NewSubscriber", "service url")
	}
	if _, err := url.Parse(cfg.Service); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"firehose", "NewSubscriber", "parse service url")
	}
	if handler == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "firehose", "NewSubscriber", "nil handler")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.CursorFlushInterval <= 0 {
		cfg.CursorFlushInterval = DefaultCursorFlushInterval
	}

	s := &Subscriber{
		config:  cfg,
		handler: handler,
		logger:  slog.Default(),
		cursors: NewMemoryCursorStore(),
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.validator == nil {
		s.validator = lex.Default()
	}
	s.logger = s.logger.With("component", "firehose")

	if s.metricsReg != nil {
		component := s.metricsComponent
		if component == "" {
			component = "firehose"
		}
		m, err := newSubscriberMetrics(s.metricsReg, component)
		if err != nil {
			return nil, errors.WrapTransient(err, "firehose", "NewSubscriber", "metrics registration")
		}
		s.metrics = m
	}
	return s, nil
}

// Cursor returns the sequence number of the last processed event.
func (s *Subscriber) Cursor() (int64, bool) {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	return s.cursor, s.hasCursor
}

// Connected reports whether a stream connection is currently open.
func (s *Subscriber) Connected() bool {
	return s.connected.Load()
}

// URL returns the subscription URL for the current cursor.
func (s *Subscriber) URL() string {
	u, err := url.Parse(s.config.Service)
	if err != nil {
		return s.config.Service
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/xrpc/" + lex.SubscribeRepos

	q := u.Query()
	if seq, ok := s.Cursor(); ok {
		q.Set("cursor", strconv.FormatInt(seq, 10))
	} else {
		q.Del("cursor")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Run streams until ctx is cancelled, reconnecting after every failure. It returns
// nil once ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	s.restoreCursor(ctx)
	defer s.flushCursor()

	for {
		err := s.stream(ctx)
		if ctx.Err() != nil {
			s.logger.Info("Firehose stopped")
			return nil
		}

		s.logger.Error("repo subscription errored", errors.Attr(err), "retry_in", s.config.ReconnectDelay)
		if s.metrics != nil {
			s.metrics.reconnects.Inc()
		}
		if s.errs != nil {
			s.errs.RecordError("firehose", err)
		}

		timer := time.NewTimer(s.config.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Firehose stopped")
			return nil
		case <-timer.C:
		}
	}
}

// stream runs one connection until it fails or ctx is done.
func (s *Subscriber) stream(ctx context.Context) error {
	target := s.URL()
	s.logger.Debug("Connecting to firehose", "url", target)

	conn, _, err := s.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrNoConnection, err),
			"firehose", "stream", "dial")
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.setConnected(true)
	defer s.setConnected(false)
	s.logger.Info("Firehose connected", "url", target)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})
	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.ping(conn, pingDone)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
			return errors.WrapTransient(err, "firehose", "stream", "set read deadline")
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
				"firehose", "stream", "read message")
		}
		if msgType != websocket.BinaryMessage {
			s.drop(dropMessageType, fmt.Errorf("%w: websocket message type %d", errors.ErrInvalidFrame, msgType))
			continue
		}

		if err := s.handleFrame(ctx, data); err != nil {
			return err
		}
	}
}

// ping keeps a quiet connection alive until done is closed. Missing pongs surface as a
// read deadline error in stream.
func (s *Subscriber) ping(conn *websocket.Conn, done <-chan struct{}) {
	interval := s.config.ReadTimeout / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval)); err != nil {
				s.logger.Debug("Firehose ping failed", errors.Attr(err))
				return
			}
		}
	}
}

// handleFrame processes one frame. Only relay error frames return an error.
func (s *Subscriber) handleFrame(ctx context.Context, data []byte) error {
	frame, err := DecodeFrame(data, s.validator)
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrUnsupportedFrame):
			s.drop(dropUnsupported, err)
		case errors.Is(err, errors.ErrSchemaViolation):
			s.drop(dropSchema, err)
		default:
			s.drop(dropDecode, err)
		}
		return nil
	}

	if frame.Error != nil {
		if s.metrics != nil {
			s.metrics.framesReceived.WithLabelValues("error").Inc()
		}
		return errors.WrapTransient(
			fmt.Errorf("%w: %s: %s", errors.ErrStreamError, frame.Error.Error, frame.Error.Message),
			"firehose", "handleFrame", "relay error frame")
	}

	if s.metrics != nil {
		s.metrics.framesReceived.WithLabelValues(strings.TrimPrefix(frame.Type, "#")).Inc()
	}

	switch {
	case frame.Commit != nil:
		s.dispatch(ctx, frame.Commit)
	case frame.Info != nil:
		s.logger.Info("Relay info", "name", frame.Info.Name, "message", frame.Info.Message)
	}

	if frame.HasSeq {
		s.advance(ctx, frame.Seq)
	}
	return nil
}

// dispatch calls the handler, containing errors and panics.
func (s *Subscriber) dispatch(ctx context.Context, evt *Commit) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("repo subscription could not handle message",
				"seq", evt.Seq, "repo", evt.Repo, "panic", r)
			if s.metrics != nil {
				s.metrics.handlerErrors.Inc()
			}
		}
	}()

	if s.metrics != nil {
		s.metrics.eventsHandled.Inc()
	}
	if err := s.handler(ctx, evt); err != nil {
		s.logger.Error("repo subscription could not handle message",
			"seq", evt.Seq, "repo", evt.Repo, errors.Attr(err))
		if s.metrics != nil {
			s.metrics.handlerErrors.Inc()
		}
	}
}

func (s *Subscriber) drop(reason string, err error) {
	s.logger.Warn("repo subscription skipped invalid message", "reason", reason, errors.Attr(err))
	if s.metrics != nil {
		s.metrics.framesDropped.WithLabelValues(reason).Inc()
	}
}

// advance moves the cursor forward; it never moves back.
func (s *Subscriber) advance(ctx context.Context, seq int64) {
	s.cursorMu.Lock()
	if s.hasCursor && seq <= s.cursor {
		s.cursorMu.Unlock()
		return
	}
	s.cursor, s.hasCursor = seq, true
	flush := time.Since(s.lastFlush) >= s.config.CursorFlushInterval
	if flush {
		s.lastFlush = time.Now()
	}
	s.cursorMu.Unlock()

	if s.metrics != nil {
		s.metrics.cursor.Set(float64(seq))
	}
	if flush {
		if err := s.cursors.Save(ctx, seq); err != nil {
			s.logger.Warn("Failed to persist cursor", "seq", seq, "error", err)
		}
	}
}

func (s *Subscriber) restoreCursor(ctx context.Context) {
	seq, ok, err := s.cursors.Load(ctx)
	if err != nil {
		s.logger.Warn("Failed to load cursor, starting from the live stream", "error", err)
		return
	}
	if !ok {
		return
	}

	s.cursorMu.Lock()
	if !s.hasCursor || seq > s.cursor {
		s.cursor, s.hasCursor = seq, true
	}
	s.cursorMu.Unlock()
	s.logger.Info("Resuming firehose", "cursor", seq)
}

func (s *Subscriber) flushCursor() {
	seq, ok := s.Cursor()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cursors.Save(ctx, seq); err != nil {
		s.logger.Warn("Failed to persist cursor", "seq", seq, "error", err)
	}
}

func (s *Subscriber) setConnected(v bool) {
	s.connected.Store(v)
	if s.metrics != nil {
		if v {
			s.metrics.connected.Set(1)
		} else {
			s.metrics.connected.Set(0)
		}
	}
}
