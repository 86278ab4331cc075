package firehose

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/skystream/metric"
	"github.com/c360/skystream/testutil"
)

// session is what the fake relay does on one connection.
type session struct {
	frames [][]byte
	close  bool // close after sending; otherwise hold open until the client leaves
}

// fakeRelay serves scripted sessions and records the cursor each connection asked for.
type fakeRelay struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions []session
	cursors  []string
	paths    []string
}

func newFakeRelay(t *testing.T, sessions ...session) *fakeRelay {
	r := &fakeRelay{
		t:        t,
		sessions: sessions,
		upgrader: websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }},
	}
	r.server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.server.Close)
	return r
}

func (r *fakeRelay) serve(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.t.Logf("Upgrade error: %v", err)
		return
	}
	defer conn.Close()

	r.mu.Lock()
	idx := len(r.cursors)
	r.cursors = append(r.cursors, req.URL.Query().Get("cursor"))
	r.paths = append(r.paths, req.URL.Path)
	var s session
	if idx < len(r.sessions) {
		s = r.sessions[idx]
	}
	r.mu.Unlock()

	for _, f := range s.frames {
		if err := conn.WriteMessage(websocket.BinaryMessage, f); err != nil {
			return
		}
	}
	if s.close {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (r *fakeRelay) URL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *fakeRelay) Cursors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cursors...)
}

// recorder is a Handler that records event seqs and can fail or panic on demand.
type recorder struct {
	mu      sync.Mutex
	seqs    []int64
	failOn  map[int64]bool
	panicOn map[int64]bool
}

func (rec *recorder) handle(_ context.Context, evt *Commit) error {
	rec.mu.Lock()
	rec.seqs = append(rec.seqs, evt.Seq)
	fail, panics := rec.failOn[evt.Seq], rec.panicOn[evt.Seq]
	rec.mu.Unlock()

	if panics {
		panic("handler exploded")
	}
	if fail {
		return fmt.Errorf("handler failed for %d", evt.Seq)
	}
	return nil
}

func (rec *recorder) Seqs() []int64 {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]int64(nil), rec.seqs...)
}

func commitFrame(t *testing.T, seq int64) []byte {
	return testutil.CommitFrame(t, testutil.Commit{Seq: seq, Repo: "did:plc:alice"})
}

// runSubscriber starts s.Run and returns a stop func that cancels and waits for it.
func runSubscriber(t *testing.T, s *Subscriber) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
}

func TestSubscriber_HandlerFailuresStillAdvanceCursor(t *testing.T) {
	relay := newFakeRelay(t, session{frames: [][]byte{
		commitFrame(t, 1),
		commitFrame(t, 2),
		commitFrame(t, 3),
	}})

	rec := &recorder{failOn: map[int64]bool{1: true}, panicOn: map[int64]bool{2: true}}
	s, err := NewSubscriber(Config{Service: relay.URL()}, rec.handle)
	require.NoError(t, err)

	stop := runSubscriber(t, s)
	defer stop()

	require.Eventually(t, func() bool { return len(rec.Seqs()) == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3}, rec.Seqs())

	seq, ok := s.Cursor()
	assert.True(t, ok)
	assert.Equal(t, int64(3), seq)
	assert.True(t, s.Connected())

	relay.mu.Lock()
	assert.Equal(t, "/xrpc/com.atproto.sync.subscribeRepos", relay.paths[0])
	relay.mu.Unlock()
}

func TestSubscriber_InvalidFramesDroppedConnectionKept(t *testing.T) {
	relay := newFakeRelay(t, session{frames: [][]byte{
		commitFrame(t, 5),
		{0xde, 0xad, 0xbe, 0xef},
		testutil.CommitFrame(t, testutil.Commit{Seq: 6, Repo: "not a did"}),
		testutil.Frame(t, "#labels", map[string]any{"seq": 7}),
		commitFrame(t, 8),
	}})

	registry := metric.NewMetricsRegistry()
	rec := &recorder{}
	s, err := NewSubscriber(Config{Service: relay.URL()}, rec.handle, WithMetrics(registry, "firehose_test"))
	require.NoError(t, err)

	stop := runSubscriber(t, s)
	defer stop()

	require.Eventually(t, func() bool { return len(rec.Seqs()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int64{5, 8}, rec.Seqs())

	seq, _ := s.Cursor()
	assert.Equal(t, int64(8), seq)

	// still on the first connection
	assert.Len(t, relay.Cursors(), 1)
	assert.Equal(t, float64(1), promtestutil.ToFloat64(s.metrics.framesDropped.WithLabelValues(dropDecode)))
	assert.Equal(t, float64(1), promtestutil.ToFloat64(s.metrics.framesDropped.WithLabelValues(dropSchema)))
	assert.Equal(t, float64(1), promtestutil.ToFloat64(s.metrics.framesDropped.WithLabelValues(dropUnsupported)))
	assert.Equal(t, float64(2), promtestutil.ToFloat64(s.metrics.eventsHandled))
	assert.Equal(t, float64(8), promtestutil.ToFloat64(s.metrics.cursor))
}

func TestSubscriber_ReconnectResumesFromCursor(t *testing.T) {
	relay := newFakeRelay(t,
		session{frames: [][]byte{commitFrame(t, 10), commitFrame(t, 11)}, close: true},
		session{frames: [][]byte{testutil.ErrorFrame(t, "ConsumerTooSlow", "slow down")}},
		session{frames: [][]byte{commitFrame(t, 12)}},
	)

	rec := &recorder{}
	s, err := NewSubscriber(Config{Service: relay.URL(), ReconnectDelay: 10 * time.Millisecond}, rec.handle)
	require.NoError(t, err)

	stop := runSubscriber(t, s)
	defer stop()

	require.Eventually(t, func() bool { return len(rec.Seqs()) == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int64{10, 11, 12}, rec.Seqs())

	cursors := relay.Cursors()
	require.Len(t, cursors, 3)
	assert.Equal(t, "", cursors[0], "first connection starts at the live head")
	assert.Equal(t, "11", cursors[1])
	assert.Equal(t, "11", cursors[2], "error frame must not move the cursor")
}

func TestSubscriber_NonCommitFramesAdvanceCursor(t *testing.T) {
	relay := newFakeRelay(t, session{frames: [][]byte{
		commitFrame(t, 20),
		testutil.IdentityFrame(t, 21, "did:plc:bob"),
		testutil.InfoFrame(t, "OutdatedCursor", "replaying"),
	}})

	rec := &recorder{}
	s, err := NewSubscriber(Config{Service: relay.URL()}, rec.handle)
	require.NoError(t, err)

	stop := runSubscriber(t, s)
	defer stop()

	require.Eventually(t, func() bool {
		seq, _ := s.Cursor()
		return seq == 21
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int64{20}, rec.Seqs())
}

func TestSubscriber_CursorNeverMovesBack(t *testing.T) {
	relay := newFakeRelay(t, session{frames: [][]byte{
		commitFrame(t, 30),
		commitFrame(t, 29),
	}})

	rec := &recorder{}
	s, err := NewSubscriber(Config{Service: relay.URL()}, rec.handle)
	require.NoError(t, err)

	stop := runSubscriber(t, s)
	defer stop()

	require.Eventually(t, func() bool { return len(rec.Seqs()) == 2 }, 5*time.Second, 10*time.Millisecond)
	seq, _ := s.Cursor()
	assert.Equal(t, int64(30), seq)
}

func TestSubscriber_CursorStore(t *testing.T) {
	store := NewMemoryCursorStore()
	require.NoError(t, store.Save(context.Background(), 42))

	relay := newFakeRelay(t, session{frames: [][]byte{commitFrame(t, 43)}})
	rec := &recorder{}
	s, err := NewSubscriber(Config{Service: relay.URL()}, rec.handle, WithCursorStore(store))
	require.NoError(t, err)

	stop := runSubscriber(t, s)
	require.Eventually(t, func() bool { return len(rec.Seqs()) == 1 }, 5*time.Second, 10*time.Millisecond)
	stop()

	assert.Equal(t, []string{"42"}, relay.Cursors())

	seq, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(43), seq, "cursor is flushed on shutdown")
}

func TestSubscriber_StopsWhileReconnecting(t *testing.T) {
	rec := &recorder{}
	s, err := NewSubscriber(Config{Service: "ws://127.0.0.1:1", ReconnectDelay: time.Hour}, rec.handle)
	require.NoError(t, err)

	stop := runSubscriber(t, s)
	time.Sleep(50 * time.Millisecond)
	stop()
	assert.False(t, s.Connected())
}

func TestSubscriber_URL(t *testing.T) {
	s, err := NewSubscriber(Config{Service: "wss://bsky.network/"}, (&recorder{}).handle)
	require.NoError(t, err)
	assert.Equal(t, "wss://bsky.network/xrpc/com.atproto.sync.subscribeRepos", s.URL())

	s.advance(context.Background(), 1234)
	assert.Equal(t, "wss://bsky.network/xrpc/com.atproto.sync.subscribeRepos?cursor=1234", s.URL())
}

func TestNewSubscriber_Validation(t *testing.T) {
	_, err := NewSubscriber(Config{}, (&recorder{}).handle)
	assert.Error(t, err)

	_, err = NewSubscriber(Config{Service: "wss://bsky.network"}, nil)
	assert.Error(t, err)

	s, err := NewSubscriber(Config{Service: "wss://bsky.network"}, (&recorder{}).handle)
	require.NoError(t, err)
	assert.Equal(t, DefaultReconnectDelay, s.config.ReconnectDelay)
	assert.Equal(t, DefaultReadTimeout, s.config.ReadTimeout)
	_, ok := s.Cursor()
	assert.False(t, ok)
}

func TestSubscriber_SilentRelayTriggersReconnect(t *testing.T) {
	var (
		mu    sync.Mutex
		dials int
	)
	release := make(chan struct{})
	upgrader := websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mu.Lock()
		dials++
		mu.Unlock()
		// never reads, so pings go unanswered
		select {
		case <-release:
		case <-time.After(10 * time.Second):
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	errs := &errorCounter{}
	s, err := NewSubscriber(Config{
		Service:        "ws" + strings.TrimPrefix(server.URL, "http"),
		ReconnectDelay: 10 * time.Millisecond,
		ReadTimeout:    100 * time.Millisecond,
	}, (&recorder{}).handle, WithErrorRecorder(errs))
	require.NoError(t, err)

	stop := runSubscriber(t, s)
	defer stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dials >= 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, errs.count("firehose"), 1)
}

type errorCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *errorCounter) RecordError(component string, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[component]++
}

func (c *errorCounter) count(component string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[component]
}

func TestSubscriber_QuietRelayKeptAliveByPings(t *testing.T) {
	relay := newFakeRelay(t, session{})

	s, err := NewSubscriber(Config{
		Service:        relay.URL(),
		ReconnectDelay: 10 * time.Millisecond,
		ReadTimeout:    300 * time.Millisecond,
	}, (&recorder{}).handle)
	require.NoError(t, err)

	stop := runSubscriber(t, s)
	defer stop()

	require.Eventually(t, s.Connected, 5*time.Second, 10*time.Millisecond)
	time.Sleep(time.Second)
	assert.True(t, s.Connected())
	assert.Len(t, relay.Cursors(), 1)
}
