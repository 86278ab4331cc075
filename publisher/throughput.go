package publisher

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultThroughputInterval is how often Throughput.Run reports.
const DefaultThroughputInterval = 10 * time.Second

// Throughput counts published operations between reports.
type Throughput struct {
	count  atomic.Int64
	logger *slog.Logger
}

// NewThroughput returns a zeroed counter that reports to logger.
func NewThroughput(logger *slog.Logger) *Throughput {
	if logger == nil {
		logger = slog.Default()
	}
	return &Throughput{logger: logger}
}

// Add counts n operations.
func (t *Throughput) Add(n int) {
	t.count.Add(int64(n))
}

// Sample returns the count since the previous sample and resets it.
func (t *Throughput) Sample() int64 {
	return t.count.Swap(0)
}

// Run logs the rate every interval until ctx is done. The logged lag is how late the
// tick was delivered, which grows when the process is saturated.
func (t *Throughput) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultThroughputInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			lag := time.Since(tick)
			n := t.Sample()
			t.logger.Info("Throughput",
				"op_count", n,
				"ops_per_second", float64(n)/interval.Seconds(),
				"interval", interval)
			t.logger.Debug("Processing time", "lag", lag)
		}
	}
}
