package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/skystream/errors"
	"github.com/c360/skystream/metric"
)

func TestRing_FIFO(t *testing.T) {
	r, err := NewRing[string](4)
	require.NoError(t, err)

	for _, s := range []string{"post.create", "like.create", "post.delete"} {
		require.NoError(t, r.Write(s))
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 4, r.Capacity())

	for _, want := range []string{"post.create", "like.create", "post.delete"} {
		got, ok := r.Read()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := r.Read()
	assert.False(t, ok)
}

func TestRing_OverflowPolicies(t *testing.T) {
	tests := []struct {
		name     string
		policy   OverflowPolicy
		expected []int
		dropped  []int
	}{
		{"drop oldest", DropOldest, []int{3, 4, 5}, []int{1, 2}},
		{"drop newest", DropNewest, []int{1, 2, 3}, []int{4, 5}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var dropped []int
			r, err := NewRing[int](3,
				WithOverflowPolicy[int](test.policy),
				WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
			)
			require.NoError(t, err)

			for i := 1; i <= 5; i++ {
				require.NoError(t, r.Write(i))
			}

			var got []int
			for {
				v, ok := r.Read()
				if !ok {
					break
				}
				got = append(got, v)
			}
			assert.Equal(t, test.expected, got)
			assert.Equal(t, test.dropped, dropped)
			assert.Equal(t, int64(2), r.Stats().Drops())
		})
	}
}

func TestRing_ReadWaitWakesOnWrite(t *testing.T) {
	r, err := NewRing[int](2)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan int, 1)
	go func() {
		v, ok := r.ReadWait(ctx)
		if ok {
			done <- v
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Write(42))

	assert.Equal(t, 42, <-done)
}

func TestRing_ReadWaitReturnsOnCancel(t *testing.T) {
	r, err := NewRing[int](2)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := r.ReadWait(ctx)
	assert.False(t, ok)
}

func TestRing_CloseDrainsThenStops(t *testing.T) {
	r, err := NewRing[int](4)
	require.NoError(t, err)
	require.NoError(t, r.Write(1))
	require.NoError(t, r.Close())

	err = r.Write(2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSpoolClosed))

	v, ok := r.ReadWait(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = r.ReadWait(context.Background())
	assert.False(t, ok)
}

func TestRing_ConcurrentWriters(t *testing.T) {
	r, err := NewRing[int](1000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = r.Write(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, r.Len())
	assert.Equal(t, int64(1000), r.Stats().Writes())
	assert.Equal(t, int64(1000), r.Stats().MaxSize())
}

func TestRing_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	r, err := NewRing[int](1, WithMetrics[int](registry, "spool"))
	require.NoError(t, err)

	require.NoError(t, r.Write(1))
	require.NoError(t, r.Write(2))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.metrics.writes))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.drops))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.size))

	// Same component twice collides.
	_, err = NewRing[int](1, WithMetrics[int](registry, "spool"))
	assert.Error(t, err)
}

func TestOverflowPolicy_String(t *testing.T) {
	assert.Equal(t, "DropOldest", DropOldest.String())
	assert.Equal(t, "DropNewest", DropNewest.String())
	assert.Equal(t, "Unknown", OverflowPolicy(9).String())
}
