package metric

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/skystream/errors"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "firehose",
		Name:      "events_total",
		Help:      "test counter",
	})

	require.NoError(t, registry.RegisterCounter("firehose", "events_total", counter))
	counter.Inc()

	assert.True(t, gatheredNames(t, registry)["skystream_firehose_events_total"])
}

func TestMetricsRegistry_RegisterVecs(t *testing.T) {
	registry := NewMetricsRegistry()

	frames := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "frames_total", Help: "h"}, []string{"type"})
	depth := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "depth", Help: "h"}, []string{"queue"})
	lag := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "lag_seconds", Help: "h"})
	cursor := prometheus.NewGauge(prometheus.GaugeOpts{Name: "cursor", Help: "h"})

	require.NoError(t, registry.RegisterCounterVec("firehose", "frames_total", frames))
	require.NoError(t, registry.RegisterGaugeVec("publisher", "depth", depth))
	require.NoError(t, registry.RegisterHistogram("publisher", "lag_seconds", lag))
	require.NoError(t, registry.RegisterGauge("firehose", "cursor", cursor))

	frames.WithLabelValues("#commit").Inc()
	depth.WithLabelValues("spool").Set(3)
	lag.Observe(0.1)

	names := gatheredNames(t, registry)
	assert.True(t, names["frames_total"])
	assert.True(t, names["depth"])
	assert.True(t, names["lag_seconds"])
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "h"})
	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "h"})

	require.NoError(t, registry.RegisterCounter("publisher", "dup_total", first))

	err := registry.RegisterCounter("publisher", "dup_total", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// Same prometheus name under another key conflicts inside prometheus.
	err = registry.RegisterCounter("firehose", "dup_total", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "spool_size", Help: "h"})

	require.NoError(t, registry.RegisterGauge("publisher", "spool_size", gauge))
	assert.True(t, registry.Unregister("publisher", "spool_size"))
	assert.False(t, registry.Unregister("publisher", "spool_size"))

	// Can register again after unregistering.
	require.NoError(t, registry.RegisterGauge("publisher", "spool_size", gauge))
}

func TestMetricsRegistry_ConcurrentRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("c_%d_total", i)
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "h"})
			errs <- registry.RegisterCounter("worker", name, c)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestCoreMetrics_RecordMethods(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordBuildInfo("1.2.3")
	core.RecordComponentStatus("firehose", StatusRunning)
	core.RecordHealthStatus("broker", true)
	core.RecordError("firehose", errors.WrapInvalid(errors.ErrInvalidFrame, "firehose", "handleFrame", "decode"))
	core.RecordError("publisher", errors.ErrConnectionLost)
	core.RecordError("publisher", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(core.BuildInfo.WithLabelValues("1.2.3")))
	assert.Equal(t, 2.0, testutil.ToFloat64(core.ComponentStatus.WithLabelValues("firehose")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.HealthCheckStatus.WithLabelValues("broker")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.ErrorsTotal.WithLabelValues("firehose", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.ErrorsTotal.WithLabelValues("publisher", "transient")))
}

func TestServer_ServesMetricsAndExtraHandlers(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordBuildInfo("test")

	server := NewServer(9090, "/metrics", registry)
	server.port = 0
	server.Handle("/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"healthy":true}`))
	}))

	require.NoError(t, server.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	}()

	resp, err := http.Get(server.Address())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "skystream_build_info")

	healthURL := server.Address()[:len(server.Address())-len("/metrics")] + "/health"
	resp, err = http.Get(healthURL)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"healthy":true}`, string(body))

	assert.Error(t, server.Start())
}
