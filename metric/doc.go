// Package metric provides the Prometheus registry and the HTTP server that exposes it.
//
// The registry carries a small core set (build info, component status, classified error
// counts, health status). Components register their own collectors through
// MetricsRegistrar under a component name:
//
//	registry := metric.NewMetricsRegistry()
//	frames := prometheus.NewCounterVec(prometheus.CounterOpts{
//	    Namespace: metric.Namespace,
//	    Subsystem: "firehose",
//	    Name:      "frames_total",
//	    Help:      "Frames received by type",
//	}, []string{"type"})
//	if err := registry.RegisterCounterVec("firehose", "frames_total", frames); err != nil {
//	    return err
//	}
//
// Registering the same component/name pair twice returns an invalid-class error.
//
// The server serves /metrics and /health; cmd/skystream mounts the health monitor's
// JSON handler over the default /health:
//
//	server := metric.NewServer(9090, "/metrics", registry)
//	server.Handle("/health", monitor.Handler())
//	if err := server.Start(); err != nil {
//	    return err
//	}
//	defer server.Stop(ctx)
package metric
