package publisher

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/skystream/metric"
)

type publisherMetrics struct {
	published   *prometheus.CounterVec
	failed      *prometheus.CounterVec
	encodeFails prometheus.Counter
	spoolDrops  prometheus.Counter
}

func newPublisherMetrics(registry metric.MetricsRegistrar, component string) (*publisherMetrics, error) {
	labels := prometheus.Labels{"component": component}
	m := &publisherMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "publisher",
			Name:        "messages_published_total",
			ConstLabels: labels,
			Help:        "Messages handed to the broker, by routing key",
		}, []string{"routing_key"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "publisher",
			Name:        "publish_failures_total",
			ConstLabels: labels,
			Help:        "Messages the broker rejected, by routing key",
		}, []string{"routing_key"}),
		encodeFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "publisher",
			Name:        "encode_failures_total",
			ConstLabels: labels,
			Help:        "Operation batches that could not be serialised",
		}),
		spoolDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "publisher",
			Name:        "spool_dropped_total",
			ConstLabels: labels,
			Help:        "Messages evicted from a full spool",
		}),
	}

	if err := registry.RegisterCounterVec(component, "messages_published", m.published); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(component, "publish_failures", m.failed); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(component, "encode_failures", m.encodeFails); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(component, "spool_dropped", m.spoolDrops); err != nil {
		return nil, err
	}
	return m, nil
}
