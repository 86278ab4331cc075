package firehose

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/skystream/metric"
)

const subsystem = "firehose"

// Drop reasons.
const (
	dropDecode      = "decode"
	dropSchema      = "schema"
	dropUnsupported = "unsupported"
	dropMessageType = "message_type"
)

type subscriberMetrics struct {
	framesReceived *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	eventsHandled  prometheus.Counter
	handlerErrors  prometheus.Counter
	reconnects     prometheus.Counter
	cursor         prometheus.Gauge
	connected      prometheus.Gauge
}

func newSubscriberMetrics(registry metric.MetricsRegistrar, component string) (*subscriberMetrics, error) {
	labels := prometheus.Labels{"component": component}
	m := &subscriberMetrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   subsystem,
			Name:        "frames_received_total",
			ConstLabels: labels,
			Help:        "Frames received by message type",
		}, []string{"type"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   subsystem,
			Name:        "frames_dropped_total",
			ConstLabels: labels,
			Help:        "Frames dropped without advancing the cursor",
		}, []string{"reason"}),
		eventsHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   subsystem,
			Name:        "events_handled_total",
			ConstLabels: labels,
			Help:        "Commit events passed to the handler",
		}),
		handlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   subsystem,
			Name:        "handler_errors_total",
			ConstLabels: labels,
			Help:        "Handler calls that returned an error or panicked",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   subsystem,
			Name:        "reconnects_total",
			ConstLabels: labels,
			Help:        "Reconnect attempts after a lost connection",
		}),
		cursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   subsystem,
			Name:        "cursor",
			ConstLabels: labels,
			Help:        "Sequence number of the last processed event",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   subsystem,
			Name:        "connected",
			ConstLabels: labels,
			Help:        "1 while a stream connection is open",
		}),
	}

	if err := registry.RegisterCounterVec(component, "frames_received", m.framesReceived); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(component, "frames_dropped", m.framesDropped); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(component, "events_handled", m.eventsHandled); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(component, "handler_errors", m.handlerErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(component, "reconnects", m.reconnects); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(component, "cursor", m.cursor); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(component, "connected", m.connected); err != nil {
		return nil, err
	}
	return m, nil
}
