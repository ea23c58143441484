// Package prometheus implements notify.Metrics with Prometheus collectors.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/notify-go/core/metrics"
	"github.com/codewandler/notify-go/core/notify"
)

func newTimer(h prometheus.Observer) metrics.Timer {
	return metrics.Since(h, time.Now())
}

// Latency buckets in seconds. Deliveries are usually sub-millisecond while
// waits can run for as long as their timeout.
var (
	deliveryBuckets = []float64{
		.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, 1,
	}
	waitBuckets = []float64{
		.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60,
	}
)

type notifyMetrics struct {
	active              prometheus.Gauge
	opened              prometheus.Counter
	registrationsFailed prometheus.Counter
	deliveryDuration    prometheus.Histogram
	deliveries          *prometheus.CounterVec
	waitDuration        *prometheus.HistogramVec
	waits               *prometheus.CounterVec
}

// NewNotifyMetrics registers the registry collectors on reg.
func NewNotifyMetrics(reg prometheus.Registerer) notify.Metrics {
	m := &notifyMetrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notify_subscriptions_active",
			Help: "Number of live subscriptions",
		}),
		opened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notify_subscriptions_opened_total",
			Help: "Total number of subscriptions opened",
		}),
		registrationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notify_registrations_failed_total",
			Help: "Total number of subscriptions the channel refused",
		}),
		deliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "notify_delivery_duration_seconds",
			Help:    "Listener execution time in seconds",
			Buckets: deliveryBuckets,
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_deliveries_total",
			Help: "Total number of notifications by outcome",
		}, []string{"outcome"}),
		waitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notify_wait_duration_seconds",
			Help:    "Wait latency in seconds",
			Buckets: waitBuckets,
		}, []string{"kind"}),
		waits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_waits_total",
			Help: "Total number of waits by kind and outcome",
		}, []string{"kind", "outcome"}),
	}

	reg.MustRegister(
		m.active,
		m.opened,
		m.registrationsFailed,
		m.deliveryDuration,
		m.deliveries,
		m.waitDuration,
		m.waits,
	)
	return m
}

func (m *notifyMetrics) SubscriptionOpened() {
	m.opened.Inc()
	m.active.Inc()
}

func (m *notifyMetrics) SubscriptionClosed() { m.active.Dec() }
func (m *notifyMetrics) RegistrationFailed() { m.registrationsFailed.Inc() }

func (m *notifyMetrics) DeliveryDuration() metrics.Timer { return newTimer(m.deliveryDuration) }

func (m *notifyMetrics) Delivery(outcome notify.DeliveryOutcome) {
	m.deliveries.WithLabelValues(string(outcome)).Inc()
}

func (m *notifyMetrics) WaitDuration(kind string) metrics.Timer {
	return newTimer(m.waitDuration.WithLabelValues(kind))
}

func (m *notifyMetrics) Wait(kind string, outcome notify.WaitOutcome) {
	m.waits.WithLabelValues(kind, string(outcome)).Inc()
}

var _ notify.Metrics = (*notifyMetrics)(nil)
