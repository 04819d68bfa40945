package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "ringo"

// Metrics exports probe outcomes as Prometheus collectors.
type Metrics struct {
	sent       prometheus.Counter
	received   prometheus.Counter
	timedOut   prometheus.Counter
	sendFailed prometheus.Counter
	corrupted  prometheus.Counter
	discarded  *prometheus.CounterVec
	rtt        prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "probes_sent_total",
			Help:      "The number of echo requests issued",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "probes_received_total",
			Help:      "The number of echo requests that got a matching reply",
		}),
		timedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "probes_timed_out_total",
			Help:      "The number of echo requests with no reply before the timeout",
		}),
		sendFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "probes_send_failed_total",
			Help:      "The number of echo requests the transport failed to send",
		}),
		corrupted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "probes_corrupted_total",
			Help:      "The number of replies whose payload differs from the request",
		}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_discarded_total",
			Help:      "The number of inbound packets that did not match a probe",
		}, []string{"reason"}),
		rtt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "rtt_seconds",
			Help:      "Round trip time of the replied echo requests",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
	}

	collectors := []prometheus.Collector{
		m.sent, m.received, m.timedOut, m.sendFailed, m.corrupted, m.discarded, m.rtt,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// ObserveProbe implements Observer.
func (m *Metrics) ObserveProbe(p *Probe) {
	m.sent.Inc()

	switch p.Status {
	case Succeeded:
		m.received.Inc()
		m.rtt.Observe(p.RTT.Seconds())
		if !p.PayloadIntact {
			m.corrupted.Inc()
		}
	case TimedOut:
		m.timedOut.Inc()
	case SendFailed:
		m.sendFailed.Inc()
	}
}

// ObserveDiscard implements Observer.
func (m *Metrics) ObserveDiscard(reason DiscardReason) {
	m.discarded.WithLabelValues(string(reason)).Inc()
}
