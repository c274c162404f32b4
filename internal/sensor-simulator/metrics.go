package sensor_simulator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Skip reasons for edgesim_messages_skipped_total.
const (
	SkipPaused    = "paused"
	SkipTooLarge  = "too_large"
	SkipSendError = "send_error"
)

// Reset sources for edgesim_resets_total.
const (
	ResetFromMethod  = "method"
	ResetFromControl = "control"
)

// Metrics are the module's Prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	Sent        prometheus.Counter
	Skipped     *prometheus.CounterVec
	Size        prometheus.Histogram
	Temperature prometheus.Gauge
	Resets      *prometheus.CounterVec
	TwinUpdates prometheus.Counter
	Up          prometheus.Gauge
}

// NewMetrics creates the collectors labelled with the module name and
// registers them on reg.
func NewMetrics(reg prometheus.Registerer, module string) *Metrics {
	labels := prometheus.Labels{"module": module}
	m := &Metrics{
		Sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgesim_messages_sent_total", Help: "Telemetry messages accepted by the transport.", ConstLabels: labels,
		}),
		Skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgesim_messages_skipped_total", Help: "Ticks that did not send, by reason.", ConstLabels: labels,
		}, []string{"reason"}),
		Size: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "edgesim_message_size_bytes", Help: "Size of sent message bodies.", ConstLabels: labels,
			Buckets: prometheus.ExponentialBuckets(256, 2, 11),
		}),
		Temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgesim_temperature_celsius", Help: "Current simulated temperature.", ConstLabels: labels,
		}),
		Resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgesim_resets_total", Help: "Reset requests, by source.", ConstLabels: labels,
		}, []string{"source"}),
		TwinUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgesim_twin_updates_total", Help: "Desired property updates applied.", ConstLabels: labels,
		}),
		Up: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgesim_module_up", Help: "1 while the telemetry loop runs.", ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.Sent, m.Skipped, m.Size, m.Temperature, m.Resets, m.TwinUpdates, m.Up)
	return m
}

func (m *Metrics) sent(size int) {
	if m == nil {
		return
	}
	m.Sent.Inc()
	m.Size.Observe(float64(size))
}

func (m *Metrics) skipped(reason string) {
	if m == nil {
		return
	}
	m.Skipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) temperature(t float64) {
	if m == nil {
		return
	}
	m.Temperature.Set(t)
}

func (m *Metrics) reset(source string) {
	if m == nil {
		return
	}
	m.Resets.WithLabelValues(source).Inc()
}

func (m *Metrics) twinUpdate() {
	if m == nil {
		return
	}
	m.TwinUpdates.Inc()
}

func (m *Metrics) up(v bool) {
	if m == nil {
		return
	}
	if v {
		m.Up.Set(1)
	} else {
		m.Up.Set(0)
	}
}
