package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

const (
	outcomeOK       = "ok"
	outcomeError    = "error"
	outcomeRejected = "rejected"
)

type proxyMetrics struct {
	Upstream     *prometheus.CounterVec
	BreakerState prometheus.Gauge
}

func newProxyMetrics(reg prometheus.Registerer) *proxyMetrics {
	m := &proxyMetrics{
		Upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgesim_proxy_upstream_requests_total",
			Help: "Requests forwarded to the upstream, by outcome.",
		}, []string{"outcome"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgesim_proxy_breaker_state",
			Help: "Upstream circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Upstream, m.BreakerState)
	}
	return m
}

func (m *proxyMetrics) upstream(outcome string) {
	if m == nil {
		return
	}
	m.Upstream.WithLabelValues(outcome).Inc()
}

func (m *proxyMetrics) breakerState(s gobreaker.State) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(breakerStateValue(s)))
}

func breakerStateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
