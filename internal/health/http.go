// Package health exposes liveness, readiness and metrics over HTTP and the
// standard gRPC health service.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Probe reports whether a dependency is usable.
type Probe func() bool

// ErrorAge reports the time since a dependency last failed.
type ErrorAge func() time.Duration

// Checks describe the dependencies of a module. Nil checks are treated as
// absent, not failing.
type Checks struct {
	Transport Probe
	// Historian is nil when no historian is configured.
	Historian ErrorAge
	// MinErrorAge is how long the historian must be error free to count as ok.
	MinErrorAge time.Duration
}

type status struct {
	Status             string   `json:"status"`
	TransportConnected bool     `json:"transport_connected"`
	HistorianErrorAge  *float64 `json:"historian_last_error_age_sec,omitempty"`
}

func (c Checks) evaluate() (st status, ready bool) {
	st.TransportConnected = c.Transport == nil || c.Transport()

	historianOK := true
	if c.Historian != nil {
		age := c.Historian()
		secs := age.Seconds()
		st.HistorianErrorAge = &secs
		historianOK = age > c.MinErrorAge
	}

	switch {
	case st.TransportConnected && historianOK:
		st.Status = "ok"
	case st.TransportConnected:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	return st, st.TransportConnected
}

// NewRouter serves /healthz, /readyz and /metrics from gatherer.
func NewRouter(checks Checks, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		st, _ := checks.evaluate()
		writeJSON(w, http.StatusOK, st)
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		_, ready := checks.evaluate()
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, struct {
			Ready bool `json:"ready"`
		}{ready})
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
