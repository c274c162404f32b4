// Package app forwards HTTP requests to a unix-socket (or network) upstream
// behind a circuit breaker.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/edge-simulators/internal/health"
	"github.com/LeonardoBeccarini/edge-simulators/pkg/logging"
)

type Config struct {
	Target      Target
	DialTimeout time.Duration

	BreakerFailures int
	BreakerOpenFor  time.Duration

	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

type Proxy struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	metrics *proxyMetrics
	proxy   *httputil.ReverseProxy
	log     *slog.Logger
}

func NewProxy(cfg Config) *Proxy {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	l := cfg.Logger.With(slog.String("component", "reverse-proxy"))

	m := newProxyMetrics(cfg.Registerer)
	cb := newBreaker("upstream", cfg.BreakerFailures, cfg.BreakerOpenFor, m, l)
	base := cfg.Target.BaseURL()

	p := &Proxy{cfg: cfg, breaker: cb, metrics: m, log: l}
	p.proxy = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(base)
			r.SetXForwarded()
		},
		Transport: &breakerTransport{
			next:    cfg.Target.Transport(cfg.DialTimeout),
			cb:      cb,
			metrics: m,
		},
		ErrorHandler: p.upstreamError,
	}
	return p
}

// Handler serves every path and method by forwarding it upstream.
func (p *Proxy) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(p.log))
	r.Use(middleware.Recoverer)
	r.Handle("/*", p.proxy)
	return r
}

// AdminHandler serves /healthz, /readyz and /metrics. The proxy is ready
// while the breaker is not open.
func (p *Proxy) AdminHandler(gatherer prometheus.Gatherer) http.Handler {
	return health.NewRouter(health.Checks{
		Transport: func() bool { return p.breaker.State() != gobreaker.StateOpen },
	}, gatherer)
}

func (p *Proxy) BreakerState() gobreaker.State { return p.breaker.State() }

func (p *Proxy) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusBadGateway
	if isBreakerRejection(err) {
		code = http.StatusServiceUnavailable
	}
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// client disconnected
		return
	}
	logging.ErrorContext{
		Component: "reverse-proxy",
		Operation: "forward",
		Attrs: []slog.Attr{
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("target", p.cfg.Target.String()),
			slog.String("path", r.URL.Path),
		},
	}.Log(p.log, "upstream request failed", err)
	w.WriteHeader(code)
}
