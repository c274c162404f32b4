package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

var errUpstreamStatus = errors.New("upstream server error")

func newBreaker(name string, failures int, openFor time.Duration, m *proxyMetrics, l *slog.Logger) *gobreaker.CircuitBreaker {
	if failures < 1 {
		failures = 1
	}
	if openFor <= 0 {
		openFor = 10 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(failures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn("circuit breaker state change", slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
			m.breakerState(to)
		},
	})
}

// breakerTransport counts transport errors and 5xx answers against the
// breaker. Upstream 5xx responses are still handed back to the client.
type breakerTransport struct {
	next    http.RoundTripper
	cb      *gobreaker.CircuitBreaker
	metrics *proxyMetrics
}

func (b *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		resp, err := b.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, fmt.Errorf("%w: %s", errUpstreamStatus, resp.Status)
		}
		return resp, nil
	})

	switch {
	case err == nil:
		b.metrics.upstream(outcomeOK)
		return res.(*http.Response), nil
	case errors.Is(err, errUpstreamStatus):
		b.metrics.upstream(outcomeError)
		return res.(*http.Response), nil
	case isBreakerRejection(err):
		b.metrics.upstream(outcomeRejected)
		return nil, err
	default:
		b.metrics.upstream(outcomeError)
		return nil, err
	}
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
