// Package historian mirrors sent telemetry into InfluxDB.
package historian

import (
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/edge-simulators/internal/model"
	"github.com/LeonardoBeccarini/edge-simulators/pkg/logging"
)

// PointWriter is the non-blocking write API. api.WriteAPI satisfies it.
type PointWriter interface {
	WritePoint(point *write.Point)
	Errors() <-chan error
	Flush()
}

type Config struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
	BatchSize   uint
	FlushEvery  time.Duration
}

// Enabled reports whether enough is configured to write.
func (c Config) Enabled() bool { return c.URL != "" && c.Bucket != "" }

// Writer records message bodies as points and tracks the last async write error.
type Writer struct {
	api         PointWriter
	measurement string
	log         *slog.Logger

	mu      sync.RWMutex
	lastErr time.Time
	written int64
	errs    int64
	done    chan struct{}
}

// NewWriter wraps api and starts draining its error channel.
func NewWriter(api PointWriter, measurement string, l *slog.Logger) *Writer {
	if l == nil {
		l = slog.Default()
	}
	w := &Writer{
		api:         api,
		measurement: measurement,
		log:         l.With(slog.String("component", "historian")),
		lastErr:     time.Now().Add(-24 * time.Hour),
		done:        make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		for err := range api.Errors() {
			if err == nil {
				continue
			}
			w.mu.Lock()
			w.lastErr = time.Now()
			w.errs++
			w.mu.Unlock()
			w.log.Warn("influx write error", logging.ErrAttr(err))
		}
	}()
	return w
}

// Record writes every reading of body. It never blocks on the network.
func (w *Writer) Record(body model.MessageBody) {
	if w == nil {
		return
	}
	points := BodyToPoints(w.measurement, body)
	for _, p := range points {
		w.api.WritePoint(p)
	}
	w.mu.Lock()
	w.written += int64(len(points))
	w.mu.Unlock()
}

// LastErrorAge is the time since the last write error.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

// Stats returns points written and async errors seen.
func (w *Writer) Stats() (written, errs int64) {
	if w == nil {
		return 0, 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.written, w.errs
}

// Flush forces pending points out.
func (w *Writer) Flush() {
	if w == nil {
		return
	}
	w.api.Flush()
}

// Open connects a Writer to the InfluxDB described by cfg. The returned
// close function flushes and releases the client.
func Open(cfg Config, l *slog.Logger) (*Writer, func()) {
	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(cfg.BatchSize)
	}
	if cfg.FlushEvery > 0 {
		opts.SetFlushInterval(uint(cfg.FlushEvery.Milliseconds()))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	api := client.WriteAPI(cfg.Org, cfg.Bucket)
	w := NewWriter(api, cfg.Measurement, l)

	return w, func() {
		w.Flush()
		client.Close()
		written, errs := w.Stats()
		w.log.Info("historian closed", slog.Int64("points", written), slog.Int64("writeErrors", errs))
	}
}
