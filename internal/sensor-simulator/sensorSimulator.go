package sensor_simulator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/LeonardoBeccarini/edge-simulators/internal/model"
	"github.com/LeonardoBeccarini/edge-simulators/pkg/logging"
	"github.com/LeonardoBeccarini/edge-simulators/pkg/moduleclient"
)

// DefaultMaxMessageBytes is the largest body the transport accepts.
const DefaultMaxMessageBytes = 256 * 1024

// Sender delivers telemetry. *moduleclient.Client satisfies it.
type Sender interface {
	SendEvent(ctx context.Context, output string, msg moduleclient.Message) error
}

// Recorder mirrors sent telemetry somewhere else, e.g. a local historian.
type Recorder interface {
	Record(body model.MessageBody)
}

// Config is the static part of a simulator.
type Config struct {
	Variant  Variant
	Identity Identity
	Params   Parameters
	// MessageCount is the message budget; negative means unlimited.
	MessageCount    int
	MaxMessageBytes int
	BatchID         string
}

type Option func(*SensorSimulator)

func WithLogger(l *slog.Logger) Option      { return func(s *SensorSimulator) { s.log = l } }
func WithMetrics(m *Metrics) Option         { return func(s *SensorSimulator) { s.metrics = m } }
func WithRecorder(r Recorder) Option        { return func(s *SensorSimulator) { s.recorder = r } }
func WithClock(now func() time.Time) Option { return func(s *SensorSimulator) { s.now = now } }

// WithWait replaces the per-tick wait.
func WithWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(s *SensorSimulator) { s.wait = wait }
}

// SensorSimulator is the telemetry loop of one device module.
type SensorSimulator struct {
	cfg       Config
	state     *RuntimeState
	generator *DataGenerator
	sender    Sender
	recorder  Recorder
	metrics   *Metrics
	log       *slog.Logger
	now       func() time.Time
	wait      func(ctx context.Context, d time.Duration) error

	// seq is the sequence number of the next message. Owned by Run.
	seq int
}

func NewSensorSimulator(cfg Config, state *RuntimeState, gen *DataGenerator, sender Sender, opts ...Option) *SensorSimulator {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	s := &SensorSimulator{
		cfg:       cfg,
		state:     state,
		generator: gen,
		sender:    sender,
		log:       slog.Default(),
		now:       time.Now,
		wait:      sleep,
		seq:       1,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(slog.String("component", "simulator"), slog.String("module", cfg.Variant.Name))
	return s
}

// Run sends telemetry until the budget is exhausted (nil) or ctx is
// cancelled (ctx.Err()).
func (s *SensorSimulator) Run(ctx context.Context) error {
	s.metrics.up(true)
	defer s.metrics.up(false)

	budget := "unlimited"
	if s.cfg.MessageCount >= 0 {
		budget = strconv.Itoa(s.cfg.MessageCount)
	}
	s.log.Info("initializing simulated sensor",
		slog.String("messages", budget),
		slog.Float64("intervalSeconds", s.state.Interval().Seconds()),
		slog.String("hint", "set MessageCount to the number of messages to send, -1 for unlimited"),
	)

	for s.budgetLeft() {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.tick(ctx)
		if err := s.wait(ctx, s.state.Interval()); err != nil {
			return err
		}
	}

	s.log.Info("done sending messages", slog.Int("messageCount", s.cfg.MessageCount))
	return nil
}

func (s *SensorSimulator) budgetLeft() bool {
	return s.cfg.MessageCount < 0 || s.cfg.MessageCount >= s.seq
}

// tick runs one iteration: reset, advance, and send when enabled.
func (s *SensorSimulator) tick(ctx context.Context) {
	temp := s.state.Temperature()
	if s.state.ConsumeReset() {
		temp = s.cfg.Params.TempMin
		s.log.Info("temperature reset", slog.Float64("temperature", temp))
	}
	temp = s.generator.Advance(temp)
	s.state.SetTemperature(temp)
	s.metrics.temperature(temp)

	if !s.state.SendEnabled() {
		s.metrics.skipped(SkipPaused)
		return
	}

	body := s.buildBody()
	s.send(ctx, body)
}

// buildBody packages the current temperature. Multi-event variants advance
// the temperature after each event.
func (s *SensorSimulator) buildBody() model.MessageBody {
	v, id := s.cfg.Variant, s.cfg.Identity

	n := 1
	if v.Mode == MultiEvent {
		n = s.state.EventCount()
	}

	temp := s.state.Temperature()
	var events []model.MessageEvent
	for i := range n {
		events = append(events, model.MessageEvent{
			DeviceID:  v.DeviceID(id, i),
			TimeStamp: s.now().UTC(),
			Readings:  s.generator.Readings(temp),
		})
		if v.Mode == MultiEvent {
			temp = s.generator.Advance(temp)
		}
	}
	s.state.SetTemperature(temp)
	s.metrics.temperature(temp)

	return model.MessageBody{Asset: id.Asset, Source: id.Source, Events: events}
}

func (s *SensorSimulator) send(ctx context.Context, body model.MessageBody) {
	seq := s.seq
	s.seq++

	ec := logging.ErrorContext{Component: "simulator", Operation: "send"}.
		With(slog.String("module", s.cfg.Variant.Name), slog.Int("sequenceNumber", seq))

	payload, err := json.Marshal(body)
	if err != nil {
		ec.Log(s.log, "failed to encode message", err)
		s.metrics.skipped(SkipSendError)
		return
	}

	if len(payload) > s.cfg.MaxMessageBytes {
		s.log.Warn("message too large, skipping",
			slog.Int("sequenceNumber", seq), slog.Int("size", len(payload)), slog.Int("limit", s.cfg.MaxMessageBytes))
		s.metrics.skipped(SkipTooLarge)
		return
	}

	msg := moduleclient.Message{
		Body: payload,
		Properties: map[string]string{
			"sequenceNumber": strconv.Itoa(seq),
			"batchId":        s.cfg.BatchID,
			"asset":          body.Asset,
		},
	}

	if s.log.Enabled(ctx, slog.LevelDebug) {
		s.log.Debug("sending message", slog.Int("sequenceNumber", seq), slog.Int("size", len(payload)), slog.String("body", string(payload)))
	} else {
		s.log.Info("sending message", slog.Int("sequenceNumber", seq), slog.Int("size", len(payload)))
	}

	if err := s.sender.SendEvent(ctx, s.cfg.Variant.Output, msg); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		ec.Log(s.log, "failed to send message", err)
		s.metrics.skipped(SkipSendError)
		return
	}

	s.metrics.sent(len(payload))
	if s.recorder != nil {
		s.recorder.Record(body)
	}
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
