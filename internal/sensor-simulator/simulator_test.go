package sensor_simulator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/LeonardoBeccarini/edge-simulators/internal/model"
	"github.com/LeonardoBeccarini/edge-simulators/pkg/logging"
	"github.com/LeonardoBeccarini/edge-simulators/pkg/moduleclient"
)

type sentMessage struct {
	output string
	msg    moduleclient.Message
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendEvent(_ context.Context, output string, msg moduleclient.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{output: output, msg: msg})
	return nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeRecorder struct{ bodies []model.MessageBody }

func (r *fakeRecorder) Record(b model.MessageBody) { r.bodies = append(r.bodies, b) }

func readingsByName(rs []model.NamedReading) map[string]model.SensorReading {
	out := make(map[string]model.SensorReading, len(rs))
	for _, r := range rs {
		out[r.Name] = r.Reading
	}
	return out
}

func decodeBody(t *testing.T, m sentMessage) model.MessageBody {
	t.Helper()
	var b model.MessageBody
	if err := json.Unmarshal(m.msg.Body, &b); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return b
}

func seqOf(t *testing.T, m sentMessage) int {
	t.Helper()
	n, err := strconv.Atoi(m.msg.Properties["sequenceNumber"])
	if err != nil {
		t.Fatalf("sequenceNumber %q: %v", m.msg.Properties["sequenceNumber"], err)
	}
	return n
}

type harness struct {
	sim     *SensorSimulator
	state   *RuntimeState
	sender  *fakeSender
	metrics *Metrics
	rec     *fakeRecorder
}

// newHarness builds a simulator whose every draw adds +0.5 while climbing.
func newHarness(v Variant, mutate func(*Config)) *harness {
	p := DefaultParameters()
	cfg := Config{
		Variant:      v,
		Identity:     v.ResolveIdentity("dev", "", "host"),
		Params:       p,
		MessageCount: -1,
		BatchID:      "batch-1",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		state:   NewRuntimeState(time.Millisecond, 1, p.TempMin),
		sender:  &fakeSender{},
		metrics: NewMetrics(prometheus.NewRegistry(), v.Name),
		rec:     &fakeRecorder{},
	}
	gen := NewDataGenerator(p, fixedRand{f: 0.5, n: 2}, SchemaPump, v.StatusCode, v.FlowMisc)
	h.sim = NewSensorSimulator(cfg, h.state, gen, h.sender,
		WithLogger(logging.New(io.Discard, slog.LevelDebug)),
		WithMetrics(h.metrics),
		WithRecorder(h.rec),
		WithClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }),
	)
	return h
}

func TestTickSendsSingleEvent(t *testing.T) {
	t.Parallel()

	h := newHarness(TemperatureSensor(), nil)
	h.sim.tick(context.Background())

	msgs := h.sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.output != "temperatureOutput" {
		t.Errorf("output = %q", m.output)
	}
	if m.msg.Properties["batchId"] != "batch-1" || m.msg.Properties["asset"] != "PoC" || seqOf(t, m) != 1 {
		t.Errorf("properties = %v", m.msg.Properties)
	}

	body := decodeBody(t, m)
	if body.Asset != "PoC" || body.Source != "Simulator" || len(body.Events) != 1 {
		t.Fatalf("body = %+v", body)
	}
	ev := body.Events[0]
	if ev.DeviceID != "dev" {
		t.Errorf("deviceId = %q", ev.DeviceID)
	}
	r := readingsByName(ev.Readings)
	if r["temperature"].Value != 21.5 || r["temperature"].Status != 192 {
		t.Errorf("temperature = %+v", r["temperature"])
	}
	if r["flow"].Value != 80 || r["flow"].Misc != "GOOD" {
		t.Errorf("flow = %+v", r["flow"])
	}

	if len(h.rec.bodies) != 1 {
		t.Errorf("recorder saw %d bodies", len(h.rec.bodies))
	}
	if got := testutil.ToFloat64(h.metrics.Sent); got != 1 {
		t.Errorf("sent metric = %v", got)
	}
}

func TestPauseResumeKeepsTemperatureAndSequence(t *testing.T) {
	t.Parallel()

	h := newHarness(TemperatureSensor(), nil)
	ctx := context.Background()

	h.sim.tick(ctx)
	h.sim.tick(ctx)

	h.state.SetSendEnabled(false)
	h.sim.tick(ctx)
	h.sim.tick(ctx)
	if got := testutil.ToFloat64(h.metrics.Skipped.WithLabelValues(SkipPaused)); got != 2 {
		t.Fatalf("paused skips = %v, want 2", got)
	}

	h.state.SetSendEnabled(true)
	h.sim.tick(ctx)

	msgs := h.sender.messages()
	if len(msgs) != 3 {
		t.Fatalf("sent %d messages, want 3", len(msgs))
	}
	for i, m := range msgs {
		if got := seqOf(t, m); got != i+1 {
			t.Fatalf("message %d has sequence %d", i, got)
		}
	}

	// Five ticks of +0.5 each, paused ones included.
	last := readingsByName(decodeBody(t, msgs[2]).Events[0].Readings)["temperature"].Value
	if last != 23.5 {
		t.Fatalf("temperature after resume = %v, want 23.5", last)
	}
}

func TestResetIsConsumedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(TemperatureSensor(), nil)
	ctx := context.Background()

	h.state.SetTemperature(80)
	h.state.RequestReset()
	h.sim.tick(ctx)

	want := DefaultParameters().TempMin + climbOffset + 0.5*climbSpan
	if got := h.state.Temperature(); got != want {
		t.Fatalf("temperature after reset tick = %v, want %v", got, want)
	}
	if h.state.ConsumeReset() {
		t.Fatalf("reset flag still pending")
	}

	h.sim.tick(ctx)
	if got := h.state.Temperature(); got != want+0.5 {
		t.Fatalf("second tick re-zeroed: %v", got)
	}
}

func TestMultiEventBody(t *testing.T) {
	t.Parallel()

	h := newHarness(PumpSimulator(), nil)
	h.state.SetEventCount(3)
	h.sim.tick(context.Background())

	msgs := h.sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	body := decodeBody(t, msgs[0])
	if body.Asset != "whidbey" || body.Source != "host" {
		t.Errorf("asset/source = %q/%q", body.Asset, body.Source)
	}
	if len(body.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(body.Events))
	}

	ids := map[string]bool{}
	for i, ev := range body.Events {
		ids[ev.DeviceID] = true
		if want := "host-dev-" + strconv.Itoa(i); ev.DeviceID != want {
			t.Errorf("event %d deviceId = %q, want %q", i, ev.DeviceID, want)
		}
		r := readingsByName(ev.Readings)
		if want := 21.5 + 0.5*float64(i); r["temperature"].Value != want {
			t.Errorf("event %d temperature = %v, want %v", i, r["temperature"].Value, want)
		}
		if r["temperature"].Status != 200 || r["flow"].Misc != "" {
			t.Errorf("event %d readings = %+v", i, r)
		}
	}
	if len(ids) != 3 {
		t.Fatalf("device ids not distinct: %v", ids)
	}
	if got := h.state.Temperature(); got != 23 {
		t.Fatalf("temperature after multi-event tick = %v, want 23", got)
	}
}

func TestOversizeMessageIsSkippedButCounted(t *testing.T) {
	t.Parallel()

	h := newHarness(TemperatureSensor(), func(c *Config) { c.MaxMessageBytes = 16 })
	h.sim.tick(context.Background())

	if n := len(h.sender.messages()); n != 0 {
		t.Fatalf("oversize message was sent")
	}
	if h.sim.seq != 2 {
		t.Fatalf("sequence = %d, want 2", h.sim.seq)
	}
	if got := testutil.ToFloat64(h.metrics.Skipped.WithLabelValues(SkipTooLarge)); got != 1 {
		t.Fatalf("too_large skips = %v", got)
	}
}

func TestSendErrorIsLoggedAndLoopContinues(t *testing.T) {
	t.Parallel()

	h := newHarness(TemperatureSensor(), nil)
	h.sender.err = errors.New("broker gone")
	h.sim.tick(context.Background())

	if got := testutil.ToFloat64(h.metrics.Skipped.WithLabelValues(SkipSendError)); got != 1 {
		t.Fatalf("send_error skips = %v", got)
	}
	if len(h.rec.bodies) != 0 {
		t.Fatalf("failed send must not be recorded")
	}

	h.sender.err = nil
	h.sim.tick(context.Background())
	if msgs := h.sender.messages(); len(msgs) != 1 || seqOf(t, msgs[0]) != 2 {
		t.Fatalf("after recovery got %d messages", len(msgs))
	}
}

func TestRunStopsWhenBudgetExhausted(t *testing.T) {
	t.Parallel()

	h := newHarness(TemperatureSensor(), func(c *Config) { c.MessageCount = 3 })
	waits := 0
	h.sim.wait = func(context.Context, time.Duration) error {
		waits++
		return nil
	}

	if err := h.sim.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := len(h.sender.messages()); n != 3 {
		t.Fatalf("sent %d messages, want 3", n)
	}
	if waits != 3 {
		t.Fatalf("waited %d times, want 3", waits)
	}
	if got := testutil.ToFloat64(h.metrics.Up); got != 0 {
		t.Fatalf("up gauge after Run = %v", got)
	}
}

func TestRunZeroBudgetSendsNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(TemperatureSensor(), func(c *Config) { c.MessageCount = 0 })
	if err := h.sim.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := len(h.sender.messages()); n != 0 {
		t.Fatalf("sent %d messages", n)
	}
}

func TestRunCancelInterruptsWait(t *testing.T) {
	t.Parallel()

	h := newHarness(TemperatureSensor(), nil)
	h.state.SetInterval(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sim.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for len(h.sender.messages()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("first message never sent")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop on cancel")
	}
}

func TestSleep(t *testing.T) {
	t.Parallel()

	if err := sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("sleep: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("sleep on cancelled ctx = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("cancelled sleep took too long")
	}
}
