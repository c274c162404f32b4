package sensor_simulator

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/LeonardoBeccarini/edge-simulators/internal/model"
)

// RuntimeState is shared between the telemetry loop and remote callbacks.
// Each field is individually atomic; there is no cross-field consistency.
type RuntimeState struct {
	sendEnabled atomic.Bool
	reset       atomic.Bool
	interval    atomic.Int64
	eventCount  atomic.Int32
	temperature atomic.Uint64
}

// NewRuntimeState starts with sending enabled and the given interval,
// event count and temperature.
func NewRuntimeState(interval time.Duration, eventCount int, temp float64) *RuntimeState {
	s := &RuntimeState{}
	s.sendEnabled.Store(true)
	s.SetInterval(interval)
	s.SetEventCount(eventCount)
	s.SetTemperature(temp)
	return s
}

func (s *RuntimeState) SendEnabled() bool { return s.sendEnabled.Load() }

// SetSendEnabled stores v and returns the previous value.
func (s *RuntimeState) SetSendEnabled(v bool) bool { return s.sendEnabled.Swap(v) }

func (s *RuntimeState) Interval() time.Duration { return time.Duration(s.interval.Load()) }

func (s *RuntimeState) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval.Store(int64(d))
	}
}

func (s *RuntimeState) EventCount() int { return int(s.eventCount.Load()) }

// SetEventCount clamps n to [1, model.MaxEventCount].
func (s *RuntimeState) SetEventCount(n int) {
	if n < 1 {
		n = 1
	}
	if n > model.MaxEventCount {
		n = model.MaxEventCount
	}
	s.eventCount.Store(int32(n))
}

// RequestReset marks a pending reset for the next tick.
func (s *RuntimeState) RequestReset() { s.reset.Store(true) }

// ConsumeReset clears the pending reset and reports whether one was set.
func (s *RuntimeState) ConsumeReset() bool { return s.reset.Swap(false) }

func (s *RuntimeState) Temperature() float64 {
	return math.Float64frombits(s.temperature.Load())
}

func (s *RuntimeState) SetTemperature(t float64) {
	s.temperature.Store(math.Float64bits(t))
}

// Reported renders the effective configuration. EventCount is included only
// for multi-event variants.
func (s *RuntimeState) Reported(v Variant) model.ReportedProperties {
	rp := model.ReportedProperties{
		SendData:     s.SendEnabled(),
		SendInterval: s.Interval().Seconds(),
	}
	if v.Mode == MultiEvent {
		n := s.EventCount()
		rp.EventCount = &n
	}
	return rp
}
