package sensor_simulator

import (
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/edge-simulators/internal/model"
)

// Mode selects how many events a tick carries.
type Mode int

const (
	// SingleEvent sends one event per tick.
	SingleEvent Mode = iota
	// MultiEvent sends EventCount events per tick, each with its own device id suffix.
	MultiEvent
)

// DefaultOutput is the output name telemetry is sent on.
const DefaultOutput = "temperatureOutput"

// Variant carries everything that differs between the device modules.
type Variant struct {
	Name         string
	Mode         Mode
	StatusCode   int
	IntervalUnit model.IntervalUnit
	DefaultDelay time.Duration
	DefaultAsset string
	// FlowMisc tags the flow reading; empty omits it.
	FlowMisc string
	// SourceIsHost publishes the hostname as source instead of "Simulator".
	SourceIsHost bool
	Output       string
}

// TemperatureSensor is the single-event module with second-based intervals.
func TemperatureSensor() Variant {
	return Variant{
		Name:         "temperature-sensor",
		Mode:         SingleEvent,
		StatusCode:   192,
		IntervalUnit: model.IntervalSeconds,
		DefaultDelay: 5 * time.Second,
		DefaultAsset: "PoC",
		FlowMisc:     "GOOD",
		Output:       DefaultOutput,
	}
}

// PumpSimulator is the multi-event module with millisecond-based intervals.
func PumpSimulator() Variant {
	return Variant{
		Name:         "pump-simulator",
		Mode:         MultiEvent,
		StatusCode:   200,
		IntervalUnit: model.IntervalMilliseconds,
		DefaultDelay: time.Second,
		DefaultAsset: "whidbey",
		SourceIsHost: true,
		Output:       DefaultOutput,
	}
}

// Identity names the device in published messages.
type Identity struct {
	Device string
	Host   string
	Asset  string
	Source string
}

// ResolveIdentity fills the variant's identity rules from the DEVICE and
// ASSET settings (possibly empty) and the hostname.
func (v Variant) ResolveIdentity(device, asset, host string) Identity {
	id := Identity{Device: device, Host: host, Asset: asset, Source: "Simulator"}
	if id.Asset == "" {
		id.Asset = v.DefaultAsset
	}
	if v.SourceIsHost {
		id.Source = host
	}
	if v.Mode == SingleEvent && id.Device == "" {
		id.Device = host
	}
	return id
}

// DeviceID returns the device id of the i-th event of a tick.
func (v Variant) DeviceID(id Identity, i int) string {
	if v.Mode == MultiEvent {
		return fmt.Sprintf("%s-%s-%d", id.Host, id.Device, i)
	}
	return id.Device
}

// WithEventCount reports whether EventCount is a recognized desired key.
func (v Variant) WithEventCount() bool { return v.Mode == MultiEvent }
