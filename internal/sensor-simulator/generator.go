package sensor_simulator

import (
	"math/rand/v2"

	"github.com/LeonardoBeccarini/edge-simulators/internal/model"
)

// ====== Tunables ======
const (
	// ceiling jitter: U[-0.5, +0.5] once above TempMax.
	ceilingJitter = 1.0

	// climb jitter: U[-0.25, +1.25], average +0.5.
	climbSpan   = 1.5
	climbOffset = -0.25

	suctionOffset   = 4.0
	dischargeOffset = 1.0

	flowMin  = 78
	flowSpan = 4 // flow in [78, 82)
)

const (
	unitsCelsius  = "degC"
	unitsPressure = "psig"
	unitsPercent  = "perc"
)

// Schema selects the reading names and set published per event.
type Schema string

const (
	SchemaPump    Schema = "pump"
	SchemaMachine Schema = "machine"
)

// ParseSchema maps a configuration value to a Schema, defaulting to pump.
func ParseSchema(s string) Schema {
	if Schema(s) == SchemaMachine {
		return SchemaMachine
	}
	return SchemaPump
}

// Rand is the randomness the generator consumes. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// DataGenerator advances the temperature walk and derives the readings of an
// event. It holds no temperature of its own; callers pass the current value.
type DataGenerator struct {
	params   Parameters
	normal   float64
	rnd      Rand
	schema   Schema
	status   int
	flowMisc string
}

// NewDataGenerator builds a generator. A nil rnd uses the process-wide source.
func NewDataGenerator(p Parameters, rnd Rand, schema Schema, status int, flowMisc string) *DataGenerator {
	if rnd == nil {
		rnd = globalRand{}
	}
	return &DataGenerator{
		params:   p,
		normal:   p.Normal(),
		rnd:      rnd,
		schema:   schema,
		status:   status,
		flowMisc: flowMisc,
	}
}

// Advance returns the next temperature. Above TempMax the walk only jitters;
// otherwise it climbs with noise.
func (g *DataGenerator) Advance(current float64) float64 {
	if current > g.params.TempMax {
		return current + g.rnd.Float64()*ceilingJitter - ceilingJitter/2
	}
	return current + climbOffset + g.rnd.Float64()*climbSpan
}

// Pressure returns the pressure correlated with temp plus offset. Values above
// PressureMax are possible once temp passes TempMax.
func (g *DataGenerator) Pressure(temp, offset float64) float64 {
	return g.params.PressureMin + offset + (temp-g.params.TempMin)*g.normal
}

// Flow draws an independent flow value.
func (g *DataGenerator) Flow() float64 {
	return float64(flowMin + g.rnd.IntN(flowSpan))
}

// Readings builds the readings of one event at temp.
func (g *DataGenerator) Readings(temp float64) []model.NamedReading {
	r := func(v float64, units string) model.SensorReading {
		return model.SensorReading{Value: v, Units: units, Status: g.status}
	}

	if g.schema == SchemaMachine {
		return []model.NamedReading{
			{Name: "machineTemperature", Reading: r(temp, unitsCelsius)},
			{Name: "machinePressure", Reading: r(g.Pressure(temp, 0), unitsPressure)},
			{Name: "ambientTemperature", Reading: r(g.params.AmbientTemp, unitsCelsius)},
			{Name: "ambientHumdity", Reading: r(g.params.HumidityPercent, unitsPercent)},
		}
	}

	flow := r(g.Flow(), unitsPercent)
	flow.Misc = g.flowMisc
	return []model.NamedReading{
		{Name: "temperature", Reading: r(temp, unitsCelsius)},
		{Name: "pressure", Reading: r(g.Pressure(temp, 0), unitsPressure)},
		{Name: "suctionPressure", Reading: r(g.Pressure(temp, suctionOffset), unitsPressure)},
		{Name: "dischargePressure", Reading: r(g.Pressure(temp, dischargeOffset), unitsPressure)},
		{Name: "flow", Reading: flow},
	}
}
