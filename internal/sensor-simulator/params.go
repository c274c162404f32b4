package sensor_simulator

import "fmt"

// Parameters bound the simulated process. Loaded once at startup.
type Parameters struct {
	TempMin         float64
	TempMax         float64
	PressureMin     float64
	PressureMax     float64
	AmbientTemp     float64
	HumidityPercent float64
}

// DefaultParameters returns the factory bounds.
func DefaultParameters() Parameters {
	return Parameters{
		TempMin:         21,
		TempMax:         100,
		PressureMin:     1,
		PressureMax:     10,
		AmbientTemp:     21,
		HumidityPercent: 25,
	}
}

// Validate rejects bounds the pressure correlation cannot work with.
func (p Parameters) Validate() error {
	if p.TempMax <= p.TempMin {
		return fmt.Errorf("temperature range [%v, %v] is empty", p.TempMin, p.TempMax)
	}
	return nil
}

// Normal is the pressure change per degree of temperature above TempMin.
func (p Parameters) Normal() float64 {
	return (p.PressureMax - p.PressureMin) / (p.TempMax - p.TempMin)
}
