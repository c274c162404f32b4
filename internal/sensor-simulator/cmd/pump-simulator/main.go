package main

import (
	"os"

	sim "github.com/LeonardoBeccarini/edge-simulators/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/edge-simulators/internal/sensor-simulator/app"
)

func main() {
	os.Exit(app.Main(sim.PumpSimulator()))
}
