package metrics

import (
	"math"

	"dipmpc/internal/sim"
)

// EnergySource reports the total mechanical energy of a state.
type EnergySource interface {
	Energy(x sim.State) float64
}

// EnergyDrift tracks the largest relative change of mechanical energy
// across the observed states. It is an integrator quality check for
// unforced runs; under control the actuator does work on the plant and
// drift is expected.
type EnergyDrift struct {
	name    string
	src     EnergySource
	initial float64
	max     float64
	samples int
}

func NewEnergyDrift(src EnergySource) *EnergyDrift {
	return &EnergyDrift{name: "energy_drift", src: src}
}

func (e *EnergyDrift) Name() string { return e.name }

func (e *EnergyDrift) OnStep(k int, x sim.State, u float64, info sim.StepInfo) {
	energy := e.src.Energy(x)
	if e.samples == 0 {
		e.initial = energy
	}
	e.samples++

	if e.initial != 0 {
		drift := math.Abs(energy-e.initial) / math.Abs(e.initial)
		e.max = math.Max(e.max, drift)
	}
}

func (e *EnergyDrift) Value() float64 { return e.max }

func (e *EnergyDrift) Reset() {
	e.initial = 0
	e.max = 0
	e.samples = 0
}
