package sim

import (
	"math"

	"dipmpc/internal/qp"
)

// StateDim is the plant state dimension: cart position, the two hinge
// angles measured from the upright vertical, and their velocities.
const StateDim = 6

// State is the plant state [x, theta1, theta2, xdot, omega1, omega2].
type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

// IsValid reports whether every component is finite.
func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Dynamics evaluates the plant derivative for a state and a scalar input.
type Dynamics interface {
	Derivative(x State, u float64) (State, error)
}

// StepInfo is what the controller reports about one tick beyond the input
// itself: the solver outcome and whether the fallback input was applied.
type StepInfo struct {
	Status     qp.Status
	Iterations int
	Fallback   bool
}

// Controller computes the input to apply at the measured state. An error
// means the controller has given up, not that a single solve failed;
// recoverable failures surface through StepInfo.
type Controller interface {
	Step(x State) (u float64, info StepInfo, err error)
}

// Integrator advances the plant by one fixed step.
type Integrator interface {
	Step(dyn Dynamics, x State, u float64, dt float64) (State, error)
}

// Observer is notified after each completed tick.
type Observer interface {
	OnStep(k int, x State, u float64, info StepInfo)
}
