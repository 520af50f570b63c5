// Package mpc implements a linear model-predictive controller: a condensed
// finite-horizon quadratic program over a discrete prediction model,
// re-solved from the measured state at every tick, with only the first
// input of the optimal sequence applied.
//
// The condensing is pre-stabilized: inputs are reparametrized as
// u_k = -K x_k + v_k with K a discrete LQR gain, so the prediction
// matrices are built from powers of the stable closed-loop transition
// matrix rather than the unstable open-loop one. The substitution is
// affine and exact, so the QP selects the same input sequences; it exists
// purely to keep the condensed Hessian well scaled over long horizons.
package mpc

import (
	"fmt"
	"math"

	"dipmpc/internal/sim"
	"dipmpc/internal/statespace"
)

const (
	// DefaultHorizon is the prediction horizon in ticks.
	DefaultHorizon = 20

	// DefaultMaxFailures is how many consecutive failed solves a
	// controller rides out on the fallback input before giving up.
	DefaultMaxFailures = 10
)

// Problem defines one receding-horizon regulation problem. Weights are
// diagonal: Q penalizes the states k=1..N-1, QN the terminal state, R the
// inputs. Bounds are boxes; individual entries may be +-Inf to disable a
// row. State bounds apply to the predicted states k=1..N, input bounds to
// u_0..u_{N-1}.
type Problem struct {
	Plant   *statespace.Discrete
	Horizon int

	Q  []float64
	QN []float64
	R  float64

	XMin, XMax []float64
	UMin, UMax float64

	// XRef is the regulation target; nil means the origin (upright, at
	// rest, cart at home).
	XRef []float64
}

// Validate checks dimensions, weight signs and bound ordering.
func (p *Problem) Validate() error {
	if p.Plant == nil || p.Plant.Ad == nil || p.Plant.Bd == nil {
		return fmt.Errorf("%w: no prediction model", ErrBadProblem)
	}
	if r, c := p.Plant.Ad.Dims(); r != sim.StateDim || c != sim.StateDim {
		return fmt.Errorf("%w: prediction model is %dx%d, want %dx%d",
			ErrBadProblem, r, c, sim.StateDim, sim.StateDim)
	}
	if p.Horizon < 1 {
		return fmt.Errorf("%w: horizon=%d", ErrBadProblem, p.Horizon)
	}
	if len(p.Q) != sim.StateDim || len(p.QN) != sim.StateDim {
		return fmt.Errorf("%w: weight vectors must have %d entries",
			ErrBadProblem, sim.StateDim)
	}
	for i := 0; i < sim.StateDim; i++ {
		if p.Q[i] < 0 || math.IsNaN(p.Q[i]) || math.IsInf(p.Q[i], 0) {
			return fmt.Errorf("%w: Q[%d]=%g", ErrBadProblem, i, p.Q[i])
		}
		if p.QN[i] < 0 || math.IsNaN(p.QN[i]) || math.IsInf(p.QN[i], 0) {
			return fmt.Errorf("%w: QN[%d]=%g", ErrBadProblem, i, p.QN[i])
		}
	}
	if p.R <= 0 || math.IsNaN(p.R) || math.IsInf(p.R, 0) {
		return fmt.Errorf("%w: R=%g (must be positive)", ErrBadProblem, p.R)
	}
	if len(p.XMin) != sim.StateDim || len(p.XMax) != sim.StateDim {
		return fmt.Errorf("%w: state bounds must have %d entries",
			ErrBadProblem, sim.StateDim)
	}
	for i := 0; i < sim.StateDim; i++ {
		if math.IsNaN(p.XMin[i]) || math.IsNaN(p.XMax[i]) || p.XMin[i] > p.XMax[i] {
			return fmt.Errorf("%w: state bound %d is [%g, %g]",
				ErrBadProblem, i, p.XMin[i], p.XMax[i])
		}
	}
	if math.IsNaN(p.UMin) || math.IsNaN(p.UMax) || p.UMin > p.UMax {
		return fmt.Errorf("%w: input bound is [%g, %g]",
			ErrBadProblem, p.UMin, p.UMax)
	}
	if p.XRef != nil {
		if len(p.XRef) != sim.StateDim {
			return fmt.Errorf("%w: reference must have %d entries",
				ErrBadProblem, sim.StateDim)
		}
		for i, v := range p.XRef {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: reference[%d]=%g", ErrBadProblem, i, v)
			}
		}
	}
	return nil
}
