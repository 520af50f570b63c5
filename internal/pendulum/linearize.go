package pendulum

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"dipmpc/internal/sim"
	"dipmpc/internal/statespace"
)

// fdStep is the central-difference step for numeric Jacobians.
const fdStep = 1e-6

// Linearize returns the continuous-time model dx/dt = A x + B u of the
// plant about the upright equilibrium (x arbitrary, all other components
// zero, u = 0).
//
// To first order at theta = 0 the equations of motion read
// M0 q'' = diag(0, f1, f2) q + e1 u, so the acceleration rows of A are
// M0^{-1} diag(0, f1, f2) and those of B are M0^{-1} e1.
func (m *Model) Linearize() (*statespace.Continuous, error) {
	chol, err := m.factorize(0, 0)
	if err != nil {
		return nil, err
	}
	var col1, col2, colB mat.VecDense
	if err := chol.SolveVecTo(&colB, unit3(0)); err != nil {
		return nil, fmt.Errorf("pendulum: linearize: %w", err)
	}
	if err := chol.SolveVecTo(&col1, unit3(1)); err != nil {
		return nil, fmt.Errorf("pendulum: linearize: %w", err)
	}
	if err := chol.SolveVecTo(&col2, unit3(2)); err != nil {
		return nil, fmt.Errorf("pendulum: linearize: %w", err)
	}

	a := mat.NewDense(sim.StateDim, sim.StateDim, nil)
	a.Set(0, 3, 1)
	a.Set(1, 4, 1)
	a.Set(2, 5, 1)
	b := mat.NewVecDense(sim.StateDim, nil)
	for i := 0; i < 3; i++ {
		a.Set(3+i, 1, m.f1*col1.AtVec(i))
		a.Set(3+i, 2, m.f2*col2.AtVec(i))
		b.SetVec(3+i, colB.AtVec(i))
	}
	return &statespace.Continuous{A: a, B: b}, nil
}

// LinearizeAt computes a central-difference Jacobian of the nonlinear
// dynamics about an arbitrary operating point. Linearize is exact at the
// upright equilibrium; this one backs it up in tests and supports
// off-equilibrium studies.
func (m *Model) LinearizeAt(x sim.State, u float64) (*statespace.Continuous, error) {
	if len(x) != sim.StateDim {
		return nil, fmt.Errorf("%w: got %d", ErrDimension, len(x))
	}
	a := mat.NewDense(sim.StateDim, sim.StateDim, nil)
	for j := 0; j < sim.StateDim; j++ {
		hi := x.Clone()
		lo := x.Clone()
		hi[j] += fdStep
		lo[j] -= fdStep
		dhi, err := m.Derivative(hi, u)
		if err != nil {
			return nil, err
		}
		dlo, err := m.Derivative(lo, u)
		if err != nil {
			return nil, err
		}
		for i := 0; i < sim.StateDim; i++ {
			a.Set(i, j, (dhi[i]-dlo[i])/(2*fdStep))
		}
	}

	dhi, err := m.Derivative(x, u+fdStep)
	if err != nil {
		return nil, err
	}
	dlo, err := m.Derivative(x, u-fdStep)
	if err != nil {
		return nil, err
	}
	b := mat.NewVecDense(sim.StateDim, nil)
	for i := 0; i < sim.StateDim; i++ {
		b.SetVec(i, (dhi[i]-dlo[i])/(2*fdStep))
	}
	return &statespace.Continuous{A: a, B: b}, nil
}

func unit3(i int) *mat.VecDense {
	v := mat.NewVecDense(3, nil)
	v.SetVec(i, 1)
	return v
}
