// Package pendulum models a cart on a frictionless rail carrying two
// serially hinged uniform-rod pendulums, actuated by a horizontal force on
// the cart. Angles are measured from the upright vertical, so the state
// [0 0 0 0 0 0] is the (unstable) equilibrium the controller defends.
package pendulum

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"dipmpc/internal/sim"
)

const (
	DefaultCartMass  = 1.5
	DefaultMass1     = 0.5
	DefaultMass2     = 0.75
	DefaultLength1   = 0.5
	DefaultLength2   = 0.75
	DefaultGravity   = 9.81
	DefaultCondLimit = 1e12
)

// Params are the physical constants of the plant. Rods are uniform, so the
// centers of mass sit at half length and the link inertias follow from the
// rod formula mL^2/12.
type Params struct {
	CartMass float64 // cart mass m0 [kg]
	Mass1    float64 // inner rod mass [kg]
	Mass2    float64 // outer rod mass [kg]
	Length1  float64 // inner rod length [m]
	Length2  float64 // outer rod length [m]
	Gravity  float64 // [m/s^2]

	// CondLimit bounds the acceptable mass-matrix condition number;
	// zero selects DefaultCondLimit.
	CondLimit float64
}

// DefaultParams returns the reference plant.
func DefaultParams() Params {
	return Params{
		CartMass: DefaultCartMass,
		Mass1:    DefaultMass1,
		Mass2:    DefaultMass2,
		Length1:  DefaultLength1,
		Length2:  DefaultLength2,
		Gravity:  DefaultGravity,
	}
}

// Validate rejects non-physical parameters.
func (p Params) Validate() error {
	check := func(name string, v float64) error {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s=%g", ErrBadParams, name, v)
		}
		return nil
	}
	if err := check("cart mass", p.CartMass); err != nil {
		return err
	}
	if err := check("mass1", p.Mass1); err != nil {
		return err
	}
	if err := check("mass2", p.Mass2); err != nil {
		return err
	}
	if err := check("length1", p.Length1); err != nil {
		return err
	}
	if err := check("length2", p.Length2); err != nil {
		return err
	}
	if err := check("gravity", p.Gravity); err != nil {
		return err
	}
	if p.CondLimit < 0 {
		return fmt.Errorf("%w: condition limit=%g", ErrBadParams, p.CondLimit)
	}
	return nil
}

// Model evaluates the Euler-Lagrange equations of motion. The generalized
// coordinates are q = [x, theta1, theta2] and the dynamics have the form
// M(q) q'' = rhs(q, q', u) with M symmetric positive definite.
type Model struct {
	params Params

	// Lagrangian coefficients: M(0) entries d1..d6, gravity torques f1, f2
	d1, d2, d3, d4, d5, d6 float64
	f1, f2                 float64

	condLimit float64
}

// New validates the parameters and precomputes the model coefficients.
func New(p Params) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	l1, l2 := p.Length1/2, p.Length2/2
	i1 := p.Mass1 * p.Length1 * p.Length1 / 12
	i2 := p.Mass2 * p.Length2 * p.Length2 / 12
	m := &Model{
		params:    p,
		d1:        p.CartMass + p.Mass1 + p.Mass2,
		d2:        p.Mass1*l1 + p.Mass2*p.Length1,
		d3:        p.Mass2 * l2,
		d4:        p.Mass1*l1*l1 + p.Mass2*p.Length1*p.Length1 + i1,
		d5:        p.Mass2 * p.Length1 * l2,
		d6:        p.Mass2*l2*l2 + i2,
		condLimit: p.CondLimit,
	}
	m.f1 = m.d2 * p.Gravity
	m.f2 = m.d3 * p.Gravity
	if m.condLimit == 0 {
		m.condLimit = DefaultCondLimit
	}
	return m, nil
}

func (m *Model) Params() Params { return m.params }

// MassMatrix returns M(q) for the given hinge angles.
func (m *Model) MassMatrix(theta1, theta2 float64) *mat.SymDense {
	c1 := math.Cos(theta1)
	c2 := math.Cos(theta2)
	cd := math.Cos(theta1 - theta2)
	return mat.NewSymDense(3, []float64{
		m.d1, m.d2 * c1, m.d3 * c2,
		m.d2 * c1, m.d4, m.d5 * cd,
		m.d3 * c2, m.d5 * cd, m.d6,
	})
}

func (m *Model) factorize(theta1, theta2 float64) (*mat.Cholesky, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(m.MassMatrix(theta1, theta2)); !ok {
		return nil, fmt.Errorf("%w: not positive definite at theta=(%.4f, %.4f)",
			ErrIllConditioned, theta1, theta2)
	}
	if c := chol.Cond(); c > m.condLimit {
		return nil, fmt.Errorf("%w: cond=%.3g exceeds limit %.3g",
			ErrIllConditioned, c, m.condLimit)
	}
	return &chol, nil
}

// Derivative evaluates the full nonlinear plant: dx/dt for the state
// [x, theta1, theta2, xdot, omega1, omega2] under cart force u.
func (m *Model) Derivative(x sim.State, u float64) (sim.State, error) {
	if len(x) != sim.StateDim {
		return nil, fmt.Errorf("%w: got %d", ErrDimension, len(x))
	}
	th1, th2, w1, w2 := x[1], x[2], x[4], x[5]
	s1 := math.Sin(th1)
	s2 := math.Sin(th2)
	sd := math.Sin(th1 - th2)

	chol, err := m.factorize(th1, th2)
	if err != nil {
		return nil, err
	}
	rhs := mat.NewVecDense(3, []float64{
		u + m.d2*s1*w1*w1 + m.d3*s2*w2*w2,
		m.f1*s1 - m.d5*sd*w2*w2,
		m.f2*s2 + m.d5*sd*w1*w1,
	})
	var acc mat.VecDense
	if err := chol.SolveVecTo(&acc, rhs); err != nil {
		return nil, fmt.Errorf("pendulum: mass matrix solve: %w", err)
	}
	return sim.State{x[3], x[4], x[5], acc.AtVec(0), acc.AtVec(1), acc.AtVec(2)}, nil
}

// Energy returns kinetic plus potential energy, with the potential datum at
// the cart rail. Conserved along uncontrolled trajectories; the tests lean
// on that to validate the equations of motion.
func (m *Model) Energy(x sim.State) float64 {
	th1, th2 := x[1], x[2]
	v := []float64{x[3], x[4], x[5]}
	mm := m.MassMatrix(th1, th2)
	ke := 0.0
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			ke += 0.5 * v[i] * mm.At(i, j) * v[j]
		}
	}
	pe := m.f1*math.Cos(th1) + m.f2*math.Cos(th2)
	return ke + pe
}
