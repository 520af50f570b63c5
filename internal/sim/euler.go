package sim

// Euler is the explicit first-order integrator. It exists for convergence
// comparisons against RK4; the closed loop defaults to RK4.
type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Step(dyn Dynamics, x State, u float64, dt float64) (State, error) {
	k, err := dyn.Derivative(x, u)
	if err != nil {
		return nil, err
	}
	out := make(State, len(x))
	for i := range x {
		out[i] = x[i] + dt*k[i]
	}
	return out, nil
}
