package sim

// RK4 is the classical fourth-order Runge-Kutta integrator with reusable
// scratch buffers. Not safe for concurrent use; give each goroutine its own.
type RK4 struct {
	scratch State
}

func NewRK4() *RK4 {
	return &RK4{}
}

func (r *RK4) Step(dyn Dynamics, x State, u float64, dt float64) (State, error) {
	n := len(x)
	if len(r.scratch) != n {
		r.scratch = make(State, n)
	}

	k1, err := dyn.Derivative(x, u)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + 0.5*dt*k1[i]
	}
	k2, err := dyn.Derivative(r.scratch, u)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + 0.5*dt*k2[i]
	}
	k3, err := dyn.Derivative(r.scratch, u)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*k3[i]
	}
	k4, err := dyn.Derivative(r.scratch, u)
	if err != nil {
		return nil, err
	}

	out := make(State, n)
	dt6 := dt / 6.0
	for i := 0; i < n; i++ {
		out[i] = x[i] + dt6*(k1[i]+2*k2[i]+2*k3[i]+k4[i])
	}
	return out, nil
}
