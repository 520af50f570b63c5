// Package statespace holds continuous- and discrete-time linear state-space
// models with a single control input, and the conversions between them.
package statespace

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Method selects a discretization scheme.
type Method int

const (
	// MethodEuler is the forward Euler approximation Ad = I + A*dt, Bd = B*dt.
	MethodEuler Method = iota
	// MethodZOH is exact zero-order-hold discretization via the matrix
	// exponential of the augmented system [[A, B], [0, 0]]*dt. Unlike the
	// textbook (exp(A*dt)-I) A^-1 B form it is valid for singular A.
	MethodZOH
)

func (m Method) String() string {
	switch m {
	case MethodEuler:
		return "euler"
	case MethodZOH:
		return "zoh"
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// ParseMethod maps the config spelling of a scheme to its Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "euler":
		return MethodEuler, nil
	case "zoh", "":
		return MethodZOH, nil
	}
	return 0, fmt.Errorf("statespace: unknown discretization method %q", s)
}

var ErrNonPositiveStep = errors.New("statespace: step size must be positive")

// Continuous is a linear model dx/dt = A x + B u.
type Continuous struct {
	A *mat.Dense    // n x n
	B *mat.VecDense // n x 1
}

// Discrete is a linear model x[k+1] = Ad x[k] + Bd u[k] on a fixed step.
type Discrete struct {
	Ad *mat.Dense
	Bd *mat.VecDense
	Dt float64
}

// Dim returns the state dimension.
func (c *Continuous) Dim() int {
	n, _ := c.A.Dims()
	return n
}

// Discretize converts the continuous model to a discrete one on step dt.
func (c *Continuous) Discretize(dt float64, method Method) (*Discrete, error) {
	if dt <= 0 {
		return nil, fmt.Errorf("%w: dt=%g", ErrNonPositiveStep, dt)
	}
	n := c.Dim()
	switch method {
	case MethodEuler:
		ad := mat.NewDense(n, n, nil)
		ad.Scale(dt, c.A)
		for i := 0; i < n; i++ {
			ad.Set(i, i, ad.At(i, i)+1)
		}
		bd := mat.NewVecDense(n, nil)
		bd.ScaleVec(dt, c.B)
		return &Discrete{Ad: ad, Bd: bd, Dt: dt}, nil

	case MethodZOH:
		aug := mat.NewDense(n+1, n+1, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				aug.Set(i, j, c.A.At(i, j)*dt)
			}
			aug.Set(i, n, c.B.AtVec(i)*dt)
		}
		var e mat.Dense
		e.Exp(aug)
		ad := mat.NewDense(n, n, nil)
		ad.Copy(e.Slice(0, n, 0, n))
		bd := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			bd.SetVec(i, e.At(i, n))
		}
		return &Discrete{Ad: ad, Bd: bd, Dt: dt}, nil
	}
	return nil, fmt.Errorf("statespace: unknown discretization method %v", method)
}

// Propagate returns Ad x + Bd u without modifying x.
func (d *Discrete) Propagate(x *mat.VecDense, u float64) *mat.VecDense {
	n, _ := d.Ad.Dims()
	out := mat.NewVecDense(n, nil)
	out.MulVec(d.Ad, x)
	out.AddScaledVec(out, u, d.Bd)
	return out
}
