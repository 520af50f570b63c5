package mpc

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"dipmpc/internal/sim"
	"dipmpc/internal/statespace"
)

// Formulation caches everything about the condensed QP that does not depend
// on the measured state: prediction operators, Hessian and constraint
// matrix. Per tick only the linear cost and the row bounds move, which
// PerTick refreshes with a few matrix-vector products.
//
// With the pre-stabilizing substitution u_k = -K x_k + v_k the predicted
// states are X = Phi x0 + Gamma v and the absolute inputs are
// u = E v + ephi x0, E unit lower triangular. The QP is
//
//	min_v 1/2 v'Hv + q(x0)'v   s.t.   lo(x0) <= [E; Gamma] v <= up(x0)
//
// with input rows first, then the state rows for k=1..N.
type Formulation struct {
	prob Problem
	n    int // horizon
	nx   int

	kgain   []float64 // pre-stabilizing gain, all zero when disabled
	prestab bool

	phi   *mat.Dense // (N*nx) x nx
	gamma *mat.Dense // (N*nx) x N
	emat  *mat.Dense // N x N
	ephi  *mat.Dense // N x nx
	h     *mat.SymDense
	ac    *mat.Dense // (N + N*nx) x N
	gq    *mat.Dense // N x (N*nx): 2 Gamma' Qbar
	re    *mat.Dense // N x N: 2R E'
	xref  *mat.VecDense

	phix, ex, dx, t1, t2 *mat.VecDense // per-tick scratch
}

// NewFormulation validates the problem and condenses it. The Riccati gain
// is computed from the problem's own Q and R; if the iteration does not
// settle the formulation silently degrades to plain (K = 0) condensing,
// which is exact but worse scaled.
func NewFormulation(prob Problem) (*Formulation, error) {
	if err := prob.Validate(); err != nil {
		return nil, err
	}
	prob.Q = append([]float64(nil), prob.Q...)
	prob.QN = append([]float64(nil), prob.QN...)
	prob.XMin = append([]float64(nil), prob.XMin...)
	prob.XMax = append([]float64(nil), prob.XMax...)
	if prob.XRef != nil {
		prob.XRef = append([]float64(nil), prob.XRef...)
	}

	n, nx := prob.Horizon, sim.StateDim
	f := &Formulation{prob: prob, n: n, nx: nx, kgain: make([]float64, nx)}

	qsym := mat.NewSymDense(nx, nil)
	for i := 0; i < nx; i++ {
		qsym.SetSym(i, i, prob.Q[i])
	}
	kv, err := prob.Plant.LQR(qsym, prob.R)
	switch {
	case err == nil:
		for i := 0; i < nx; i++ {
			f.kgain[i] = kv.AtVec(i)
		}
		f.prestab = true
	case errors.Is(err, statespace.ErrNoConvergence):
		// plain condensing
	default:
		return nil, fmt.Errorf("mpc: pre-stabilizing gain: %w", err)
	}

	ad, bd := prob.Plant.Ad, prob.Plant.Bd
	acl := mat.NewDense(nx, nx, nil)
	for i := 0; i < nx; i++ {
		for j := 0; j < nx; j++ {
			acl.Set(i, j, ad.At(i, j)-bd.AtVec(i)*f.kgain[j])
		}
	}
	pw := make([]*mat.Dense, n+1)
	pw[0] = eye(nx)
	for p := 1; p <= n; p++ {
		pw[p] = mat.NewDense(nx, nx, nil)
		pw[p].Mul(acl, pw[p-1])
	}
	// impulse responses: imp[j] = Acl^j Bd
	imp := make([]*mat.VecDense, n)
	for j := 0; j < n; j++ {
		imp[j] = mat.NewVecDense(nx, nil)
		imp[j].MulVec(pw[j], bd)
	}

	f.phi = mat.NewDense(n*nx, nx, nil)
	f.gamma = mat.NewDense(n*nx, n, nil)
	for k := 1; k <= n; k++ {
		for i := 0; i < nx; i++ {
			for j := 0; j < nx; j++ {
				f.phi.Set((k-1)*nx+i, j, pw[k].At(i, j))
			}
		}
		for j := 0; j < k; j++ {
			for i := 0; i < nx; i++ {
				f.gamma.Set((k-1)*nx+i, j, imp[k-1-j].AtVec(i))
			}
		}
	}

	// u_row = v_row - K x_row with x_row predicted from x0 and v_0..v_{row-1}
	f.emat = mat.NewDense(n, n, nil)
	f.ephi = mat.NewDense(n, nx, nil)
	for row := 0; row < n; row++ {
		f.emat.Set(row, row, 1)
		for j := 0; j < row; j++ {
			s := 0.0
			for i := 0; i < nx; i++ {
				s += f.kgain[i] * imp[row-1-j].AtVec(i)
			}
			f.emat.Set(row, j, -s)
		}
		for jc := 0; jc < nx; jc++ {
			s := 0.0
			for i := 0; i < nx; i++ {
				s += f.kgain[i] * pw[row].At(i, jc)
			}
			f.ephi.Set(row, jc, -s)
		}
	}

	wdiag := make([]float64, n*nx)
	for k := 1; k <= n; k++ {
		src := prob.Q
		if k == n {
			src = prob.QN
		}
		copy(wdiag[(k-1)*nx:k*nx], src)
	}
	f.gq = mat.NewDense(n, n*nx, nil)
	for j := 0; j < n; j++ {
		for i := 0; i < n*nx; i++ {
			f.gq.Set(j, i, 2*f.gamma.At(i, j)*wdiag[i])
		}
	}
	f.re = mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			f.re.Set(i, j, 2*prob.R*f.emat.At(j, i))
		}
	}

	// H = 2(Gamma' Qbar Gamma + R E'E), symmetrized against roundoff
	var hg, hr mat.Dense
	hg.Mul(f.gq, f.gamma)
	hr.Mul(f.re, f.emat)
	f.h = mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.5 * (hg.At(i, j) + hg.At(j, i) + hr.At(i, j) + hr.At(j, i))
			f.h.SetSym(i, j, v)
		}
	}

	rows := n + n*nx
	f.ac = mat.NewDense(rows, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			f.ac.Set(i, j, f.emat.At(i, j))
		}
	}
	for i := 0; i < n*nx; i++ {
		for j := 0; j < n; j++ {
			f.ac.Set(n+i, j, f.gamma.At(i, j))
		}
	}

	f.xref = mat.NewVecDense(n*nx, nil)
	if prob.XRef != nil {
		for k := 0; k < n; k++ {
			for i := 0; i < nx; i++ {
				f.xref.SetVec(k*nx+i, prob.XRef[i])
			}
		}
	}

	f.phix = mat.NewVecDense(n*nx, nil)
	f.ex = mat.NewVecDense(n, nil)
	f.dx = mat.NewVecDense(n*nx, nil)
	f.t1 = mat.NewVecDense(n, nil)
	f.t2 = mat.NewVecDense(n, nil)
	return f, nil
}

// Horizon returns the number of prediction steps N.
func (f *Formulation) Horizon() int { return f.n }

// Rows returns the number of constraint rows, inputs then states.
func (f *Formulation) Rows() int { return f.n + f.n*f.nx }

// Hessian returns the cached condensed cost matrix.
func (f *Formulation) Hessian() *mat.SymDense { return f.h }

// Constraints returns the cached constraint matrix [E; Gamma].
func (f *Formulation) Constraints() *mat.Dense { return f.ac }

// Gain returns a copy of the pre-stabilizing feedback gain.
func (f *Formulation) Gain() []float64 {
	return append([]float64(nil), f.kgain...)
}

// Prestabilized reports whether the Riccati gain is in effect.
func (f *Formulation) Prestabilized() bool { return f.prestab }

// Problem returns the problem this formulation was condensed from.
func (f *Formulation) Problem() Problem { return f.prob }

// PerTick writes the x0-dependent pieces of the QP: the linear cost q over
// the decision variables and the stacked row bounds lo, up.
func (f *Formulation) PerTick(x0 sim.State, q, lo, up []float64) error {
	n, nx := f.n, f.nx
	if len(x0) != nx {
		return fmt.Errorf("%w: got %d", ErrDimension, len(x0))
	}
	if len(q) != n || len(lo) != n+n*nx || len(up) != n+n*nx {
		return fmt.Errorf("mpc: per-tick buffers sized (%d, %d, %d), want (%d, %d, %d)",
			len(q), len(lo), len(up), n, n+n*nx, n+n*nx)
	}
	x := mat.NewVecDense(nx, x0)
	f.phix.MulVec(f.phi, x)
	f.ex.MulVec(f.ephi, x)
	f.dx.SubVec(f.phix, f.xref)
	f.t1.MulVec(f.gq, f.dx)
	f.t2.MulVec(f.re, f.ex)
	for i := 0; i < n; i++ {
		q[i] = f.t1.AtVec(i) + f.t2.AtVec(i)
		lo[i] = f.prob.UMin - f.ex.AtVec(i)
		up[i] = f.prob.UMax - f.ex.AtVec(i)
	}
	for k := 0; k < n; k++ {
		for i := 0; i < nx; i++ {
			r := n + k*nx + i
			p := f.phix.AtVec(k*nx + i)
			lo[r] = f.prob.XMin[i] - p
			up[r] = f.prob.XMax[i] - p
		}
	}
	return nil
}

// InputFrom recovers the absolute plant input from the first decision
// variable: u0 = v0 - K x0.
func (f *Formulation) InputFrom(x0 sim.State, v0 float64) float64 {
	u := v0
	for i, ki := range f.kgain {
		u -= ki * x0[i]
	}
	return u
}

// Predict returns the predicted states k=1..N for a measured state and a
// decision vector, stacked row-major.
func (f *Formulation) Predict(x0 sim.State, v []float64) ([]float64, error) {
	if len(x0) != f.nx {
		return nil, fmt.Errorf("%w: got %d", ErrDimension, len(x0))
	}
	if len(v) != f.n {
		return nil, fmt.Errorf("mpc: decision vector has %d entries, want %d",
			len(v), f.n)
	}
	out := mat.NewVecDense(f.n*f.nx, nil)
	out.MulVec(f.phi, mat.NewVecDense(f.nx, x0))
	var gv mat.VecDense
	gv.MulVec(f.gamma, mat.NewVecDense(f.n, v))
	out.AddVec(out, &gv)
	return append([]float64(nil), out.RawVector().Data...), nil
}

// InputSequence maps a decision vector to the absolute input sequence
// u_0..u_{N-1} it encodes.
func (f *Formulation) InputSequence(x0 sim.State, v []float64) ([]float64, error) {
	if len(x0) != f.nx {
		return nil, fmt.Errorf("%w: got %d", ErrDimension, len(x0))
	}
	if len(v) != f.n {
		return nil, fmt.Errorf("mpc: decision vector has %d entries, want %d",
			len(v), f.n)
	}
	out := mat.NewVecDense(f.n, nil)
	out.MulVec(f.emat, mat.NewVecDense(f.n, v))
	var ox mat.VecDense
	ox.MulVec(f.ephi, mat.NewVecDense(f.nx, x0))
	out.AddVec(out, &ox)
	return append([]float64(nil), out.RawVector().Data...), nil
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
