package statespace

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func diagSym(d []float64) *mat.SymDense {
	s := mat.NewSymDense(len(d), nil)
	for i, v := range d {
		s.SetSym(i, i, v)
	}
	return s
}

func TestLQRPendulumGain(t *testing.T) {
	d, err := uprightPlant().Discretize(0.05, MethodZOH)
	if err != nil {
		t.Fatalf("discretize: %v", err)
	}
	q := diagSym([]float64{10, 100, 100, 1, 10, 10})
	k, err := d.LQR(q, 0.1)
	if err != nil {
		t.Fatalf("lqr: %v", err)
	}
	want := []float64{3.81015852838771, -197.431065204167, 226.439460660455,
		6.70380901996793, -7.42724136126771, 32.8156698706181}
	for i, w := range want {
		if got := k.AtVec(i); math.Abs(got-w) > 1e-6 {
			t.Errorf("K[%d] = %.10g, want %.10g", i, got, w)
		}
	}
}

func TestLQRStabilizesUnstablePlant(t *testing.T) {
	d, err := uprightPlant().Discretize(0.05, MethodZOH)
	if err != nil {
		t.Fatalf("discretize: %v", err)
	}
	q := diagSym([]float64{10, 100, 100, 1, 10, 10})
	k, err := d.LQR(q, 0.1)
	if err != nil {
		t.Fatalf("lqr: %v", err)
	}

	n := 6
	acl := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			acl.Set(i, j, d.Ad.At(i, j)-d.Bd.AtVec(i)*k.AtVec(j))
		}
	}
	open := powInfNorm(d.Ad, 40)
	closed := powInfNorm(acl, 40)
	if open < 1e6 {
		t.Errorf("open-loop plant should blow up over 2s: |Ad^40| = %g", open)
	}
	if closed > 10 {
		t.Errorf("closed loop should stay bounded: |Acl^40| = %g", closed)
	}
}

func TestLQRDoubleIntegrator(t *testing.T) {
	c := &Continuous{
		A: mat.NewDense(2, 2, []float64{0, 1, 0, 0}),
		B: mat.NewVecDense(2, []float64{0, 1}),
	}
	d, err := c.Discretize(0.1, MethodZOH)
	if err != nil {
		t.Fatalf("discretize: %v", err)
	}
	k, err := d.LQR(diagSym([]float64{1, 1}), 1)
	if err != nil {
		t.Fatalf("lqr: %v", err)
	}
	acl := mat.NewDense(2, 2, nil)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			acl.Set(i, j, d.Ad.At(i, j)-d.Bd.AtVec(i)*k.AtVec(j))
		}
	}
	if nrm := powInfNorm(acl, 200); nrm > 0.1 {
		t.Errorf("double integrator not regulated: |Acl^200| = %g", nrm)
	}
}

func TestLQRUncontrollableMode(t *testing.T) {
	// second mode is unstable and unreachable, so the Riccati iteration
	// cannot settle
	d := &Discrete{
		Ad: mat.NewDense(2, 2, []float64{1.1, 0, 0, 1.1}),
		Bd: mat.NewVecDense(2, []float64{1, 0}),
		Dt: 0.1,
	}
	if _, err := d.LQR(diagSym([]float64{1, 1}), 1); !errors.Is(err, ErrNoConvergence) {
		t.Errorf("expected ErrNoConvergence, got %v", err)
	}
}

func powInfNorm(a *mat.Dense, p int) float64 {
	n, _ := a.Dims()
	acc := mat.NewDense(n, n, nil)
	acc.CloneFrom(a)
	for i := 1; i < p; i++ {
		var next mat.Dense
		next.Mul(a, acc)
		acc.CloneFrom(&next)
	}
	worst := 0.0
	for i := 0; i < n; i++ {
		row := 0.0
		for j := 0; j < n; j++ {
			row += math.Abs(acc.At(i, j))
		}
		if row > worst {
			worst = row
		}
	}
	return worst
}
