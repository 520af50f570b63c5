package statespace

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// upright linearization of the reference cart/double-pendulum plant
func uprightPlant() *Continuous {
	a := mat.NewDense(6, 6, nil)
	a.Set(0, 3, 1)
	a.Set(1, 4, 1)
	a.Set(2, 5, 1)
	a.Set(3, 1, -7.3575)
	a.Set(3, 2, 0.788303571428571)
	a.Set(4, 1, 73.575)
	a.Set(4, 2, -33.10875)
	a.Set(5, 1, -58.86)
	a.Set(5, 2, 51.1521428571429)
	b := mat.NewVecDense(6, []float64{0, 0, 0, 0.607142857142857, -1.5, 0.285714285714286})
	return &Continuous{A: a, B: b}
}

func TestDiscretizeEulerDoubleIntegrator(t *testing.T) {
	c := &Continuous{
		A: mat.NewDense(2, 2, []float64{0, 1, 0, 0}),
		B: mat.NewVecDense(2, []float64{0, 1}),
	}
	d, err := c.Discretize(0.1, MethodEuler)
	if err != nil {
		t.Fatalf("discretize: %v", err)
	}
	want := []float64{1, 0.1, 0, 1}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if got := d.Ad.At(i, j); math.Abs(got-want[2*i+j]) > 1e-14 {
				t.Errorf("Ad[%d][%d] = %g, want %g", i, j, got, want[2*i+j])
			}
		}
	}
	if math.Abs(d.Bd.AtVec(0)) > 1e-14 || math.Abs(d.Bd.AtVec(1)-0.1) > 1e-14 {
		t.Errorf("Bd = [%g, %g], want [0, 0.1]", d.Bd.AtVec(0), d.Bd.AtVec(1))
	}
}

func TestDiscretizeZOHDoubleIntegrator(t *testing.T) {
	// exact: Ad = [[1, dt], [0, 1]], Bd = [dt^2/2, dt]
	c := &Continuous{
		A: mat.NewDense(2, 2, []float64{0, 1, 0, 0}),
		B: mat.NewVecDense(2, []float64{0, 1}),
	}
	dt := 0.2
	d, err := c.Discretize(dt, MethodZOH)
	if err != nil {
		t.Fatalf("discretize: %v", err)
	}
	if math.Abs(d.Ad.At(0, 1)-dt) > 1e-12 {
		t.Errorf("Ad[0][1] = %g, want %g", d.Ad.At(0, 1), dt)
	}
	if math.Abs(d.Bd.AtVec(0)-dt*dt/2) > 1e-12 {
		t.Errorf("Bd[0] = %g, want %g", d.Bd.AtVec(0), dt*dt/2)
	}
	if math.Abs(d.Bd.AtVec(1)-dt) > 1e-12 {
		t.Errorf("Bd[1] = %g, want %g", d.Bd.AtVec(1), dt)
	}
}

func TestDiscretizeZOHPendulumPlant(t *testing.T) {
	d, err := uprightPlant().Discretize(0.05, MethodZOH)
	if err != nil {
		t.Fatalf("discretize: %v", err)
	}
	wantRow1 := []float64{0, 1.09390306540319, -0.0424712653530576, 0,
		0.0515521066324274, -0.000700590479821193}
	wantRow4 := []float64{0, 3.83418300112312, -1.74266251477455, 0,
		1.09390306540319, -0.0424712653530576}
	wantBd := []float64{0.000761882237407028, -0.00190647020851207,
		0.000384209604930519, 0.0305942795798246, -0.0775283286571615,
		0.0164618506100019}
	for j := 0; j < 6; j++ {
		if got := d.Ad.At(1, j); math.Abs(got-wantRow1[j]) > 1e-9 {
			t.Errorf("Ad[1][%d] = %.12g, want %.12g", j, got, wantRow1[j])
		}
		if got := d.Ad.At(4, j); math.Abs(got-wantRow4[j]) > 1e-9 {
			t.Errorf("Ad[4][%d] = %.12g, want %.12g", j, got, wantRow4[j])
		}
		if got := d.Bd.AtVec(j); math.Abs(got-wantBd[j]) > 1e-9 {
			t.Errorf("Bd[%d] = %.12g, want %.12g", j, got, wantBd[j])
		}
	}
}

func TestEulerApproachesZOH(t *testing.T) {
	c := uprightPlant()
	coarseZOH, err := c.Discretize(0.05, MethodZOH)
	if err != nil {
		t.Fatalf("zoh: %v", err)
	}
	coarseEuler, err := c.Discretize(0.05, MethodEuler)
	if err != nil {
		t.Fatalf("euler: %v", err)
	}
	// at the control rate the two differ substantially
	if d := maxAbsDiff(coarseZOH.Ad, coarseEuler.Ad); d < 0.1 {
		t.Errorf("expected visible Euler error at dt=0.05, got %g", d)
	}
	fineZOH, err := c.Discretize(1e-4, MethodZOH)
	if err != nil {
		t.Fatalf("zoh: %v", err)
	}
	fineEuler, err := c.Discretize(1e-4, MethodEuler)
	if err != nil {
		t.Fatalf("euler: %v", err)
	}
	if d := maxAbsDiff(fineZOH.Ad, fineEuler.Ad); d > 1e-3 {
		t.Errorf("Euler should approach ZOH as dt shrinks, diff %g", d)
	}
}

func TestDiscretizeBadStep(t *testing.T) {
	c := uprightPlant()
	for _, dt := range []float64{0, -0.01} {
		if _, err := c.Discretize(dt, MethodZOH); !errors.Is(err, ErrNonPositiveStep) {
			t.Errorf("dt=%g: expected ErrNonPositiveStep, got %v", dt, err)
		}
	}
}

func TestPropagate(t *testing.T) {
	c := &Continuous{
		A: mat.NewDense(2, 2, []float64{0, 1, 0, 0}),
		B: mat.NewVecDense(2, []float64{0, 1}),
	}
	d, err := c.Discretize(0.1, MethodZOH)
	if err != nil {
		t.Fatalf("discretize: %v", err)
	}
	x := mat.NewVecDense(2, []float64{1, 2})
	next := d.Propagate(x, 0.5)
	// position 1 + 2*0.1 + 0.5*0.005, velocity 2 + 0.5*0.1
	if math.Abs(next.AtVec(0)-1.2025) > 1e-12 {
		t.Errorf("next[0] = %g, want 1.2025", next.AtVec(0))
	}
	if math.Abs(next.AtVec(1)-2.05) > 1e-12 {
		t.Errorf("next[1] = %g, want 2.05", next.AtVec(1))
	}
}

func TestParseMethod(t *testing.T) {
	cases := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{"euler", MethodEuler, false},
		{"zoh", MethodZOH, false},
		{"", MethodZOH, false},
		{"rk4", 0, true},
	}
	for _, c := range cases {
		got, err := ParseMethod(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseMethod(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMethod(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseMethod(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func maxAbsDiff(a, b *mat.Dense) float64 {
	r, c := a.Dims()
	worst := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if d := math.Abs(a.At(i, j) - b.At(i, j)); d > worst {
				worst = d
			}
		}
	}
	return worst
}
