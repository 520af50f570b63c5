package main

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestParseVary(t *testing.T) {
	name, values, err := parseVary("horizon=10,20,40")
	if err != nil {
		t.Fatalf("parseVary: %v", err)
	}
	if name != "horizon" {
		t.Errorf("name = %q, want horizon", name)
	}
	if len(values) != 3 || values[0] != 10 || values[2] != 40 {
		t.Errorf("values = %v, want [10 20 40]", values)
	}

	if _, _, err := parseVary("r=0.05, 0.1"); err != nil {
		t.Errorf("spaces after commas should parse: %v", err)
	}

	for _, bad := range []string{"horizon", "=1,2", "r=", "r=a,b"} {
		if _, _, err := parseVary(bad); err == nil {
			t.Errorf("parseVary(%q) should fail", bad)
		}
	}
}

func TestFormatState(t *testing.T) {
	got := formatState([]float64{1, -0.25, 0})
	want := "[1.0000 -0.2500 0.0000]"
	if got != want {
		t.Errorf("formatState = %q, want %q", got, want)
	}
}

func TestClosedLoop(t *testing.T) {
	ad := mat.NewDense(2, 2, []float64{1, 0.1, 0, 1})
	bd := mat.NewVecDense(2, []float64{0.005, 0.1})
	k := []float64{2, 3}

	cl := closedLoop(ad, bd, k)
	// Ad - Bd*K elementwise.
	want := [][]float64{
		{1 - 0.005*2, 0.1 - 0.005*3},
		{0 - 0.1*2, 1 - 0.1*3},
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if math.Abs(cl.At(i, j)-want[i][j]) > 1e-15 {
				t.Errorf("cl[%d][%d] = %g, want %g", i, j, cl.At(i, j), want[i][j])
			}
		}
	}
}
