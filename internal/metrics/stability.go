package metrics

import (
	"math"

	"dipmpc/internal/sim"
)

// Stability measures the fraction of ticks on which both hinge angles
// stayed within a band around upright.
type Stability struct {
	name       string
	threshold  float64
	violations int
	samples    int
}

func NewStability(threshold float64) *Stability {
	return &Stability{name: "stability", threshold: threshold}
}

func (s *Stability) Name() string { return s.name }

func (s *Stability) OnStep(k int, x sim.State, u float64, info sim.StepInfo) {
	s.samples++
	if len(x) < 3 {
		return
	}
	if math.Abs(x[1]) > s.threshold || math.Abs(x[2]) > s.threshold {
		s.violations++
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}
