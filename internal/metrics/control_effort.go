package metrics

import (
	"math"

	"dipmpc/internal/sim"
)

// ControlEffort accumulates the magnitude of the applied cart force.
type ControlEffort struct {
	name    string
	sum     float64
	peak    float64
	samples int
}

func NewControlEffort() *ControlEffort {
	return &ControlEffort{name: "control_effort"}
}

func (c *ControlEffort) Name() string { return c.name }

func (c *ControlEffort) OnStep(k int, x sim.State, u float64, info sim.StepInfo) {
	a := math.Abs(u)
	c.sum += a
	if a > c.peak {
		c.peak = a
	}
	c.samples++
}

// Value returns the mean absolute force across the observed ticks.
func (c *ControlEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

// Peak returns the largest absolute force seen so far.
func (c *ControlEffort) Peak() float64 { return c.peak }

func (c *ControlEffort) Reset() {
	c.sum = 0
	c.peak = 0
	c.samples = 0
}
