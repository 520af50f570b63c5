package viz

import (
	"math"

	"dipmpc/internal/sim"
)

// Scene maps the cart and both rods onto a canvas: rail, cart body, hinge
// chain with bobs, and a force bar under the rail. Angles are measured
// from the upright vertical, so theta 0 draws both rods straight up.
type Scene struct {
	L1, L2    float64 // rod lengths, m
	HalfSpan  float64 // visible rail half-width, m
	ForceSpan float64 // force that fills the bar, N
}

func NewScene(l1, l2, halfSpan, forceSpan float64) Scene {
	if halfSpan <= 0 {
		halfSpan = 2.5
	}
	if forceSpan <= 0 {
		forceSpan = 50
	}
	return Scene{L1: l1, L2: l2, HalfSpan: halfSpan, ForceSpan: forceSpan}
}

// Render clears the canvas and draws one state. The cart wraps visually at
// the rail ends rather than scrolling; the rail span is fixed so frames of
// one run stay comparable.
func (s Scene) Render(c *Canvas, x sim.State, u float64) {
	c.Clear()
	if len(x) < 3 {
		return
	}

	w, h := c.DotWidth(), c.DotHeight()
	railY := h - 14
	scale := float64(w-8) / (2 * s.HalfSpan)
	if reach := s.L1 + s.L2; reach > 0 {
		if fit := float64(railY-6) / reach; fit < scale {
			scale = fit
		}
	}

	// Rail with end stops.
	c.Line(0, railY+4, w-1, railY+4)
	c.Line(2, railY-2, 2, railY+4)
	c.Line(w-3, railY-2, w-3, railY+4)

	pos := math.Mod(x[0]+s.HalfSpan, 2*s.HalfSpan)
	if pos < 0 {
		pos += 2 * s.HalfSpan
	}
	cartX := 4 + int(pos*scale)
	if cartX > w-5 {
		cartX = w - 5
	}

	// Cart body sits on the rail, hinge on its top edge.
	c.Box(cartX-7, railY-3, cartX+7, railY+3)
	hingeY := railY - 4

	t1x := cartX + int(s.L1*scale*math.Sin(x[1]))
	t1y := hingeY - int(s.L1*scale*math.Cos(x[1]))
	t2x := t1x + int(s.L2*scale*math.Sin(x[2]))
	t2y := t1y - int(s.L2*scale*math.Cos(x[2]))

	c.Line(cartX, hingeY, t1x, t1y)
	c.Blob(t1x, t1y, 1)
	c.Line(t1x, t1y, t2x, t2y)
	c.Blob(t2x, t2y, 2)

	// Force bar: signed, centered under the rail.
	barY := h - 5
	half := float64(w/2 - 4)
	extent := int(half * u / s.ForceSpan)
	if extent > int(half) {
		extent = int(half)
	}
	if extent < -int(half) {
		extent = -int(half)
	}
	c.Set(w/2, barY-1)
	c.Set(w/2, barY+1)
	if extent != 0 {
		c.Line(w/2, barY, w/2+extent, barY)
	}
}
