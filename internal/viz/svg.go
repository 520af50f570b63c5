package viz

import (
	"fmt"
	"strings"

	"dipmpc/internal/sim"
)

// CanvasSVG renders the lit dots of a canvas as SVG circles, scale pixels
// per dot.
func CanvasSVG(c *Canvas, scale float64) string {
	if c == nil {
		return ""
	}
	if scale <= 0 {
		scale = 4
	}

	w := float64(c.DotWidth()) * scale
	h := float64(c.DotHeight()) * scale
	r := scale * 0.4

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%.0f" height="%.0f" viewBox="0 0 %.0f %.0f">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
<g fill="#00ff00">
`, w, h, w, h))

	for y := 0; y < c.DotHeight(); y++ {
		for x := 0; x < c.DotWidth(); x++ {
			if !c.At(x, y) {
				continue
			}
			cx := float64(x)*scale + scale/2
			cy := float64(y)*scale + scale/2
			sb.WriteString(fmt.Sprintf("<circle cx=\"%.1f\" cy=\"%.1f\" r=\"%.1f\"/>\n", cx, cy, r))
		}
	}

	sb.WriteString("</g>\n</svg>")
	return sb.String()
}

// SceneSVG renders a single state as an SVG snapshot.
func SceneSVG(scene Scene, x sim.State, u float64, cols, rows int) string {
	if cols <= 0 {
		cols = 60
	}
	if rows <= 0 {
		rows = 24
	}
	c := NewCanvas(cols, rows)
	scene.Render(c, x, u)
	return CanvasSVG(c, 4)
}
