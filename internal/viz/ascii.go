package viz

import (
	"strings"

	"github.com/guptarohit/asciigraph"

	"dipmpc/internal/sim"
)

var stateCaptions = [sim.StateDim]string{
	"cart position (m)",
	"theta1 (rad)",
	"theta2 (rad)",
	"cart velocity (m/s)",
	"omega1 (rad/s)",
	"omega2 (rad/s)",
}

// StateSeries extracts one state component across a trajectory.
func StateSeries(traj *sim.Trajectory, idx int) []float64 {
	out := make([]float64, 0, len(traj.States))
	for _, x := range traj.States {
		if idx < len(x) {
			out = append(out, x[idx])
		}
	}
	return out
}

// Chart renders a single series as a fixed-size terminal graph.
func Chart(data []float64, caption string, height, width int) string {
	if len(data) < 2 {
		return ""
	}
	return asciigraph.Plot(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
	)
}

// ChartTrajectory stacks terminal graphs for every state component of a
// run, followed by the applied force.
func ChartTrajectory(traj *sim.Trajectory, width int) string {
	if traj == nil || len(traj.States) == 0 {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	dim := len(traj.States[0])
	if dim > len(stateCaptions) {
		dim = len(stateCaptions)
	}
	for i := 0; i < dim; i++ {
		if g := Chart(StateSeries(traj, i), stateCaptions[i], 10, width); g != "" {
			b.WriteString(g)
			b.WriteString("\n\n")
		}
	}
	if g := Chart(traj.Controls, "force (N)", 10, width); g != "" {
		b.WriteString(g)
		b.WriteString("\n")
	}
	return b.String()
}
