// Package metrics condenses closed-loop trajectories into the numbers the
// run and sweep commands report, and provides streaming observers for live
// views.
package metrics

import (
	"math"

	"dipmpc/internal/sim"
)

// DefaultSettleTol is the band, in radians, both hinge angles must stay
// inside for the run to count as settled.
const DefaultSettleTol = 0.05

// IterStats aggregates solver iteration counts across a run.
type IterStats struct {
	Total int     `json:"total"`
	Mean  float64 `json:"mean"`
	Max   int     `json:"max"`
}

// Summary condenses one finished trajectory.
type Summary struct {
	Ticks         int            `json:"ticks"`
	Reason        string         `json:"reason"`
	SettleTick    int            `json:"settle_tick"`
	MaxAbsState   []float64      `json:"max_abs_state"`
	FinalState    []float64      `json:"final_state"`
	PeakForce     float64        `json:"peak_force"`
	MeanAbsForce  float64        `json:"mean_abs_force"`
	TotalAbsForce float64        `json:"total_abs_force"`
	FallbackTicks int            `json:"fallback_ticks"`
	StatusCounts  map[string]int `json:"status_counts"`
	Iterations    IterStats      `json:"iterations"`
}

// AllOptimal reports whether every tick solved to optimality.
func (s Summary) AllOptimal() bool {
	return s.Ticks > 0 && s.StatusCounts["optimal"] == s.Ticks
}

// SettleTick returns the first index from which both hinge angles stay
// within tol through the end of the trajectory, or -1 if they never do.
func SettleTick(states []sim.State, tol float64) int {
	if len(states) == 0 {
		return -1
	}
	settle := 0
	for k := len(states) - 1; k >= 0; k-- {
		x := states[k]
		if len(x) < 3 {
			continue
		}
		if math.Abs(x[1]) > tol || math.Abs(x[2]) > tol {
			if k == len(states)-1 {
				return -1
			}
			settle = k + 1
			break
		}
	}
	return settle
}

// Summarize walks a trajectory once and fills in every Summary field.
func Summarize(traj *sim.Trajectory) Summary {
	s := Summary{
		Ticks:        len(traj.Controls),
		Reason:       traj.Reason.String(),
		SettleTick:   SettleTick(traj.States, DefaultSettleTol),
		StatusCounts: make(map[string]int),
	}

	if n := len(traj.States); n > 0 {
		dim := len(traj.States[0])
		s.MaxAbsState = make([]float64, dim)
		for _, x := range traj.States {
			for i, v := range x {
				if i >= dim {
					break
				}
				if a := math.Abs(v); a > s.MaxAbsState[i] {
					s.MaxAbsState[i] = a
				}
			}
		}
		s.FinalState = append([]float64(nil), traj.States[n-1]...)
	}

	for _, u := range traj.Controls {
		a := math.Abs(u)
		s.TotalAbsForce += a
		if a > s.PeakForce {
			s.PeakForce = a
		}
	}
	if s.Ticks > 0 {
		s.MeanAbsForce = s.TotalAbsForce / float64(s.Ticks)
	}

	for _, st := range traj.Steps {
		s.StatusCounts[st.Status.String()]++
		if st.Fallback {
			s.FallbackTicks++
		}
		s.Iterations.Total += st.Iterations
		if st.Iterations > s.Iterations.Max {
			s.Iterations.Max = st.Iterations
		}
	}
	if len(traj.Steps) > 0 {
		s.Iterations.Mean = float64(s.Iterations.Total) / float64(len(traj.Steps))
	}
	return s
}
