package sim

import (
	"math"
	"testing"
)

func TestStateIsValid(t *testing.T) {
	tests := []struct {
		name  string
		state State
		valid bool
	}{
		{"upright", State{0, 0, 0, 0, 0, 0}, true},
		{"tilted", State{0, 0.15, -0.15, 0, 0, 0}, true},
		{"with NaN", State{1, math.NaN(), 0, 0, 0, 0}, false},
		{"with +Inf", State{1, math.Inf(1), 0, 0, 0, 0}, false},
		{"with -Inf", State{1, math.Inf(-1), 0, 0, 0, 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestStateClone(t *testing.T) {
	src := State{1, 2, 3, 4, 5, 6}
	dst := src.Clone()
	dst[0] = 99
	if src[0] != 1 {
		t.Error("Clone did not create an independent copy")
	}
}

func TestStopReasonStrings(t *testing.T) {
	cases := map[StopReason]string{
		StopCompleted:      "completed",
		StopControlFailure: "control-failure",
		StopDiverged:       "diverged",
		StopCanceled:       "canceled",
	}
	for r, want := range cases {
		if got := r.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(r), got, want)
		}
	}
}

func TestTrajectoryFinal(t *testing.T) {
	traj := &Trajectory{}
	if traj.Final() != nil {
		t.Error("empty trajectory should have no final state")
	}
	traj.States = []State{{1, 0, 0, 0, 0, 0}, {2, 0, 0, 0, 0, 0}}
	if f := traj.Final(); f[0] != 2 {
		t.Errorf("Final()[0] = %g, want 2", f[0])
	}
}
