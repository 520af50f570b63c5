package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrDiverged indicates the plant state left the safety envelope.
	ErrDiverged = errors.New("sim: plant diverged (state left the safety envelope)")

	// ErrInvalidState indicates a NaN or Inf appeared in the plant state.
	ErrInvalidState = errors.New("sim: invalid state (NaN or Inf detected)")

	// ErrBadConfig indicates an unusable run configuration.
	ErrBadConfig = errors.New("sim: invalid run configuration")
)

// StepError wraps an error with the tick at which it occurred and the last
// valid state, so callers can inspect where a run came apart.
type StepError struct {
	Step    int
	Time    float64
	State   State
	Wrapped error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (t=%.3fs): %v", e.Step, e.Time, e.Wrapped)
}

func (e *StepError) Unwrap() error {
	return e.Wrapped
}
