package mpc

import "errors"

var (
	// ErrBadProblem reports an inconsistent problem definition: wrong
	// dimensions, crossed bounds, indefinite weights or a bad horizon.
	ErrBadProblem = errors.New("mpc: invalid problem")

	// ErrControlFailed is returned by Controller.Step once the solver has
	// failed more consecutive ticks than the controller tolerates.
	ErrControlFailed = errors.New("mpc: control failed")

	// ErrDimension reports a state vector of the wrong length.
	ErrDimension = errors.New("mpc: state must have 6 components")
)
