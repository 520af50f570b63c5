package pendulum

import "errors"

var (
	// ErrBadParams reports a non-physical parameter set.
	ErrBadParams = errors.New("pendulum: physical parameters must be positive and finite")

	// ErrIllConditioned reports a mass matrix that cannot be inverted
	// reliably at the requested configuration.
	ErrIllConditioned = errors.New("pendulum: mass matrix ill-conditioned")

	// ErrDimension reports a state vector of the wrong length.
	ErrDimension = errors.New("pendulum: state must have 6 components")
)
