package mpc

import (
	"fmt"

	"dipmpc/internal/qp"
	"dipmpc/internal/sim"
)

// FallbackPolicy selects the input applied on ticks where the solver does
// not return an optimal plan.
type FallbackPolicy int

const (
	// FallbackZero applies zero force.
	FallbackZero FallbackPolicy = iota
	// FallbackHold repeats the last successfully computed input.
	FallbackHold
)

func (p FallbackPolicy) String() string {
	switch p {
	case FallbackZero:
		return "zero"
	case FallbackHold:
		return "hold"
	}
	return fmt.Sprintf("FallbackPolicy(%d)", int(p))
}

// ParseFallback maps a config string to a policy. The empty string selects
// FallbackZero.
func ParseFallback(s string) (FallbackPolicy, error) {
	switch s {
	case "zero", "":
		return FallbackZero, nil
	case "hold":
		return FallbackHold, nil
	}
	return 0, fmt.Errorf("%w: unknown fallback policy %q", ErrBadProblem, s)
}

// Options tune the controller around a fixed formulation.
type Options struct {
	Fallback FallbackPolicy

	// MaxFailures is how many consecutive non-optimal solves are ridden
	// out on the fallback input before Step returns ErrControlFailed.
	// Zero selects DefaultMaxFailures; negative means give up on the
	// first failure.
	MaxFailures int

	// DisableWarmStart forces every solve to start cold. Warm starting
	// never changes which plan is found, so this exists for solver
	// iteration studies.
	DisableWarmStart bool

	Solver qp.Settings
}

// Controller is the receding-horizon regulator: one condensed QP per tick,
// first input applied, remainder of the plan recycled as the next warm
// start. Not safe for concurrent use; parallel studies run one controller
// per goroutine.
type Controller struct {
	form   *Formulation
	solver *qp.Solver
	opts   Options

	q, lo, up []float64
	warmZ     []float64
	warmY     []float64
	haveWarm  bool
	lastU     float64
	failures  int
}

// NewController builds the QP solver for the formulation's cached matrices.
func NewController(form *Formulation, opts Options) (*Controller, error) {
	if form == nil {
		return nil, fmt.Errorf("%w: nil formulation", ErrBadProblem)
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	solver, err := qp.NewSolver(form.Hessian(), form.Constraints(), opts.Solver)
	if err != nil {
		return nil, fmt.Errorf("mpc: solver setup: %w", err)
	}
	n, rows := form.Horizon(), form.Rows()
	return &Controller{
		form:   form,
		solver: solver,
		opts:   opts,
		q:      make([]float64, n),
		lo:     make([]float64, rows),
		up:     make([]float64, rows),
		warmZ:  make([]float64, n),
		warmY:  make([]float64, rows),
	}, nil
}

// Formulation returns the condensed problem the controller runs on.
func (c *Controller) Formulation() *Formulation { return c.form }

// Reset clears the warm start, the failure counter and the held input, so
// the controller can be reused for a fresh run.
func (c *Controller) Reset() {
	c.haveWarm = false
	c.failures = 0
	c.lastU = 0
}

// Step solves the tick's QP from the measured state. On a non-optimal
// outcome it applies the fallback input and reports the failure through
// StepInfo; only after more consecutive failures than MaxFailures does it
// return ErrControlFailed.
func (c *Controller) Step(x sim.State) (float64, sim.StepInfo, error) {
	var info sim.StepInfo
	if err := c.form.PerTick(x, c.q, c.lo, c.up); err != nil {
		return 0, info, err
	}
	var warm *qp.WarmStart
	if c.haveWarm && !c.opts.DisableWarmStart {
		warm = &qp.WarmStart{Z: c.warmZ, Y: c.warmY}
	}
	res, err := c.solver.Solve(c.q, c.lo, c.up, warm)
	if err != nil {
		return 0, info, fmt.Errorf("mpc: solve: %w", err)
	}
	info.Status = res.Status
	info.Iterations = res.Iterations

	if res.Status != qp.StatusOptimal {
		c.failures++
		c.haveWarm = false
		if c.failures > c.opts.MaxFailures {
			return 0, info, fmt.Errorf("%w: %d consecutive failures, last status %s",
				ErrControlFailed, c.failures, res.Status)
		}
		info.Fallback = true
		u := 0.0
		if c.opts.Fallback == FallbackHold {
			u = c.lastU
		}
		return u, info, nil
	}

	c.failures = 0
	u := c.form.InputFrom(x, res.Z[0])
	c.lastU = u
	c.shiftWarm(res)
	return u, info, nil
}

// shiftWarm recycles the optimal plan one stage ahead: decision variables
// and input-row duals shift by one stage, state-row duals by one state
// block, each with the final entry repeated.
func (c *Controller) shiftWarm(res *qp.Result) {
	n, nx := c.form.Horizon(), sim.StateDim
	copy(c.warmZ, res.Z[1:])
	c.warmZ[n-1] = res.Z[n-1]
	copy(c.warmY[:n-1], res.Y[1:n])
	c.warmY[n-1] = res.Y[n-1]
	copy(c.warmY[n:], res.Y[n+nx:])
	copy(c.warmY[n+(n-1)*nx:], res.Y[n+(n-1)*nx:])
	c.haveWarm = true
}
