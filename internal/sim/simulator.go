package sim

import (
	"context"
	"fmt"
)

// StopReason records why a closed-loop run ended.
type StopReason int

const (
	// StopCompleted: all requested ticks ran.
	StopCompleted StopReason = iota
	// StopControlFailure: the controller exhausted its failure budget.
	StopControlFailure
	// StopDiverged: the plant state went non-finite or left the envelope.
	StopDiverged
	// StopCanceled: the context was canceled between ticks.
	StopCanceled
)

func (r StopReason) String() string {
	switch r {
	case StopCompleted:
		return "completed"
	case StopControlFailure:
		return "control-failure"
	case StopDiverged:
		return "diverged"
	case StopCanceled:
		return "canceled"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Envelope is the set of absolute per-component state limits beyond which
// the plant is considered to have diverged. It is deliberately wider than
// the controller's own state box: leaving the box is a control problem,
// leaving the envelope means the simulation no longer describes anything.
type Envelope []float64

// Contains reports whether x is finite and within the limits.
func (e Envelope) Contains(x State) bool {
	if !x.IsValid() {
		return false
	}
	for i, lim := range e {
		if i >= len(x) {
			break
		}
		if x[i] > lim || x[i] < -lim {
			return false
		}
	}
	return true
}

// Config parameterizes one closed-loop run.
type Config struct {
	Dt       float64
	Steps    int
	Envelope Envelope
}

// Trajectory is the full record of a run. States has one more entry than
// Controls; Steps[k] describes the solve that produced Controls[k]. A
// trajectory is returned for every run that started, however it ended.
type Trajectory struct {
	Times    []float64
	States   []State
	Controls []float64
	Steps    []StepInfo
	Reason   StopReason
	Err      error
}

// Final returns the last recorded state.
func (t *Trajectory) Final() State {
	if len(t.States) == 0 {
		return nil
	}
	return t.States[len(t.States)-1]
}

// Simulator advances the true plant under a controller, one tick at a time:
// measure, solve, apply, integrate. Everything runs on the caller's
// goroutine; cancellation is honored between ticks and a tick in flight
// always completes.
type Simulator struct {
	dyn        Dynamics
	integrator Integrator
	controller Controller
	observers  []Observer
}

func New(dyn Dynamics, integrator Integrator, controller Controller) *Simulator {
	return &Simulator{dyn: dyn, integrator: integrator, controller: controller}
}

func (s *Simulator) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

func (s *Simulator) validate(x0 State, cfg Config) error {
	if cfg.Dt <= 0 {
		return fmt.Errorf("%w: dt must be positive, got %g", ErrBadConfig, cfg.Dt)
	}
	if cfg.Steps <= 0 {
		return fmt.Errorf("%w: steps must be positive, got %d", ErrBadConfig, cfg.Steps)
	}
	if !x0.IsValid() {
		return fmt.Errorf("%w: initial state", ErrInvalidState)
	}
	for i, lim := range cfg.Envelope {
		if lim <= 0 {
			return fmt.Errorf("%w: envelope[%d] must be positive, got %g", ErrBadConfig, i, lim)
		}
	}
	if len(cfg.Envelope) > 0 && !cfg.Envelope.Contains(x0) {
		return fmt.Errorf("%w: initial state outside envelope", ErrBadConfig)
	}
	return nil
}

// Run executes up to cfg.Steps ticks from x0. The returned trajectory is
// never silently truncated: whatever was accumulated before a failure is in
// it, along with the reason and the terminal error, which is also returned.
func (s *Simulator) Run(ctx context.Context, x0 State, cfg Config) (*Trajectory, error) {
	if err := s.validate(x0, cfg); err != nil {
		return nil, err
	}

	traj := &Trajectory{
		Times:    make([]float64, 0, cfg.Steps+1),
		States:   make([]State, 0, cfg.Steps+1),
		Controls: make([]float64, 0, cfg.Steps),
		Steps:    make([]StepInfo, 0, cfg.Steps),
		Reason:   StopCompleted,
	}

	x := x0.Clone()
	t := 0.0
	traj.States = append(traj.States, x.Clone())
	traj.Times = append(traj.Times, t)

	for k := 0; k < cfg.Steps; k++ {
		select {
		case <-ctx.Done():
			traj.Reason = StopCanceled
			traj.Err = ctx.Err()
			return traj, traj.Err
		default:
		}

		u, info, err := s.controller.Step(x)
		traj.Controls = append(traj.Controls, u)
		traj.Steps = append(traj.Steps, info)
		if err != nil {
			traj.Reason = StopControlFailure
			traj.Err = &StepError{Step: k, Time: t, State: x.Clone(), Wrapped: err}
			return traj, traj.Err
		}

		next, err := s.integrator.Step(s.dyn, x, u, cfg.Dt)
		if err != nil {
			traj.Reason = StopDiverged
			traj.Err = &StepError{Step: k, Time: t, State: x.Clone(), Wrapped: err}
			return traj, traj.Err
		}

		t += cfg.Dt
		if !next.IsValid() {
			traj.Reason = StopDiverged
			traj.Err = &StepError{Step: k, Time: t, State: x.Clone(), Wrapped: ErrInvalidState}
			return traj, traj.Err
		}
		if len(cfg.Envelope) > 0 && !cfg.Envelope.Contains(next) {
			traj.States = append(traj.States, next.Clone())
			traj.Times = append(traj.Times, t)
			traj.Reason = StopDiverged
			traj.Err = &StepError{Step: k, Time: t, State: next.Clone(), Wrapped: ErrDiverged}
			return traj, traj.Err
		}

		x = next
		traj.States = append(traj.States, x.Clone())
		traj.Times = append(traj.Times, t)
		for _, o := range s.observers {
			o.OnStep(k, x, u, info)
		}
	}
	return traj, nil
}
