// Package experiment assembles the full closed loop from a configuration
// and runs it: plant, linearization, discrete model, condensed program,
// controller and simulator, each constructed once per run.
package experiment

import (
	"context"
	"fmt"

	"dipmpc/internal/config"
	"dipmpc/internal/mpc"
	"dipmpc/internal/pendulum"
	"dipmpc/internal/sim"
	"dipmpc/internal/statespace"
)

type Experiment struct {
	cfg        *config.Config
	model      *pendulum.Model
	plant      *statespace.Discrete
	form       *mpc.Formulation
	controller *mpc.Controller
	integrator sim.Integrator
	simulator  *sim.Simulator
}

// New validates cfg and builds every stage of the loop. The returned
// experiment owns its controller, so concurrent experiments never share
// solver state.
func New(cfg *config.Config) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	model, err := pendulum.New(cfg.PendulumParams())
	if err != nil {
		return nil, err
	}

	cont, err := model.Linearize()
	if err != nil {
		return nil, err
	}
	method, err := statespace.ParseMethod(cfg.Method)
	if err != nil {
		return nil, err
	}
	plant, err := cont.Discretize(cfg.Dt, method)
	if err != nil {
		return nil, err
	}

	form, err := mpc.NewFormulation(mpc.Problem{
		Plant:   plant,
		Horizon: cfg.Horizon,
		Q:       cfg.Weights.Q,
		QN:      cfg.Weights.QN,
		R:       cfg.Weights.R,
		XMin:    cfg.Bounds.XMin,
		XMax:    cfg.Bounds.XMax,
		UMin:    cfg.Bounds.UMin,
		UMax:    cfg.Bounds.UMax,
		XRef:    cfg.GetReference(),
	})
	if err != nil {
		return nil, err
	}

	fallback, err := mpc.ParseFallback(cfg.Controller.Fallback)
	if err != nil {
		return nil, err
	}
	controller, err := mpc.NewController(form, mpc.Options{
		Fallback:         fallback,
		MaxFailures:      cfg.Controller.MaxFailures,
		DisableWarmStart: !cfg.Controller.WarmStart,
		Solver:           cfg.SolverSettings(),
	})
	if err != nil {
		return nil, err
	}

	integrator, err := newIntegrator(cfg.Integrator)
	if err != nil {
		return nil, err
	}

	return &Experiment{
		cfg:        cfg,
		model:      model,
		plant:      plant,
		form:       form,
		controller: controller,
		integrator: integrator,
		simulator:  sim.New(model, integrator, controller),
	}, nil
}

func newIntegrator(name string) (sim.Integrator, error) {
	switch name {
	case "", "rk4":
		return sim.NewRK4(), nil
	case "euler":
		return sim.NewEuler(), nil
	}
	return nil, fmt.Errorf("experiment: unknown integrator %q", name)
}

func (e *Experiment) Model() *pendulum.Model        { return e.model }
func (e *Experiment) Plant() *statespace.Discrete   { return e.plant }
func (e *Experiment) Formulation() *mpc.Formulation { return e.form }
func (e *Experiment) Controller() *mpc.Controller   { return e.controller }
func (e *Experiment) Integrator() sim.Integrator    { return e.integrator }
func (e *Experiment) Config() *config.Config        { return e.cfg }

// AddObserver forwards to the simulator; call before Run.
func (e *Experiment) AddObserver(o sim.Observer) {
	e.simulator.AddObserver(o)
}

// Run executes the closed loop from the configured initial state. The
// trajectory is returned alongside the terminal error, so failed runs
// still carry everything recorded up to the failure.
func (e *Experiment) Run(ctx context.Context) (*sim.Trajectory, error) {
	x0 := sim.State(e.cfg.GetInitState())
	return e.simulator.Run(ctx, x0, sim.Config{
		Dt:       e.cfg.Dt,
		Steps:    e.cfg.Steps,
		Envelope: sim.Envelope(e.cfg.Envelope),
	})
}
