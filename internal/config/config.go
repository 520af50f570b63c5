// Package config defines the yaml run configuration for the cart and
// double-pendulum stabilization stack: plant parameters, horizon and
// weights, constraint boxes, solver tuning and the safety envelope.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"dipmpc/internal/mpc"
	"dipmpc/internal/pendulum"
	"dipmpc/internal/qp"
)

const (
	DefaultDt    = 0.05
	DefaultSteps = 400
	DefaultTheta = 0.15
	DefaultForce = 50.0
	DefaultR     = 0.1
)

const stateDim = 6

// ErrInvalid is the root of every validation failure reported by Validate.
var ErrInvalid = errors.New("config: invalid value")

// ValidationError reports the first offending field found by Validate.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

type Config struct {
	Physics    PhysicsConfig    `yaml:"physics"`
	InitState  InitStateConfig  `yaml:"init_state"`
	Dt         float64          `yaml:"dt"`
	Steps      int              `yaml:"steps"`
	Method     string           `yaml:"method"`
	Integrator string           `yaml:"integrator"`
	Horizon    int              `yaml:"horizon"`
	Weights    WeightsConfig    `yaml:"weights"`
	Bounds     BoundsConfig     `yaml:"bounds"`
	Reference  []float64        `yaml:"reference"`
	Controller ControllerConfig `yaml:"controller"`
	Solver     SolverConfig     `yaml:"solver"`
	Envelope   []float64        `yaml:"envelope"`
}

type PhysicsConfig struct {
	CartMass  float64 `yaml:"cart_mass"`
	Mass1     float64 `yaml:"mass1"`
	Mass2     float64 `yaml:"mass2"`
	Length1   float64 `yaml:"length1"`
	Length2   float64 `yaml:"length2"`
	Gravity   float64 `yaml:"gravity"`
	CondLimit float64 `yaml:"cond_limit"`
}

type InitStateConfig struct {
	Pos    float64 `yaml:"pos"`
	Theta1 float64 `yaml:"theta1"`
	Theta2 float64 `yaml:"theta2"`
	Vel    float64 `yaml:"vel"`
	Omega1 float64 `yaml:"omega1"`
	Omega2 float64 `yaml:"omega2"`
}

type WeightsConfig struct {
	Q  []float64 `yaml:"q"`
	QN []float64 `yaml:"qn"`
	R  float64   `yaml:"r"`
}

type BoundsConfig struct {
	XMin []float64 `yaml:"x_min"`
	XMax []float64 `yaml:"x_max"`
	UMin float64   `yaml:"u_min"`
	UMax float64   `yaml:"u_max"`
}

type ControllerConfig struct {
	Fallback    string `yaml:"fallback"`
	MaxFailures int    `yaml:"max_failures"`
	WarmStart   bool   `yaml:"warm_start"`
}

type SolverConfig struct {
	MaxIter int     `yaml:"max_iter"`
	EpsAbs  float64 `yaml:"eps_abs"`
	EpsRel  float64 `yaml:"eps_rel"`
}

func DefaultConfig() *Config {
	p := pendulum.DefaultParams()
	s := qp.DefaultSettings()
	return &Config{
		Physics: PhysicsConfig{
			CartMass:  p.CartMass,
			Mass1:     p.Mass1,
			Mass2:     p.Mass2,
			Length1:   p.Length1,
			Length2:   p.Length2,
			Gravity:   p.Gravity,
			CondLimit: p.CondLimit,
		},
		InitState: InitStateConfig{
			Theta1: DefaultTheta,
			Theta2: -DefaultTheta,
		},
		Dt:         DefaultDt,
		Steps:      DefaultSteps,
		Method:     "zoh",
		Integrator: "rk4",
		Horizon:    mpc.DefaultHorizon,
		Weights: WeightsConfig{
			Q:  []float64{10, 100, 100, 1, 10, 10},
			QN: []float64{20, 200, 200, 2, 20, 20},
			R:  DefaultR,
		},
		Bounds: BoundsConfig{
			XMin: []float64{-2.0, -0.5, -0.5, -3.0, -5.0, -5.0},
			XMax: []float64{2.0, 0.5, 0.5, 3.0, 5.0, 5.0},
			UMin: -DefaultForce,
			UMax: DefaultForce,
		},
		Reference: make([]float64, stateDim),
		Controller: ControllerConfig{
			Fallback:    "zero",
			MaxFailures: mpc.DefaultMaxFailures,
			WarmStart:   true,
		},
		Solver: SolverConfig{
			MaxIter: s.MaxIter,
			EpsAbs:  s.EpsAbs,
			EpsRel:  s.EpsRel,
		},
		Envelope: []float64{5, 2 * math.Pi, 2 * math.Pi, 30, 60, 60},
	}
}

// Load reads a yaml file over the defaults, so partial files only need the
// fields they change.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks every field and returns a ValidationError naming the
// first offending one. A nil error means the configuration can be turned
// into a runnable experiment.
func (c *Config) Validate() error {
	physics := []struct {
		field string
		v     float64
	}{
		{"physics.cart_mass", c.Physics.CartMass},
		{"physics.mass1", c.Physics.Mass1},
		{"physics.mass2", c.Physics.Mass2},
		{"physics.length1", c.Physics.Length1},
		{"physics.length2", c.Physics.Length2},
		{"physics.gravity", c.Physics.Gravity},
	}
	for _, p := range physics {
		if !(p.v > 0) || math.IsInf(p.v, 0) {
			return &ValidationError{p.field, fmt.Sprintf("must be positive and finite, got %g", p.v)}
		}
	}
	if c.Physics.CondLimit < 0 || math.IsNaN(c.Physics.CondLimit) {
		return &ValidationError{"physics.cond_limit", fmt.Sprintf("must be non-negative, got %g", c.Physics.CondLimit)}
	}

	init := []struct {
		field string
		v     float64
	}{
		{"init_state.pos", c.InitState.Pos},
		{"init_state.theta1", c.InitState.Theta1},
		{"init_state.theta2", c.InitState.Theta2},
		{"init_state.vel", c.InitState.Vel},
		{"init_state.omega1", c.InitState.Omega1},
		{"init_state.omega2", c.InitState.Omega2},
	}
	for _, p := range init {
		if math.IsNaN(p.v) || math.IsInf(p.v, 0) {
			return &ValidationError{p.field, "must be finite"}
		}
	}

	if !(c.Dt > 0) || math.IsInf(c.Dt, 0) {
		return &ValidationError{"dt", fmt.Sprintf("must be positive, got %g", c.Dt)}
	}
	if c.Steps < 1 {
		return &ValidationError{"steps", fmt.Sprintf("must be at least 1, got %d", c.Steps)}
	}
	switch c.Method {
	case "", "euler", "zoh":
	default:
		return &ValidationError{"method", fmt.Sprintf("unknown method %q (euler or zoh)", c.Method)}
	}
	switch c.Integrator {
	case "", "euler", "rk4":
	default:
		return &ValidationError{"integrator", fmt.Sprintf("unknown integrator %q (euler or rk4)", c.Integrator)}
	}
	if c.Horizon < 1 {
		return &ValidationError{"horizon", fmt.Sprintf("must be at least 1, got %d", c.Horizon)}
	}

	if len(c.Weights.Q) != stateDim {
		return &ValidationError{"weights.q", fmt.Sprintf("need %d entries, got %d", stateDim, len(c.Weights.Q))}
	}
	if len(c.Weights.QN) != stateDim {
		return &ValidationError{"weights.qn", fmt.Sprintf("need %d entries, got %d", stateDim, len(c.Weights.QN))}
	}
	for i, v := range c.Weights.Q {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{fmt.Sprintf("weights.q[%d]", i), fmt.Sprintf("must be non-negative and finite, got %g", v)}
		}
	}
	for i, v := range c.Weights.QN {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{fmt.Sprintf("weights.qn[%d]", i), fmt.Sprintf("must be non-negative and finite, got %g", v)}
		}
	}
	if !(c.Weights.R > 0) || math.IsInf(c.Weights.R, 0) {
		return &ValidationError{"weights.r", fmt.Sprintf("must be positive, got %g", c.Weights.R)}
	}

	if len(c.Bounds.XMin) != stateDim {
		return &ValidationError{"bounds.x_min", fmt.Sprintf("need %d entries, got %d", stateDim, len(c.Bounds.XMin))}
	}
	if len(c.Bounds.XMax) != stateDim {
		return &ValidationError{"bounds.x_max", fmt.Sprintf("need %d entries, got %d", stateDim, len(c.Bounds.XMax))}
	}
	for i := range c.Bounds.XMin {
		lo, hi := c.Bounds.XMin[i], c.Bounds.XMax[i]
		if math.IsNaN(lo) || math.IsNaN(hi) {
			return &ValidationError{fmt.Sprintf("bounds.x_min[%d]", i), "must not be NaN"}
		}
		if lo > hi {
			return &ValidationError{fmt.Sprintf("bounds.x_min[%d]", i), fmt.Sprintf("lower bound %g exceeds upper bound %g", lo, hi)}
		}
	}
	if math.IsNaN(c.Bounds.UMin) || math.IsNaN(c.Bounds.UMax) {
		return &ValidationError{"bounds.u_min", "must not be NaN"}
	}
	if c.Bounds.UMin > c.Bounds.UMax {
		return &ValidationError{"bounds.u_min", fmt.Sprintf("lower bound %g exceeds upper bound %g", c.Bounds.UMin, c.Bounds.UMax)}
	}

	if len(c.Reference) != 0 && len(c.Reference) != stateDim {
		return &ValidationError{"reference", fmt.Sprintf("need %d entries, got %d", stateDim, len(c.Reference))}
	}
	for i, v := range c.Reference {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{fmt.Sprintf("reference[%d]", i), "must be finite"}
		}
	}

	switch c.Controller.Fallback {
	case "", "zero", "hold":
	default:
		return &ValidationError{"controller.fallback", fmt.Sprintf("unknown policy %q (zero or hold)", c.Controller.Fallback)}
	}
	if c.Controller.MaxFailures < 0 {
		return &ValidationError{"controller.max_failures", fmt.Sprintf("must be non-negative, got %d", c.Controller.MaxFailures)}
	}

	if c.Solver.MaxIter < 0 {
		return &ValidationError{"solver.max_iter", fmt.Sprintf("must be non-negative, got %d", c.Solver.MaxIter)}
	}
	if c.Solver.EpsAbs < 0 || math.IsNaN(c.Solver.EpsAbs) {
		return &ValidationError{"solver.eps_abs", fmt.Sprintf("must be non-negative, got %g", c.Solver.EpsAbs)}
	}
	if c.Solver.EpsRel < 0 || math.IsNaN(c.Solver.EpsRel) {
		return &ValidationError{"solver.eps_rel", fmt.Sprintf("must be non-negative, got %g", c.Solver.EpsRel)}
	}

	if len(c.Envelope) != 0 && len(c.Envelope) != stateDim {
		return &ValidationError{"envelope", fmt.Sprintf("need %d entries, got %d", stateDim, len(c.Envelope))}
	}
	for i, v := range c.Envelope {
		if !(v > 0) {
			return &ValidationError{fmt.Sprintf("envelope[%d]", i), fmt.Sprintf("must be positive, got %g", v)}
		}
	}
	return nil
}

// Clone returns a deep copy, so sweeps can mutate one axis per copy
// without sharing slices.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Weights.Q = append([]float64(nil), c.Weights.Q...)
	cp.Weights.QN = append([]float64(nil), c.Weights.QN...)
	cp.Bounds.XMin = append([]float64(nil), c.Bounds.XMin...)
	cp.Bounds.XMax = append([]float64(nil), c.Bounds.XMax...)
	cp.Reference = append([]float64(nil), c.Reference...)
	cp.Envelope = append([]float64(nil), c.Envelope...)
	return &cp
}

func (c *Config) GetInitState() []float64 {
	return []float64{
		c.InitState.Pos, c.InitState.Theta1, c.InitState.Theta2,
		c.InitState.Vel, c.InitState.Omega1, c.InitState.Omega2,
	}
}

// GetReference returns the state target, defaulting to the upright origin
// when the field is omitted.
func (c *Config) GetReference() []float64 {
	ref := make([]float64, stateDim)
	copy(ref, c.Reference)
	return ref
}

func (c *Config) PendulumParams() pendulum.Params {
	return pendulum.Params{
		CartMass:  c.Physics.CartMass,
		Mass1:     c.Physics.Mass1,
		Mass2:     c.Physics.Mass2,
		Length1:   c.Physics.Length1,
		Length2:   c.Physics.Length2,
		Gravity:   c.Physics.Gravity,
		CondLimit: c.Physics.CondLimit,
	}
}

// SolverSettings maps the solver section onto qp.Settings, leaving zero
// fields at their solver defaults.
func (c *Config) SolverSettings() qp.Settings {
	s := qp.DefaultSettings()
	if c.Solver.MaxIter > 0 {
		s.MaxIter = c.Solver.MaxIter
	}
	if c.Solver.EpsAbs > 0 {
		s.EpsAbs = c.Solver.EpsAbs
	}
	if c.Solver.EpsRel > 0 {
		s.EpsRel = c.Solver.EpsRel
	}
	return s
}
