package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Dt != 0.05 {
		t.Errorf("expected dt 0.05, got %g", cfg.Dt)
	}
	if cfg.Horizon != 20 {
		t.Errorf("expected horizon 20, got %d", cfg.Horizon)
	}
	if cfg.Steps != 400 {
		t.Errorf("expected 400 steps, got %d", cfg.Steps)
	}
	if cfg.InitState.Theta1 != 0.15 || cfg.InitState.Theta2 != -0.15 {
		t.Errorf("expected opposite 0.15 rad tilts, got %g, %g",
			cfg.InitState.Theta1, cfg.InitState.Theta2)
	}
	if cfg.Weights.Q[1] != 100 || cfg.Weights.QN[1] != 200 {
		t.Errorf("expected q[1]=100 qn[1]=200, got %g, %g",
			cfg.Weights.Q[1], cfg.Weights.QN[1])
	}
	if cfg.Bounds.UMax != 50 || cfg.Bounds.UMin != -50 {
		t.Errorf("expected force bounds +/-50, got [%g, %g]",
			cfg.Bounds.UMin, cfg.Bounds.UMax)
	}
	if !cfg.Controller.WarmStart {
		t.Error("warm starting should be on by default")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")

	cfg := DefaultConfig()
	cfg.InitState.Theta1 = 0.3
	cfg.Horizon = 35
	cfg.Weights.R = 0.7
	cfg.Controller.Fallback = "hold"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.InitState.Theta1 != 0.3 {
		t.Errorf("expected theta1 0.3, got %g", got.InitState.Theta1)
	}
	if got.Horizon != 35 {
		t.Errorf("expected horizon 35, got %d", got.Horizon)
	}
	if got.Weights.R != 0.7 {
		t.Errorf("expected r 0.7, got %g", got.Weights.R)
	}
	if got.Controller.Fallback != "hold" {
		t.Errorf("expected fallback hold, got %q", got.Controller.Fallback)
	}
	if got.Weights.Q[2] != 100 {
		t.Errorf("untouched weight should survive the round trip, got %g", got.Weights.Q[2])
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	partial := "dt: 0.01\ninit_state:\n  theta1: 0.05\ncontroller:\n  warm_start: false\n"
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dt != 0.01 {
		t.Errorf("expected overridden dt 0.01, got %g", cfg.Dt)
	}
	if cfg.InitState.Theta1 != 0.05 {
		t.Errorf("expected overridden theta1 0.05, got %g", cfg.InitState.Theta1)
	}
	if cfg.Controller.WarmStart {
		t.Error("expected warm_start override to stick")
	}
	if cfg.Horizon != 20 {
		t.Errorf("expected default horizon 20, got %d", cfg.Horizon)
	}
	if cfg.InitState.Theta2 != -0.15 {
		t.Errorf("expected default theta2 -0.15, got %g", cfg.InitState.Theta2)
	}
	if cfg.Bounds.UMax != 50 {
		t.Errorf("expected default u_max 50, got %g", cfg.Bounds.UMax)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("dt: [not a number"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative mass", func(c *Config) { c.Physics.Mass1 = -0.5 }, "physics.mass1"},
		{"zero length", func(c *Config) { c.Physics.Length2 = 0 }, "physics.length2"},
		{"nan tilt", func(c *Config) { c.InitState.Theta1 = math.NaN() }, "init_state.theta1"},
		{"zero dt", func(c *Config) { c.Dt = 0 }, "dt"},
		{"zero steps", func(c *Config) { c.Steps = 0 }, "steps"},
		{"bad method", func(c *Config) { c.Method = "tustin" }, "method"},
		{"bad integrator", func(c *Config) { c.Integrator = "rk45" }, "integrator"},
		{"zero horizon", func(c *Config) { c.Horizon = 0 }, "horizon"},
		{"short q", func(c *Config) { c.Weights.Q = []float64{1, 2, 3} }, "weights.q"},
		{"negative q entry", func(c *Config) { c.Weights.Q[4] = -1 }, "weights.q[4]"},
		{"zero r", func(c *Config) { c.Weights.R = 0 }, "weights.r"},
		{"crossed state box", func(c *Config) { c.Bounds.XMin[1] = 1.0 }, "bounds.x_min[1]"},
		{"crossed force box", func(c *Config) { c.Bounds.UMin = 60 }, "bounds.u_min"},
		{"nan bound", func(c *Config) { c.Bounds.XMax[0] = math.NaN() }, "bounds.x_min[0]"},
		{"short reference", func(c *Config) { c.Reference = []float64{0} }, "reference"},
		{"bad fallback", func(c *Config) { c.Controller.Fallback = "panic" }, "controller.fallback"},
		{"negative max failures", func(c *Config) { c.Controller.MaxFailures = -1 }, "controller.max_failures"},
		{"negative eps", func(c *Config) { c.Solver.EpsAbs = -1e-6 }, "solver.eps_abs"},
		{"zero envelope entry", func(c *Config) { c.Envelope[3] = 0 }, "envelope[3]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("error should wrap ErrInvalid, got %v", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, ve.Field)
			}
		})
	}
}

func TestValidateAllowsInfiniteBounds(t *testing.T) {
	cfg := DefaultConfig()
	for i := range cfg.Bounds.XMin {
		cfg.Bounds.XMin[i] = math.Inf(-1)
		cfg.Bounds.XMax[i] = math.Inf(1)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("infinite state bounds should validate: %v", err)
	}
}

func TestGetPreset(t *testing.T) {
	tests := []struct {
		name  string
		check func(t *testing.T, c *Config)
	}{
		{"default", func(t *testing.T, c *Config) {
			if c.InitState.Theta1 != 0.15 {
				t.Errorf("expected theta1 0.15, got %g", c.InitState.Theta1)
			}
		}},
		{"gentle", func(t *testing.T, c *Config) {
			if c.InitState.Theta1 != 0.10 || c.InitState.Theta2 != -0.10 {
				t.Errorf("expected 0.10 rad tilts, got %g, %g", c.InitState.Theta1, c.InitState.Theta2)
			}
		}},
		{"overtilt", func(t *testing.T, c *Config) {
			if c.InitState.Theta1 != 0.60 {
				t.Errorf("expected theta1 0.60, got %g", c.InitState.Theta1)
			}
		}},
		{"weak-actuator", func(t *testing.T, c *Config) {
			if c.Bounds.UMax != 0.001 {
				t.Errorf("expected u_max 0.001, got %g", c.Bounds.UMax)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetPreset(tt.name)
			if cfg == nil {
				t.Fatal("expected preset, got nil")
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("preset should validate: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestGetPresetNotFound(t *testing.T) {
	if cfg := GetPreset("nonexistent"); cfg != nil {
		t.Error("expected nil for unknown preset")
	}
}

func TestGetPresetReturnsFreshCopy(t *testing.T) {
	a := GetPreset("default")
	b := GetPreset("default")
	a.Weights.Q[0] = 999
	if b.Weights.Q[0] == 999 {
		t.Error("presets must not share state")
	}
}

func TestListPresets(t *testing.T) {
	names := ListPresets()
	if len(names) != 4 {
		t.Fatalf("expected 4 presets, got %d", len(names))
	}
	found := false
	for _, n := range names {
		if n == "overtilt" {
			found = true
		}
	}
	if !found {
		t.Error("expected overtilt preset in listing")
	}
}

func TestClone(t *testing.T) {
	a := DefaultConfig()
	b := a.Clone()

	b.Weights.Q[0] = 999
	b.Bounds.XMax[1] = 999
	b.Envelope[0] = 999
	b.Horizon = 5

	if a.Weights.Q[0] == 999 || a.Bounds.XMax[1] == 999 || a.Envelope[0] == 999 {
		t.Error("clone must not share slices with the original")
	}
	if a.Horizon == 5 {
		t.Error("clone must not share scalars with the original")
	}
}

func TestGetInitState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitState = InitStateConfig{Pos: 1, Theta1: 2, Theta2: 3, Vel: 4, Omega1: 5, Omega2: 6}
	got := cfg.GetInitState()
	want := []float64{1, 2, 3, 4, 5, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("state[%d]: expected %g, got %g", i, want[i], got[i])
		}
	}
}

func TestSolverSettingsFillDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Solver = SolverConfig{}
	s := cfg.SolverSettings()
	if s.MaxIter != 4000 {
		t.Errorf("expected default max_iter 4000, got %d", s.MaxIter)
	}
	if s.EpsAbs != 1e-4 || s.EpsRel != 1e-4 {
		t.Errorf("expected default tolerances 1e-4, got %g, %g", s.EpsAbs, s.EpsRel)
	}

	cfg.Solver = SolverConfig{MaxIter: 100, EpsAbs: 1e-6}
	s = cfg.SolverSettings()
	if s.MaxIter != 100 || s.EpsAbs != 1e-6 || s.EpsRel != 1e-4 {
		t.Errorf("expected overrides to stick with remaining defaults, got %+v", s)
	}
}
