package config

// GetPreset returns a named scenario as a fresh Config, or nil when the
// name is unknown. Presets start from DefaultConfig so later default
// changes flow through.
func GetPreset(name string) *Config {
	cfg := DefaultConfig()
	switch name {
	case "default":
		// Opposite 0.15 rad tilts, the largest recoverable start for the
		// stock force budget. Saturates the actuator on the first tick and
		// settles within about 25 ticks.
	case "gentle":
		// Settles in about 14 ticks without ever hitting the force bound.
		cfg.InitState.Theta1 = 0.10
		cfg.InitState.Theta2 = -0.10
	case "overtilt":
		// Beyond the recoverable basin: the QP is infeasible from the first
		// tick and the run ends in a control failure near tick 11.
		cfg.InitState.Theta1 = 0.60
		cfg.InitState.Theta2 = -0.60
	case "weak-actuator":
		// Default tilt with an actuator too weak to act on it. Same failure
		// path as overtilt.
		cfg.Bounds.UMin = -0.001
		cfg.Bounds.UMax = 0.001
	default:
		return nil
	}
	return cfg
}

func ListPresets() []string {
	return []string{"default", "gentle", "overtilt", "weak-actuator"}
}
