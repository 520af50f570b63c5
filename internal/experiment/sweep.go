package experiment

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"dipmpc/internal/config"
	"dipmpc/internal/metrics"
)

// Axis is one swept parameter: a name for reporting, the grid values and
// the mutation applied to a config copy.
type Axis struct {
	Name   string
	Values []float64
	Apply  func(*config.Config, float64)
}

var sweepAxes = map[string]func(*config.Config, float64){
	"horizon": func(c *config.Config, v float64) { c.Horizon = int(v) },
	"r":       func(c *config.Config, v float64) { c.Weights.R = v },
	"dt":      func(c *config.Config, v float64) { c.Dt = v },
	"u_max": func(c *config.Config, v float64) {
		c.Bounds.UMax = v
		c.Bounds.UMin = -v
	},
	"tilt": func(c *config.Config, v float64) {
		c.InitState.Theta1 = v
		c.InitState.Theta2 = -v
	},
}

// AxisByName builds a supported sweep axis; AxisNames lists what is
// supported.
func AxisByName(name string, values []float64) (Axis, error) {
	apply, ok := sweepAxes[name]
	if !ok {
		return Axis{}, fmt.Errorf("experiment: unknown sweep axis %q", name)
	}
	if len(values) == 0 {
		return Axis{}, fmt.Errorf("experiment: axis %q has no values", name)
	}
	return Axis{Name: name, Values: values, Apply: apply}, nil
}

func AxisNames() []string {
	names := make([]string, 0, len(sweepAxes))
	for name := range sweepAxes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Point is one grid cell of a sweep.
type Point struct {
	Name   string
	Config *config.Config
}

// ExpandGrid takes the cartesian product of the axes over copies of base.
// With no axes the base config is the single point.
func ExpandGrid(base *config.Config, axes []Axis) []Point {
	if len(axes) == 0 {
		return []Point{{Name: "base", Config: base.Clone()}}
	}

	var points []Point
	idx := make([]int, len(axes))
	for {
		cfg := base.Clone()
		name := ""
		for a, i := range idx {
			axes[a].Apply(cfg, axes[a].Values[i])
			if a > 0 {
				name += " "
			}
			name += fmt.Sprintf("%s=%g", axes[a].Name, axes[a].Values[i])
		}
		points = append(points, Point{Name: name, Config: cfg})

		a := len(axes) - 1
		for a >= 0 {
			idx[a]++
			if idx[a] < len(axes[a].Values) {
				break
			}
			idx[a] = 0
			a--
		}
		if a < 0 {
			break
		}
	}
	return points
}

// Result pairs one grid point with its outcome. Err records control
// failures and divergences; the summary still covers whatever ran.
type Result struct {
	Name    string
	Config  *config.Config
	Summary metrics.Summary
	Err     error
}

// Sweep runs every grid point on its own experiment, at most workers at a
// time. Each point gets an independent controller, so runs never share
// warm starts or failure budgets.
func Sweep(ctx context.Context, base *config.Config, axes []Axis, workers int) []Result {
	points := ExpandGrid(base, axes)
	results := make([]Result, len(points))
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := range points {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			pt := points[idx]
			res := Result{Name: pt.Name, Config: pt.Config}
			defer func() { results[idx] = res }()

			if err := ctx.Err(); err != nil {
				res.Err = err
				return
			}
			exp, err := New(pt.Config)
			if err != nil {
				res.Err = err
				return
			}
			traj, err := exp.Run(ctx)
			res.Err = err
			if traj != nil {
				res.Summary = metrics.Summarize(traj)
			}
		}(i)
	}
	wg.Wait()
	return results
}

// DefaultObjective ranks runs by settle tick with mean force as the
// tiebreaker. Runs with any non-optimal tick, or that never settle, rank
// last.
func DefaultObjective(s metrics.Summary) float64 {
	if !s.AllOptimal() || s.SettleTick < 0 {
		return math.Inf(1)
	}
	return float64(s.SettleTick) + 1e-3*s.MeanAbsForce
}

// Best returns the index of the result minimizing objective, or -1 when
// nothing scored finitely.
func Best(results []Result, objective func(metrics.Summary) float64) int {
	best, bestVal := -1, math.Inf(1)
	for i, r := range results {
		if r.Err != nil {
			continue
		}
		if v := objective(r.Summary); v < bestVal {
			best, bestVal = i, v
		}
	}
	return best
}
