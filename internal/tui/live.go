package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"dipmpc/internal/config"
	"dipmpc/internal/experiment"
	"dipmpc/internal/metrics"
	"dipmpc/internal/qp"
	"dipmpc/internal/sim"
	"dipmpc/internal/viz"
)

type tickMsg time.Time

// tickEvery paces frames at the control period, so the animation plays in
// real time.
func tickEvery(dt float64) tea.Cmd {
	d := time.Duration(dt * float64(time.Second))
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// liveModel advances the closed loop one control tick per frame: solve,
// apply, integrate, draw. It owns its experiment, so restarting builds a
// fresh controller with no warm-start carryover.
type liveModel struct {
	cfg    *config.Config
	exp    *experiment.Experiment
	canvas *viz.Canvas
	scene  viz.Scene

	x      sim.State
	t      float64
	tick   int
	u      float64
	info   sim.StepInfo
	paused bool
	done   bool
	status string
	err    error

	angles    []float64
	forces    []float64
	iterTotal int
	fallbacks int

	effort  *metrics.ControlEffort
	upright *metrics.Stability
}

func railHalfSpan(cfg *config.Config) float64 {
	if len(cfg.Envelope) > 0 && cfg.Envelope[0] > 0 && !math.IsInf(cfg.Envelope[0], 0) {
		return cfg.Envelope[0]
	}
	return 2.5
}

func newLiveModel(cfg *config.Config) (*liveModel, error) {
	exp, err := experiment.New(cfg)
	if err != nil {
		return nil, err
	}
	return &liveModel{
		cfg:    cfg,
		exp:    exp,
		canvas: viz.NewCanvas(64, 20),
		scene: viz.NewScene(cfg.Physics.Length1, cfg.Physics.Length2,
			railHalfSpan(cfg), cfg.Bounds.UMax),
		x:       sim.State(cfg.GetInitState()),
		effort:  metrics.NewControlEffort(),
		upright: metrics.NewStability(0.05),
	}, nil
}

func (m *liveModel) restart() {
	exp, err := experiment.New(m.cfg)
	if err != nil {
		m.err = err
		m.done = true
		m.status = "rebuild failed"
		return
	}
	m.exp = exp
	m.x = sim.State(m.cfg.GetInitState())
	m.t = 0
	m.tick = 0
	m.u = 0
	m.info = sim.StepInfo{}
	m.paused = false
	m.done = false
	m.status = ""
	m.err = nil
	m.angles = nil
	m.forces = nil
	m.iterTotal = 0
	m.fallbacks = 0
	m.effort.Reset()
	m.upright.Reset()
}

func (m *liveModel) step() {
	if m.done {
		return
	}
	if m.tick >= m.cfg.Steps {
		m.done = true
		m.status = "completed"
		return
	}

	u, info, err := m.exp.Controller().Step(m.x)
	m.u, m.info = u, info
	m.iterTotal += info.Iterations
	if info.Fallback {
		m.fallbacks++
	}
	m.tick++
	if err != nil {
		m.err = err
		m.done = true
		m.status = "control failure"
		return
	}

	next, err := m.exp.Integrator().Step(m.exp.Model(), m.x, u, m.cfg.Dt)
	if err != nil {
		m.err = err
		m.done = true
		m.status = "diverged"
		return
	}
	env := sim.Envelope(m.cfg.Envelope)
	if !next.IsValid() || (len(env) > 0 && !env.Contains(next)) {
		m.done = true
		m.status = "diverged"
		return
	}

	m.x = next
	m.t += m.cfg.Dt
	m.effort.OnStep(m.tick, m.x, u, m.info)
	m.upright.OnStep(m.tick, m.x, u, m.info)
	m.angles = append(m.angles, m.x[1])
	if len(m.angles) > 120 {
		m.angles = m.angles[1:]
	}
	m.forces = append(m.forces, u)
	if len(m.forces) > 120 {
		m.forces = m.forces[1:]
	}
}

func (m *liveModel) statusLine() (icon, text string) {
	switch {
	case m.done && m.err != nil:
		return red.Render("✖"), red.Render(m.status)
	case m.done:
		return green.Render("✔"), green.Render(m.status)
	case m.paused:
		return yellow.Render("○"), yellow.Render("paused")
	case m.info.Fallback:
		return yellow.Render("●"), yellow.Render("fallback")
	default:
		return green.Render("●"), green.Render("running")
	}
}

func (m *liveModel) solveLabel() string {
	switch {
	case m.tick == 0:
		return dim.Render("-")
	case m.info.Status == qp.StatusOptimal:
		return green.Render(m.info.Status.String())
	case m.info.Fallback:
		return yellow.Render(m.info.Status.String())
	default:
		return red.Render(m.info.Status.String())
	}
}

func (m *liveModel) view() string {
	var b strings.Builder

	icon, text := m.statusLine()
	b.WriteString(fmt.Sprintf("\n   %s %s  %s\n", icon, cyan.Render("cart with two hinged rods"), text))

	progress := float64(m.tick) / float64(m.cfg.Steps)
	if progress > 1 {
		progress = 1
	}
	barWidth := 36
	filled := int(progress * float64(barWidth))
	bar := cyan.Render(strings.Repeat("━", filled)) + dimmer.Render(strings.Repeat("─", barWidth-filled))
	b.WriteString(fmt.Sprintf("   %s %s\n\n", bar,
		dim.Render(fmt.Sprintf("tick %d/%d  t=%.2fs", m.tick, m.cfg.Steps, m.t))))

	m.scene.Render(m.canvas, m.x, m.u)
	for _, line := range strings.Split(strings.TrimRight(m.canvas.String(), "\n"), "\n") {
		b.WriteString("   " + line + "\n")
	}

	b.WriteString(fmt.Sprintf("\n   %s %s   %s %+8.2f N   %s %d   %s %d\n",
		dim.Render("solve"), m.solveLabel(),
		dim.Render("force"), m.u,
		dim.Render("iters"), m.iterTotal,
		dim.Render("fallbacks"), m.fallbacks))

	b.WriteString(fmt.Sprintf("   %s %3.0f%%   %s %6.2f N   %s %6.2f N\n",
		dim.Render("upright"), 100*m.upright.Value(),
		dim.Render("mean |u|"), m.effort.Value(),
		dim.Render("peak |u|"), m.effort.Peak()))

	b.WriteString(fmt.Sprintf("   %s %s\n", dim.Render("theta1"), sparkline(m.angles, 48)))
	b.WriteString(fmt.Sprintf("   %s %s\n", dim.Render("force "), sparkline(m.forces, 48)))

	if m.err != nil {
		b.WriteString("\n   " + red.Render(m.err.Error()) + "\n")
	}

	b.WriteString("\n" + dim.Render("   space pause   r restart   q back   ctrl+c quit") + "\n")
	return b.String()
}

// sparkline samples values into one row of block characters.
func sparkline(values []float64, width int) string {
	if len(values) == 0 {
		return dimmer.Render(strings.Repeat("─", width))
	}
	chars := []rune("▁▂▃▄▅▆▇█")

	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	rng := hi - lo
	if rng == 0 {
		rng = 1
	}

	step := len(values) / width
	if step < 1 {
		step = 1
	}
	var b strings.Builder
	for i := 0; i < width && i*step < len(values); i++ {
		norm := (values[i*step] - lo) / rng
		idx := int(norm * float64(len(chars)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(chars) {
			idx = len(chars) - 1
		}
		b.WriteRune(chars[idx])
	}
	return b.String()
}
