// Package tui is the interactive terminal front end: pick a preset, nudge
// the numbers, watch the controller fight for the upright equilibrium.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"dipmpc/internal/config"
)

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
)

var presetInfo = map[string]string{
	"default":       "largest recoverable tilt",
	"gentle":        "small tilt, quick recovery",
	"overtilt":      "beyond recovery, fails fast",
	"weak-actuator": "force limit too low to act",
}

type screen int

const (
	screenMenu screen = iota
	screenEdit
	screenRun
)

// field is one editable number on the tuning screen.
type field struct {
	name string
	step float64
	get  func(*config.Config) float64
	set  func(*config.Config, float64)
}

func configFields() []field {
	return []field{
		{"theta1", 0.05,
			func(c *config.Config) float64 { return c.InitState.Theta1 },
			func(c *config.Config, v float64) { c.InitState.Theta1 = v }},
		{"theta2", 0.05,
			func(c *config.Config) float64 { return c.InitState.Theta2 },
			func(c *config.Config, v float64) { c.InitState.Theta2 = v }},
		{"pos", 0.1,
			func(c *config.Config) float64 { return c.InitState.Pos },
			func(c *config.Config, v float64) { c.InitState.Pos = v }},
		{"dt", 0.005,
			func(c *config.Config) float64 { return c.Dt },
			func(c *config.Config, v float64) { c.Dt = v }},
		{"steps", 50,
			func(c *config.Config) float64 { return float64(c.Steps) },
			func(c *config.Config, v float64) { c.Steps = int(v) }},
		{"horizon", 1,
			func(c *config.Config) float64 { return float64(c.Horizon) },
			func(c *config.Config, v float64) { c.Horizon = int(v) }},
		{"r weight", 0.05,
			func(c *config.Config) float64 { return c.Weights.R },
			func(c *config.Config, v float64) { c.Weights.R = v }},
		{"force limit", 5,
			func(c *config.Config) float64 { return c.Bounds.UMax },
			func(c *config.Config, v float64) { c.Bounds.UMax = v; c.Bounds.UMin = -v }},
	}
}

// App is the three-screen state machine: preset menu, tuning screen, live
// run.
type App struct {
	screen  screen
	cursor  int
	presets []string

	cfg      *config.Config
	fields   []field
	fieldCur int
	editing  bool
	editBuf  string
	cfgErr   error

	live *liveModel

	width  int
	height int
}

func NewApp() *App {
	return &App{
		presets: config.ListPresets(),
		cfg:     config.DefaultConfig(),
		fields:  configFields(),
		width:   80,
		height:  24,
	}
}

// Run opens the app at the preset menu, seeded with cfg when non-nil.
func Run(cfg *config.Config) error {
	app := NewApp()
	if cfg != nil {
		app.cfg = cfg.Clone()
	}
	_, err := tea.NewProgram(app, tea.WithAltScreen()).Run()
	return err
}

// RunLive skips the menus and runs cfg immediately.
func RunLive(cfg *config.Config) error {
	app := NewApp()
	app.cfg = cfg.Clone()
	live, err := newLiveModel(app.cfg)
	if err != nil {
		return err
	}
	app.live = live
	app.screen = screenRun
	_, err = tea.NewProgram(app, tea.WithAltScreen()).Run()
	return err
}

func (a *App) Init() tea.Cmd {
	if a.screen == screenRun && a.live != nil {
		return tickEvery(a.cfg.Dt)
	}
	return nil
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil
	case tickMsg:
		if a.screen != screenRun || a.live == nil {
			return a, nil
		}
		if !a.live.paused {
			a.live.step()
		}
		if a.live.done {
			return a, nil
		}
		return a, tickEvery(a.cfg.Dt)
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return a, tea.Quit
	}
	switch a.screen {
	case screenMenu:
		return a.menuKey(msg)
	case screenEdit:
		return a.editKey(msg)
	case screenRun:
		return a.runKey(msg)
	}
	return a, nil
}

func (a *App) menuKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return a, tea.Quit
	case "up", "k":
		if a.cursor > 0 {
			a.cursor--
		}
	case "down", "j":
		if a.cursor < len(a.presets)-1 {
			a.cursor++
		}
	case "enter", " ":
		if preset := config.GetPreset(a.presets[a.cursor]); preset != nil {
			a.cfg = preset
		}
		a.screen = screenEdit
		a.fieldCur = 0
		a.cfgErr = nil
	}
	return a, nil
}

func (a *App) editKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.editing {
		switch msg.String() {
		case "enter":
			var v float64
			if _, err := fmt.Sscanf(a.editBuf, "%f", &v); err == nil {
				a.fields[a.fieldCur].set(a.cfg, v)
			}
			a.editing = false
			a.editBuf = ""
		case "esc":
			a.editing = false
			a.editBuf = ""
		case "backspace":
			if len(a.editBuf) > 0 {
				a.editBuf = a.editBuf[:len(a.editBuf)-1]
			}
		default:
			if s := msg.String(); len(s) == 1 {
				if c := s[0]; (c >= '0' && c <= '9') || c == '.' || c == '-' {
					a.editBuf += s
				}
			}
		}
		return a, nil
	}

	switch msg.String() {
	case "q", "esc":
		a.screen = screenMenu
	case "up", "k":
		if a.fieldCur > 0 {
			a.fieldCur--
		}
	case "down", "j":
		if a.fieldCur < len(a.fields)-1 {
			a.fieldCur++
		}
	case "left", "h":
		f := a.fields[a.fieldCur]
		f.set(a.cfg, f.get(a.cfg)-f.step)
	case "right", "l":
		f := a.fields[a.fieldCur]
		f.set(a.cfg, f.get(a.cfg)+f.step)
	case "enter":
		a.editing = true
		a.editBuf = strings.TrimSpace(fmt.Sprintf("%g", a.fields[a.fieldCur].get(a.cfg)))
	case "s":
		live, err := newLiveModel(a.cfg.Clone())
		if err != nil {
			a.cfgErr = err
			return a, nil
		}
		a.cfgErr = nil
		a.live = live
		a.screen = screenRun
		return a, tea.Batch(tea.ClearScreen, tickEvery(a.cfg.Dt))
	}
	return a, nil
}

func (a *App) runKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.screen = screenEdit
		a.live = nil
		return a, tea.ClearScreen
	case " ", "p":
		if a.live != nil && !a.live.done {
			a.live.paused = !a.live.paused
		}
	case "r":
		if a.live != nil {
			a.live.restart()
			return a, tickEvery(a.cfg.Dt)
		}
	}
	return a, nil
}

func (a *App) View() string {
	switch a.screen {
	case screenMenu:
		return a.viewMenu()
	case screenEdit:
		return a.viewEdit()
	case screenRun:
		if a.live != nil {
			return a.live.view()
		}
	}
	return ""
}

func (a *App) viewMenu() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(dimmer.Render("    ╺━━━━━━━━━━━━━━━━━━━━━━━━╸") + "\n")
	b.WriteString("           " + cyan.Render("d i p m p c") + "\n")
	b.WriteString(dimmer.Render("    ╺━━━━━━━━━━━━━━━━━━━━━━━━╸") + "\n")
	b.WriteString("\n")

	for i, name := range a.presets {
		desc := presetInfo[name]
		if i == a.cursor {
			b.WriteString("      " + cyan.Render("▸ ") + white.Render(fmt.Sprintf("%-16s", name)) + dim.Render(desc) + "\n")
		} else {
			b.WriteString("        " + dim.Render(fmt.Sprintf("%-16s", name)) + dimmer.Render(desc) + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(dim.Render("      ↑↓ select   enter tune   q quit") + "\n")
	return b.String()
}

func (a *App) viewEdit() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString("      " + cyan.Render(a.presets[a.cursor]) + "  " + dim.Render(presetInfo[a.presets[a.cursor]]) + "\n")
	b.WriteString(dimmer.Render("      "+strings.Repeat("─", 34)) + "\n\n")

	for i, f := range a.fields {
		val := fmt.Sprintf("%10.3f", f.get(a.cfg))
		if a.editing && i == a.fieldCur {
			val = fmt.Sprintf("%10s", a.editBuf+"▋")
		}
		if i == a.fieldCur {
			b.WriteString("      " + cyan.Render("▸ ") + white.Render(fmt.Sprintf("%-12s", f.name)) + magenta.Render(val) + "\n")
		} else {
			b.WriteString("        " + dim.Render(fmt.Sprintf("%-12s", f.name)) + dim.Render(val) + "\n")
		}
	}

	if a.cfgErr != nil {
		b.WriteString("\n      " + red.Render(a.cfgErr.Error()) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(dim.Render("      ↑↓ select  ←→ adjust  enter edit  s run  esc back") + "\n")
	return b.String()
}
