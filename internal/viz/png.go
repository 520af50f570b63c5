package viz

import (
	"errors"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"dipmpc/internal/sim"
)

var (
	colorBlue  = color.RGBA{R: 40, G: 140, B: 255, A: 255}
	colorRed   = color.RGBA{R: 240, G: 70, B: 70, A: 255}
	colorGreen = color.RGBA{R: 60, G: 180, B: 90, A: 255}
)

func newLine(xs, ys []float64, c color.RGBA) (*plotter.Line, error) {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	pts := make(plotter.XYs, n)
	for i := 0; i < n; i++ {
		pts[i].X = xs[i]
		pts[i].Y = ys[i]
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.LineStyle.Width = vg.Points(1.5)
	line.Color = c
	return line, nil
}

func savePNG(p *plot.Plot, filename string) error {
	return p.Save(8*vg.Inch, 5*vg.Inch, filename)
}

// SaveLinePlot writes a single-series line plot against time.
func SaveLinePlot(filename, title, ylabel string, ts, ys []float64) error {
	if len(ts) == 0 || len(ys) == 0 {
		return errors.New("viz: no plot data")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = ylabel

	line, err := newLine(ts, ys, colorBlue)
	if err != nil {
		return err
	}
	p.Add(line)
	return savePNG(p, filename)
}

// WritePlots renders the standard PNG set for a run into dir: cart
// position, both hinge angles on one plot, and the applied force.
func WritePlots(dir string, traj *sim.Trajectory) error {
	if traj == nil || len(traj.States) == 0 {
		return errors.New("viz: empty trajectory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	if err := SaveLinePlot(filepath.Join(dir, "position.png"),
		"Cart position", "x (m)", traj.Times, StateSeries(traj, 0)); err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = "Hinge angles (0 = upright)"
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "angle (rad)"
	l1, err := newLine(traj.Times, StateSeries(traj, 1), colorRed)
	if err != nil {
		return err
	}
	l2, err := newLine(traj.Times, StateSeries(traj, 2), colorGreen)
	if err != nil {
		return err
	}
	p.Add(l1, l2)
	p.Legend.Add("theta1", l1)
	p.Legend.Add("theta2", l2)
	p.Legend.Top = true
	if err := savePNG(p, filepath.Join(dir, "angles.png")); err != nil {
		return err
	}

	if len(traj.Controls) > 0 {
		if err := SaveLinePlot(filepath.Join(dir, "force.png"),
			"Applied force", "u (N)", traj.Times, traj.Controls); err != nil {
			return err
		}
	}
	return nil
}
