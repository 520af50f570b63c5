package viz

import (
	"errors"
	"image"
	"image/color"
	"image/gif"
	"io"
	"math"

	"dipmpc/internal/sim"
)

// dotPixels is the square pixel block one canvas dot becomes in a frame.
const dotPixels = 4

// Animator renders states through a Scene and accumulates paletted frames
// for an animated GIF.
type Animator struct {
	scene  Scene
	canvas *Canvas
	delay  int // per frame, hundredths of a second
	frames []*image.Paletted
}

func NewAnimator(scene Scene, cols, rows int) *Animator {
	if cols <= 0 {
		cols = 60
	}
	if rows <= 0 {
		rows = 24
	}
	return &Animator{scene: scene, canvas: NewCanvas(cols, rows), delay: 5}
}

// SetDelay sets the per-frame delay in hundredths of a second.
func (a *Animator) SetDelay(cs int) {
	if cs < 2 {
		cs = 2
	}
	a.delay = cs
}

func (a *Animator) Len() int { return len(a.frames) }

// AddFrame renders one state and captures it.
func (a *Animator) AddFrame(x sim.State, u float64) {
	a.scene.Render(a.canvas, x, u)

	w, h := a.canvas.DotWidth(), a.canvas.DotHeight()
	img := image.NewPaletted(image.Rect(0, 0, w*dotPixels, h*dotPixels),
		color.Palette{color.Black, color.White})
	for cy := 0; cy < h; cy++ {
		for cx := 0; cx < w; cx++ {
			if !a.canvas.At(cx, cy) {
				continue
			}
			for py := 0; py < dotPixels; py++ {
				for px := 0; px < dotPixels; px++ {
					img.SetColorIndex(cx*dotPixels+px, cy*dotPixels+py, 1)
				}
			}
		}
	}
	a.frames = append(a.frames, img)
}

// Encode writes every captured frame as a looping GIF.
func (a *Animator) Encode(w io.Writer) error {
	if len(a.frames) == 0 {
		return errors.New("viz: no frames captured")
	}
	anim := gif.GIF{LoopCount: 0}
	for _, frame := range a.frames {
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, a.delay)
	}
	return gif.EncodeAll(w, &anim)
}

// WriteGIF animates a recorded trajectory, keeping every stride-th state.
// The frame delay follows the trajectory's own time base, so the animation
// plays at the speed the run simulated.
func WriteGIF(w io.Writer, scene Scene, traj *sim.Trajectory, stride, cols, rows int) error {
	if traj == nil || len(traj.States) == 0 {
		return errors.New("viz: empty trajectory")
	}
	if stride < 1 {
		stride = 1
	}

	a := NewAnimator(scene, cols, rows)
	if len(traj.Times) > 1 {
		dt := traj.Times[1] - traj.Times[0]
		a.SetDelay(int(math.Round(dt * float64(stride) * 100)))
	}
	for k := 0; k < len(traj.States); k += stride {
		u := 0.0
		if k < len(traj.Controls) {
			u = traj.Controls[k]
		}
		a.AddFrame(traj.States[k], u)
	}
	return a.Encode(w)
}
