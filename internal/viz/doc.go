// Package viz renders controlled runs for people watching a terminal or a
// file browser:
//
//   - [Canvas]: Braille-based dot canvas for terminal rendering
//   - [Scene]: cart, hinge chain and force bar drawn onto a canvas
//   - [ChartTrajectory]: stacked asciigraph charts of states and force
//   - [Animator] / [WriteGIF]: paletted GIF animation of a trajectory
//   - [WritePlots]: gonum/plot PNG plots of position, angles and force
//   - [SceneSVG]: single-state SVG snapshot
//
// Everything here consumes plain sim values, so any recorded or freshly
// produced trajectory can be rendered without touching the control stack.
package viz
