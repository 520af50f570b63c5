package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"dipmpc/internal/sim"
)

// Columns written after the state block: force, status, iterations, fallback.
const controlColumns = 4

func stateHeader(dim int) []string {
	if dim == sim.StateDim {
		return []string{"pos", "theta1", "theta2", "vel", "omega1", "omega2"}
	}
	h := make([]string, dim)
	for i := range h {
		h[i] = fmt.Sprintf("x%d", i)
	}
	return h
}

// WriteCSV writes one row per state. The final state has no control, its
// trailing columns stay empty.
func WriteCSV(w io.Writer, traj *sim.Trajectory) error {
	cw := csv.NewWriter(w)
	if len(traj.States) == 0 {
		cw.Flush()
		return cw.Error()
	}

	dim := len(traj.States[0])
	header := append([]string{"time"}, stateHeader(dim)...)
	header = append(header, "force", "status", "iterations", "fallback")
	if err := cw.Write(header); err != nil {
		return err
	}

	for i, x := range traj.States {
		row := make([]string, 0, len(header))
		t := 0.0
		if i < len(traj.Times) {
			t = traj.Times[i]
		}
		row = append(row, strconv.FormatFloat(t, 'g', -1, 64))
		for _, v := range x {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if i < len(traj.Controls) {
			row = append(row, strconv.FormatFloat(traj.Controls[i], 'g', -1, 64))
			if i < len(traj.Steps) {
				info := traj.Steps[i]
				row = append(row, info.Status.String(),
					strconv.Itoa(info.Iterations), strconv.FormatBool(info.Fallback))
			} else {
				row = append(row, "", "", "")
			}
		} else {
			row = append(row, "", "", "", "")
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportData is the export-json payload: the stored metadata plus the full
// sample arrays.
type ExportData struct {
	Meta     RunMetadata `json:"meta"`
	Times    []float64   `json:"times"`
	States   [][]float64 `json:"states"`
	Controls []float64   `json:"controls"`
	Statuses []string    `json:"statuses,omitempty"`
}

func WriteJSON(w io.Writer, meta RunMetadata, traj *sim.Trajectory) error {
	data := ExportData{
		Meta:     meta,
		Times:    traj.Times,
		States:   make([][]float64, len(traj.States)),
		Controls: append([]float64{}, traj.Controls...),
	}
	for i, x := range traj.States {
		data.States[i] = x
	}
	for _, info := range traj.Steps {
		data.Statuses = append(data.Statuses, info.Status.String())
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
