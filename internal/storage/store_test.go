package storage

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dipmpc/internal/config"
	"dipmpc/internal/qp"
	"dipmpc/internal/sim"
)

func sampleTrajectory() *sim.Trajectory {
	return &sim.Trajectory{
		Times: []float64{0, 0.05, 0.1},
		States: []sim.State{
			{0, 0.15, -0.15, 0, 0, 0},
			{0.001, 0.1, -0.1, 0.05, -0.9, 0.9},
			{0.003, 0.04, -0.04, 0.08, -0.5, 0.5},
		},
		Controls: []float64{49.9999, 17.728},
		Steps: []sim.StepInfo{
			{Status: qp.StatusOptimal, Iterations: 350},
			{Status: qp.StatusOptimal, Iterations: 150},
		},
		Reason: sim.StopCompleted,
	}
}

func TestStoreSaveLoad(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	cfg := config.DefaultConfig()
	traj := sampleTrajectory()

	runID, err := st.Save("default", cfg, traj)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if !strings.HasPrefix(runID, "default_") {
		t.Errorf("expected label prefix in run id, got %q", runID)
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.Label != "default" {
		t.Errorf("expected label default, got %q", meta.Label)
	}
	if meta.Dt != 0.05 || meta.Horizon != 20 {
		t.Errorf("expected dt 0.05 horizon 20, got %g, %d", meta.Dt, meta.Horizon)
	}
	if meta.Summary.Ticks != 2 {
		t.Errorf("expected 2 ticks in summary, got %d", meta.Summary.Ticks)
	}
	if meta.Summary.StatusCounts["optimal"] != 2 {
		t.Errorf("expected 2 optimal ticks, got %v", meta.Summary.StatusCounts)
	}
	if meta.Summary.Iterations.Max != 350 {
		t.Errorf("expected max 350 iterations, got %d", meta.Summary.Iterations.Max)
	}
}

func TestLoadTrajectoryRoundTrip(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatal(err)
	}

	traj := sampleTrajectory()
	runID, err := st.Save("default", config.DefaultConfig(), traj)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := st.LoadTrajectory(runID)
	if err != nil {
		t.Fatalf("load trajectory failed: %v", err)
	}
	if len(got.States) != 3 || len(got.Times) != 3 {
		t.Fatalf("expected 3 samples, got %d states %d times", len(got.States), len(got.Times))
	}
	if len(got.Controls) != 2 {
		t.Fatalf("expected 2 controls, got %d", len(got.Controls))
	}
	for i := range traj.States {
		for j := range traj.States[i] {
			if got.States[i][j] != traj.States[i][j] {
				t.Errorf("state[%d][%d]: expected %v, got %v",
					i, j, traj.States[i][j], got.States[i][j])
			}
		}
	}
	if got.Controls[0] != 49.9999 {
		t.Errorf("expected exact control round trip, got %v", got.Controls[0])
	}
}

func TestLoadConfigRoundTrip(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatal(err)
	}

	cfg := config.GetPreset("gentle")
	runID, err := st.Save("gentle", cfg, sampleTrajectory())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := st.LoadConfig(runID)
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}
	if got.InitState.Theta1 != 0.10 {
		t.Errorf("expected stored preset tilt 0.10, got %g", got.InitState.Theta1)
	}
}

func TestStoreFileStructure(t *testing.T) {
	dir := t.TempDir()
	st := New(dir)
	if err := st.Init(); err != nil {
		t.Fatal(err)
	}

	runID, err := st.Save("default", config.DefaultConfig(), sampleTrajectory())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	for _, name := range []string{"metadata.json", "trajectory.csv", "config.yaml"} {
		if _, err := os.Stat(filepath.Join(dir, runID, name)); err != nil {
			t.Errorf("expected %s in run dir: %v", name, err)
		}
	}
}

func TestStoreList(t *testing.T) {
	dir := t.TempDir()
	st := New(dir)
	if err := st.Init(); err != nil {
		t.Fatal(err)
	}

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}

	if _, err := st.Save("default", config.DefaultConfig(), sampleTrajectory()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// Stray files and junk directories are skipped, not errors.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "empty"), 0755); err != nil {
		t.Fatal(err)
	}

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}
}

func TestWriteCSVShape(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleTrajectory()); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	r := csv.NewReader(&buf)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(records))
	}
	if records[0][1] != "pos" || records[0][7] != "force" || records[0][10] != "fallback" {
		t.Errorf("unexpected header %v", records[0])
	}
	if records[1][8] != "optimal" || records[1][9] != "350" {
		t.Errorf("expected solver columns on first row, got %v", records[1])
	}
	// Final state row carries no control.
	last := records[3]
	if last[7] != "" || last[8] != "" {
		t.Errorf("expected empty control columns on final row, got %v", last)
	}
}

func TestWriteJSON(t *testing.T) {
	meta := RunMetadata{ID: "default_1", Label: "default"}
	var buf bytes.Buffer
	if err := WriteJSON(&buf, meta, sampleTrajectory()); err != nil {
		t.Fatalf("write json: %v", err)
	}

	var data ExportData
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.Meta.ID != "default_1" {
		t.Errorf("expected run id in payload, got %q", data.Meta.ID)
	}
	if len(data.States) != 3 || len(data.Controls) != 2 {
		t.Errorf("expected 3 states and 2 controls, got %d, %d",
			len(data.States), len(data.Controls))
	}
	if math.Abs(data.States[1][1]-0.1) > 1e-12 {
		t.Errorf("expected theta1 0.1 on second sample, got %g", data.States[1][1])
	}
	if len(data.Statuses) != 2 || data.Statuses[0] != "optimal" {
		t.Errorf("unexpected statuses %v", data.Statuses)
	}
}
