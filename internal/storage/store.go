// Package storage persists finished runs as directories holding
// metadata.json, trajectory.csv and the exact config.yaml that produced
// them, and reads them back for listing, plotting and export.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dipmpc/internal/config"
	"dipmpc/internal/metrics"
	"dipmpc/internal/sim"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// RunMetadata is the metadata.json payload of one stored run.
type RunMetadata struct {
	ID        string          `json:"id"`
	Label     string          `json:"label"`
	Timestamp time.Time       `json:"timestamp"`
	Dt        float64         `json:"dt"`
	Steps     int             `json:"steps"`
	Horizon   int             `json:"horizon"`
	Method    string          `json:"method"`
	Fallback  string          `json:"fallback"`
	Summary   metrics.Summary `json:"summary"`
}

// Save writes one run directory and returns its id. The label becomes the
// id prefix; the summary is recomputed from the trajectory so metadata can
// never disagree with the stored samples.
func (s *Store) Save(label string, cfg *config.Config, traj *sim.Trajectory) (string, error) {
	runID := fmt.Sprintf("%s_%d", label, time.Now().UnixNano())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:        runID,
		Label:     label,
		Timestamp: time.Now(),
		Dt:        cfg.Dt,
		Steps:     cfg.Steps,
		Horizon:   cfg.Horizon,
		Method:    cfg.Method,
		Fallback:  cfg.Controller.Fallback,
		Summary:   metrics.Summarize(traj),
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, "trajectory.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()
	if err := WriteCSV(csvFile, traj); err != nil {
		return "", err
	}

	if err := config.Save(filepath.Join(runDir, "config.yaml"), cfg); err != nil {
		return "", err
	}
	return runID, nil
}

// List returns metadata for every readable run directory, in directory
// order. Unreadable entries are skipped.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadConfig reads back the configuration a run was produced with.
func (s *Store) LoadConfig(runID string) (*config.Config, error) {
	return config.Load(filepath.Join(s.baseDir, runID, "config.yaml"))
}

// LoadTrajectory reads back times, states and controls. Solver columns are
// not round-tripped; Steps stays empty and Reason is whatever metadata
// says, so callers needing those should go through Load.
func (s *Store) LoadTrajectory(runID string) (*sim.Trajectory, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, "trajectory.csv"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	traj := &sim.Trajectory{}
	if len(records) < 2 {
		return traj, nil
	}

	dim := len(records[0]) - controlColumns - 1
	if dim < 1 {
		return nil, fmt.Errorf("storage: malformed header in run %s", runID)
	}

	for _, rec := range records[1:] {
		if len(rec) < 1+dim {
			continue
		}
		t, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			continue
		}
		x := make(sim.State, dim)
		ok := true
		for i := 0; i < dim; i++ {
			v, err := strconv.ParseFloat(rec[1+i], 64)
			if err != nil {
				ok = false
				break
			}
			x[i] = v
		}
		if !ok {
			continue
		}
		traj.Times = append(traj.Times, t)
		traj.States = append(traj.States, x)

		if len(rec) > 1+dim && rec[1+dim] != "" {
			u, err := strconv.ParseFloat(rec[1+dim], 64)
			if err == nil {
				traj.Controls = append(traj.Controls, u)
			}
		}
	}
	return traj, nil
}
