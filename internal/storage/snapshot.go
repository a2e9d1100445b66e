package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"perp_go/internal/domain"
)

// Checkpoint is a point-in-time capture of a run's state, written as a
// plain JSON file. The SQLite store stays authoritative; checkpoints
// exist for quick inspection and for exporting a run without the DB.
type Checkpoint struct {
	RunID     string            `json:"run_id"`
	TsUnix    int64             `json:"ts"`
	Run       *domain.Run       `json:"run"`
	Positions []domain.Position `json:"positions"` // open positions at checkpoint time
}

// CheckpointManager handles saving and loading checkpoints.
type CheckpointManager struct {
	dir string
}

// NewCheckpointManager creates a checkpoint manager writing into dir.
func NewCheckpointManager(dir string) *CheckpointManager {
	return &CheckpointManager{dir: dir}
}

// Save writes a checkpoint to disk.
func (cm *CheckpointManager) Save(cp *Checkpoint) error {
	if err := os.MkdirAll(cm.dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	filename := fmt.Sprintf("checkpoint_%s_%d.json", cp.RunID, cp.TsUnix)
	path := filepath.Join(cm.dir, filename)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved",
		slog.String("run", cp.RunID),
		slog.String("path", path))

	return nil
}

// LoadLatest loads the most recent checkpoint for a run.
// Returns nil if none exists.
func (cm *CheckpointManager) LoadLatest(runID string) (*Checkpoint, error) {
	entries, err := os.ReadDir(cm.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint dir: %w", err)
	}

	var latestPath string
	var latestTs int64

	for _, entry := range entries {
		if entry.IsDir() || !matchesRun(entry.Name(), runID) {
			continue
		}

		ts := tsFromName(entry.Name())
		if ts > latestTs {
			latestTs = ts
			latestPath = filepath.Join(cm.dir, entry.Name())
		}
	}

	if latestPath == "" {
		return nil, nil
	}

	data, err := os.ReadFile(latestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}

	slog.Info("Checkpoint loaded",
		slog.String("run", cp.RunID),
		slog.String("path", latestPath))

	return &cp, nil
}

// NewCheckpoint captures current run state. Positions are copied so the
// caller can keep mutating its own slices.
func NewCheckpoint(r *domain.Run, open []domain.Position) *Checkpoint {
	runCopy := *r
	positions := make([]domain.Position, len(open))
	copy(positions, open)

	return &Checkpoint{
		RunID:     r.ID,
		TsUnix:    time.Now().Unix(),
		Run:       &runCopy,
		Positions: positions,
	}
}

// Cleanup removes old checkpoints of a run, keeping only the latest N.
func (cm *CheckpointManager) Cleanup(runID string, keepCount int) error {
	entries, err := os.ReadDir(cm.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	type cpFile struct {
		path string
		ts   int64
	}
	var files []cpFile

	for _, entry := range entries {
		if entry.IsDir() || !matchesRun(entry.Name(), runID) {
			continue
		}
		files = append(files, cpFile{
			path: filepath.Join(cm.dir, entry.Name()),
			ts:   tsFromName(entry.Name()),
		})
	}

	if len(files) <= keepCount {
		return nil
	}

	// Newest first.
	for i := 0; i < len(files); i++ {
		for j := i + 1; j < len(files); j++ {
			if files[j].ts > files[i].ts {
				files[i], files[j] = files[j], files[i]
			}
		}
	}

	for i := keepCount; i < len(files); i++ {
		if err := os.Remove(files[i].path); err != nil {
			slog.Warn("Failed to remove old checkpoint", slog.String("path", files[i].path))
		}
	}

	return nil
}

func matchesRun(name, runID string) bool {
	prefix := "checkpoint_" + runID + "_"
	return len(name) > len(prefix)+len(".json") && name[:len(prefix)] == prefix
}

// tsFromName extracts the unix timestamp from checkpoint_<run>_<ts>.json.
func tsFromName(name string) int64 {
	base := name[:len(name)-len(".json")]
	i := len(base) - 1
	for i >= 0 && base[i] >= '0' && base[i] <= '9' {
		i--
	}
	var ts int64
	fmt.Sscanf(base[i+1:], "%d", &ts)
	return ts
}
