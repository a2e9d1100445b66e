package storage

import (
	"testing"

	"perp_go/internal/domain"
)

func TestCheckpoint_SaveAndLoadLatest(t *testing.T) {
	dir := t.TempDir()
	cm := NewCheckpointManager(dir)

	run := &domain.Run{ID: "run-1", Status: domain.RunActive, Capital: d("9000")}
	open := []domain.Position{{ID: "p1", RunID: "run-1", Symbol: "BTCUSDT", Status: domain.PositionStatusOpen}}

	cp := NewCheckpoint(run, open)
	if err := cm.Save(cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	later := NewCheckpoint(run, nil)
	later.TsUnix = cp.TsUnix + 10
	if err := cm.Save(later); err != nil {
		t.Fatalf("Save later: %v", err)
	}

	loaded, err := cm.LoadLatest("run-1")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if loaded == nil || loaded.TsUnix != later.TsUnix {
		t.Errorf("loaded = %+v, want the later checkpoint", loaded)
	}

	// Unknown run has no checkpoints.
	none, err := cm.LoadLatest("ghost")
	if err != nil || none != nil {
		t.Errorf("ghost = %+v, %v", none, err)
	}
}

func TestCheckpoint_Cleanup(t *testing.T) {
	dir := t.TempDir()
	cm := NewCheckpointManager(dir)
	run := &domain.Run{ID: "run-1", Status: domain.RunActive}

	for i := int64(0); i < 5; i++ {
		cp := NewCheckpoint(run, nil)
		cp.TsUnix = 1000 + i
		if err := cm.Save(cp); err != nil {
			t.Fatal(err)
		}
	}
	if err := cm.Cleanup("run-1", 2); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	loaded, err := cm.LoadLatest("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil || loaded.TsUnix != 1004 {
		t.Errorf("latest after cleanup = %+v, want ts 1004", loaded)
	}
}
