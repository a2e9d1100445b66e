package app

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"perp_go/internal/infra"
	"perp_go/internal/storage"
)

// Bootstrap performs the startup sequence: config, logger, workspace
// directories, the single-instance lock and the store. Everything the
// entrypoints need before a run can tick.
type Bootstrap struct {
	Config      *infra.Config
	Store       *storage.Store
	Checkpoints *storage.CheckpointManager

	unlock func()
}

// NewBootstrap creates an empty bootstrap.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the config and brings up storage. On success the
// default slog logger is configured and the workspace is locked against
// a second process opening the same database.
func (b *Bootstrap) Initialize() error {
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return err
	}
	b.Config = cfg

	slog.SetDefault(infra.NewLogger(cfg))

	// Data is isolated per trading mode so a paper experiment can never
	// touch a live ledger.
	mode := strings.ToLower(cfg.Trading.Mode)
	workDir := infra.GetWorkspaceDir()
	dataDir := filepath.Join(workDir, "data", mode)
	logDir := filepath.Join(workDir, "logs", mode)

	if err := infra.EnsureDir(dataDir); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	if err := infra.EnsureDir(logDir); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}

	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return err
	}
	b.unlock = unlock

	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "perp.db")
	}
	store, err := storage.NewStore(dbPath)
	if err != nil {
		return err
	}
	b.Store = store

	checkpointDir := filepath.Join(dataDir, "checkpoints")
	if err := infra.EnsureDir(checkpointDir); err != nil {
		return fmt.Errorf("creating checkpoint dir: %w", err)
	}
	b.Checkpoints = storage.NewCheckpointManager(checkpointDir)

	slog.Info("store initialized",
		slog.String("path", dbPath),
		slog.String("mode", mode))
	return nil
}

// Close releases the store and the instance lock.
func (b *Bootstrap) Close() {
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			slog.Warn("closing store", slog.Any("err", err))
		}
	}
	if b.unlock != nil {
		b.unlock()
	}
}
