package store

import (
	"context"
	"time"

	"github.com/abforge/abforge/internal/dataset"
)

// RunInfo describes one persisted dataset generation.
type RunInfo struct {
	ID        string
	Seed      int64
	Anchor    time.Time
	CreatedAt time.Time
}

// Store defines the persistence operations for generated datasets.
type Store interface {
	// SaveDataset replaces the stored dataset with a new run in a single
	// transaction; nothing persists if any table fails.
	SaveDataset(ctx context.Context, run RunInfo, ds *dataset.Dataset) error

	// LatestRun returns the most recent run, or ErrNoRun.
	LatestRun(ctx context.Context) (RunInfo, error)

	// LoadDataset reads back all five tables of the stored run.
	LoadDataset(ctx context.Context) (*dataset.Dataset, error)

	// Lifecycle
	Close() error
}
