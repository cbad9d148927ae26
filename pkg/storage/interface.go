package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Sriram-PR/settle-crawler/pkg/models"
)

// ErrRunNotFound is returned when no run has the requested ID
var ErrRunNotFound = errors.New("run not found")

// RunWriter persists crawl runs
type RunWriter interface {
	// SaveRun inserts or replaces the record keyed by rec.ID
	SaveRun(rec *models.RunRecord) error
	// DeleteRun removes a run; deleting a missing run returns ErrRunNotFound
	DeleteRun(id string) error
}

// RunReader reads archived crawl runs
type RunReader interface {
	// GetRun returns the full record, or ErrRunNotFound
	GetRun(id string) (*models.RunRecord, error)
	// ListRuns returns run summaries, newest first, at most limit when limit > 0
	ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error)
	// WriteVisitedLog writes the visited URLs of a run to filePath, one per line
	WriteVisitedLog(id, filePath string) error
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)
	// Close cleanly closes the database connection
	Close() error
}

// RunStore combines all store interfaces for components that need full access
type RunStore interface {
	RunWriter
	RunReader
	StoreAdmin
}
