package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/settle-crawler/pkg/log"
	"github.com/Sriram-PR/settle-crawler/pkg/models"
	"github.com/Sriram-PR/settle-crawler/pkg/utils"
)

const (
	runKeyPrefix = "run:"    // Prefix for run record keys in DB
	runsDBDir    = "runs_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements RunStore using BadgerDB
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerStore opens (or creates) the run archive under stateDir
func NewBadgerStore(stateDir string, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, runsDBDir)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrDatabase, dbPath, err)
	}
	logger.Debugf("Opening run archive at: %s", dbPath)

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogger(logger)).
		WithNumVersionsToKeep(1)
	return openStore(opts, logger)
}

// NewInMemoryStore opens a run archive that lives only as long as the process
func NewInMemoryStore(logger *logrus.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(log.NewBadgerLogger(logger))
	return openStore(opts, logger)
}

func openStore(opts badger.Options, logger *logrus.Entry) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database: %w", utils.ErrDatabase, err)
	}
	return &BadgerStore{db: db, log: logger}, nil
}

func runKey(id string) []byte {
	return []byte(runKeyPrefix + id)
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent crawls may finish at the same moment; conflicts resolve in microseconds.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// SaveRun implements RunWriter
func (s *BadgerStore) SaveRun(rec *models.RunRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: run record has no ID", utils.ErrDatabase)
	}
	if !rec.Status.IsValid() {
		return fmt.Errorf("%w: run %s has invalid status %q", utils.ErrDatabase, rec.ID, rec.Status)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal run %s: %w", utils.ErrParsing, rec.ID, err)
	}

	err = s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(runKey(rec.ID), data))
	})
	if err != nil {
		s.log.WithField("run_id", rec.ID).Errorf("DB Update error in SaveRun: %v", err)
		return fmt.Errorf("%w: saving run %s: %w", utils.ErrDatabase, rec.ID, err)
	}
	s.log.WithField("run_id", rec.ID).Debugf("Saved run (status %s)", rec.Status)
	return nil
}

// GetRun implements RunReader
func (s *BadgerStore) GetRun(id string) (*models.RunRecord, error) {
	var rec models.RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrRunNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: failed getting run %s: %w", utils.ErrDatabase, id, err)
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("%w: decoding run %s: %w", utils.ErrParsing, id, err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteRun implements RunWriter
func (s *BadgerStore) DeleteRun(id string) error {
	return s.dbUpdate(func(txn *badger.Txn) error {
		if _, err := txn.Get(runKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrRunNotFound
			}
			return fmt.Errorf("%w: %w", utils.ErrDatabase, err)
		}
		return txn.Delete(runKey(id))
	})
}

// ListRuns implements RunReader. Records that fail to decode are skipped with a warning.
func (s *BadgerStore) ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	var summaries []models.RunSummary

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var rec models.RunRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					s.log.Warnf("Skipping undecodable run record '%s': %v", string(item.Key()), err)
					return nil
				}
				summaries = append(summaries, rec.Summary())
				return nil
			})
			if err != nil {
				return fmt.Errorf("%w: reading run record: %w", utils.ErrDatabase, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// WriteVisitedLog implements RunReader
func (s *BadgerStore) WriteVisitedLog(id, filePath string) error {
	rec, err := s.GetRun(id)
	if err != nil {
		return err
	}
	if rec.Result == nil {
		return fmt.Errorf("run %s has no result", id)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("create visited log '%s': %w", filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, u := range rec.Result.VisitedURLs {
		if _, err := writer.WriteString(u + "\n"); err != nil {
			return fmt.Errorf("write visited log '%s': %w", filePath, err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush visited log '%s': %w", filePath, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync visited log '%s': %w", filePath, err)
	}
	s.log.Infof("Wrote %d visited URLs of run %s to %s", len(rec.Result.VisitedURLs), id, filePath)
	return nil
}

// RunGC runs BadgerDB's value log garbage collection periodically until ctx is done
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db.IsClosed() {
				return
			}
			var err error
			for err == nil {
				// Rewrite while at least half of a value log file is reclaimable
				err = s.db.RunValueLogGC(0.5)
			}
			if errors.Is(err, badger.ErrGCInMemoryMode) {
				return
			}
			if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// Close implements StoreAdmin
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing run archive: %v", err)
		return fmt.Errorf("%w: %w", utils.ErrDatabase, err)
	}
	return nil
}
