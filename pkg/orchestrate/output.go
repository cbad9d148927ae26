package orchestrate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/settle-crawler/pkg/models"
)

// PageWriter streams visited pages to a JSONL file, one PageVisit per line
type PageWriter struct {
	path  string
	log   *logrus.Entry
	mu    sync.Mutex
	file  *os.File
	count int
}

// NewPageWriter creates (truncating) the JSONL file at path, creating parent directories as needed
func NewPageWriter(path string, log *logrus.Entry) (*PageWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("cannot create output directory for %s: %w", path, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("cannot open page output file %s: %w", path, err)
	}
	log.Infof("Writing visited pages to JSONL file: %s", path)
	return &PageWriter{path: path, log: log, file: file}, nil
}

// Path returns the output file location
func (w *PageWriter) Path() string {
	return w.path
}

// Write appends one page. Failures are logged; the crawl is never interrupted by output errors.
func (w *PageWriter) Write(visit models.PageVisit) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return
	}

	jsonBytes, err := json.Marshal(visit)
	if err != nil {
		w.log.WithField("url", visit.URL).Errorf("Failed to marshal page to JSON: %v", err)
		return
	}
	if _, err := w.file.Write(append(jsonBytes, '\n')); err != nil {
		w.log.WithFields(logrus.Fields{
			"url":        visit.URL,
			"jsonl_file": w.path,
		}).Errorf("Failed to write to JSONL file: %v", err)
		return
	}
	w.count++
}

// Count returns the number of pages written so far
func (w *PageWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close syncs and closes the file. Further writes are ignored.
func (w *PageWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	w.log.Debugf("Syncing and closing JSONL output file: %s", w.path)
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.file = nil
	if syncErr != nil {
		return fmt.Errorf("error syncing JSONL file '%s': %w", w.path, syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("error closing JSONL file '%s': %w", w.path, closeErr)
	}
	return nil
}
