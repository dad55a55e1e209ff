// Package caseindex stores indexed evidence text in a bleve full-text index
// inside the case directory and guards it against concurrent writers.
package caseindex

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/evidex/indexer/internal/indexing"
)

const (
	// IndexDir is the bleve index location, relative to the case dir
	IndexDir = "index"

	// DefaultBatchSize is how many documents are buffered before a flush
	DefaultBatchSize = 100
)

// ErrSchemaVersion is returned when the case index was built with another document layout
var ErrSchemaVersion = errors.New("index schema version mismatch")

// BleveWriter batches documents into the case index.
// Submit is safe for concurrent use.
type BleveWriter struct {
	index     bleve.Index
	path      string
	batchSize int
	logger    *slog.Logger

	mu        sync.Mutex
	batch     *bleve.Batch
	submitted int
	closed    bool
}

// Open opens the case index under caseDir, creating it on first use.
// An existing index built with another schema version is refused.
func Open(caseDir string, batchSize int, logger *slog.Logger) (*BleveWriter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	indexPath := filepath.Join(caseDir, IndexDir)

	var index bleve.Index
	if _, err := os.Stat(indexPath); err == nil {
		if have := ReadSchemaVersion(caseDir); have != indexing.IndexSchemaVersion {
			return nil, fmt.Errorf("%w: have v%d, want v%d", ErrSchemaVersion, have, indexing.IndexSchemaVersion)
		}
		index, err = bleve.Open(indexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open index: %w", err)
		}
		count, err := index.DocCount()
		if err != nil {
			logger.Warn("could not count index documents", "path", indexPath, "error", err)
		}
		logger.Info("opened case index", "path", indexPath, "docs", count)
	} else {
		if err := os.MkdirAll(caseDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create case directory: %w", err)
		}
		index, err = bleve.New(indexPath, bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
		if err := WriteSchemaVersion(caseDir); err != nil {
			index.Close()
			return nil, err
		}
		logger.Info("created case index", "path", indexPath)
	}

	return &BleveWriter{
		index:     index,
		path:      indexPath,
		batchSize: batchSize,
		logger:    logger,
		batch:     index.NewBatch(),
	}, nil
}

// Submit adds doc to the current batch, flushing it when full
func (w *BleveWriter) Submit(doc indexing.Document) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("index writer closed")
	}
	if err := w.batch.Index(doc.ID, doc); err != nil {
		return fmt.Errorf("failed to add document %s to batch: %w", doc.ID, err)
	}
	w.submitted++
	if w.batch.Size() >= w.batchSize {
		return w.flushLocked()
	}
	return nil
}

// Flush writes any buffered documents to the index
func (w *BleveWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.flushLocked()
}

func (w *BleveWriter) flushLocked() error {
	if w.batch.Size() == 0 {
		return nil
	}
	if err := w.index.Batch(w.batch); err != nil {
		return fmt.Errorf("failed to index batch: %w", err)
	}
	w.batch.Reset()
	w.logger.Debug("flushed batch", "submitted", w.submitted)
	return nil
}

// Submitted returns how many documents were accepted since Open
func (w *BleveWriter) Submitted() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.submitted
}

// DocCount returns the number of documents already written to the index
func (w *BleveWriter) DocCount() (uint64, error) {
	return w.index.DocCount()
}

// Searcher exposes the index for queries; closing it is the writer's job
func (w *BleveWriter) Searcher() Index {
	return borrowReader(w.index, w.path)
}

// Close flushes pending documents and closes the index
func (w *BleveWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	flushErr := w.flushLocked()
	w.closed = true
	if err := w.index.Close(); err != nil {
		return fmt.Errorf("failed to close index: %w", err)
	}
	return flushErr
}
