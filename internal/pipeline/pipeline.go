// Package pipeline drives an indexing run over a case directory.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/evidex/indexer/internal/evidence"
	"github.com/evidex/indexer/internal/ledger"
)

// CaseData is the state shared by every worker of a run
type CaseData struct {
	Dir    string
	Ledger *ledger.Ledger
	Stats  *ledger.Stats
	IDs    *evidence.IDAllocator

	// Catalog maps evidence paths to ids; items are marked done once
	// processed without cancellation
	Catalog *evidence.Catalog
}

// Open prepares the run state of caseDir, restoring the ledger and item
// catalog of a previous run and moving the id allocator past the ids they used
func Open(caseDir string, logger *slog.Logger) (*CaseData, error) {
	catalog, err := evidence.LoadCatalog(filepath.Join(caseDir, evidence.CatalogFile))
	if err != nil {
		return nil, err
	}

	stats := ledger.NewStats()
	ids := evidence.NewIDAllocator(catalog.NextID())
	l := ledger.New(caseDir, stats, ids, logger)
	if err := l.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}
	return &CaseData{Dir: caseDir, Ledger: l, Stats: stats, IDs: ids, Catalog: catalog}, nil
}

// Close persists the ledger and the item catalog
func (d *CaseData) Close() error {
	if err := d.Ledger.Finish(); err != nil {
		return err
	}
	if d.Catalog == nil {
		return nil
	}
	return d.Catalog.Save(filepath.Join(d.Dir, evidence.CatalogFile))
}

// Processor indexes a single item
type Processor interface {
	Process(ctx context.Context, item *evidence.Item) error
}

// Summary reports the outcome of a run
type Summary struct {
	RunID     string
	Processed int64
	Failed    int64
	Splits    int64
	Elapsed   time.Duration
}

// Run feeds items to proc on up to workers goroutines until items is
// closed or ctx is cancelled. A failed item is logged and counted; it does
// not stop the run.
func Run(ctx context.Context, data *CaseData, proc Processor, items <-chan *evidence.Item, workers int, logger *slog.Logger) (Summary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}

	runID := uuid.NewString()
	logger = logger.With("run", runID)
	start := time.Now()
	logger.Info("indexing started", "workers", workers)

	var processed, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(workers)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case item, ok := <-items:
			if !ok {
				break loop
			}
			if item.QueueEnd {
				logger.Debug("end of item queue")
				continue
			}
			g.Go(func() error {
				if err := proc.Process(ctx, item); err != nil {
					failed.Add(1)
					logger.Error("item failed", "item", item.ID, "path", item.Path, "error", err)
					return nil
				}
				processed.Add(1)
				// a cancelled item may be incomplete; the next run redoes it
				// under the same id
				if data.Catalog != nil && item.Key != "" && ctx.Err() == nil {
					data.Catalog.MarkDone(item.Key)
				}
				return nil
			})
		}
	}
	g.Wait()

	summary := Summary{
		RunID:     runID,
		Processed: processed.Load(),
		Failed:    failed.Load(),
		Splits:    data.Stats.Splits(),
		Elapsed:   time.Since(start),
	}
	logger.Info("indexing finished",
		"processed", summary.Processed,
		"failed", summary.Failed,
		"splits", summary.Splits,
		"elapsed", summary.Elapsed.Round(time.Millisecond))

	return summary, ctx.Err()
}
