// Package ledger keeps the per-item extracted text sizes and the set of items
// whose text was split across several index documents.
//
// The ledger survives interrupted runs: Finish flattens it to a dense array
// indexed by item id, and Init on the next run restores it and moves the id
// allocator past every id already used. A zero entry in the dense array means
// either "no text" or "never recorded"; the two cases are indistinguishable.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/evidex/indexer/internal/persist"
)

const (
	// SizeScale is the divisor applied to character counts before storage
	SizeScale = 1000

	// TextSizesFile holds the dense size array, relative to the output dir
	TextSizesFile = "data/texts.size"

	// SplitIDsFile holds the fragmented id set, relative to the output dir
	SplitIDsFile = "data/splits.ids"
)

// ErrNotInitialized is returned when the ledger is used outside Init/Finish
var ErrNotInitialized = errors.New("ledger not initialized")

// SizeRecord is the scaled extracted text size of one item
type SizeRecord struct {
	ItemID       int
	ScaledLength int
}

// NewSizeRecord scales a character count down to thousands, rounding down.
// Characters are Unicode code points: a rune outside the BMP counts once,
// not as two UTF-16 code units.
func NewSizeRecord(id int, chars int64) SizeRecord {
	return SizeRecord{ItemID: id, ScaledLength: int(chars / SizeScale)}
}

// IDStarter is the part of the id allocator a restored ledger advances
type IDStarter interface {
	SetStart(start int)
}

type state struct {
	sizes      []SizeRecord
	fragmented map[int]bool
}

// Ledger is the run-scoped size and fragmentation store
type Ledger struct {
	outputDir string
	stats     *Stats
	ids       IDStarter
	logger    *slog.Logger

	mu    sync.Mutex
	state *state
}

// New creates a ledger persisting under outputDir. ids may be nil.
func New(outputDir string, stats *Stats, ids IDStarter, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		outputDir: outputDir,
		stats:     stats,
		ids:       ids,
		logger:    logger,
	}
}

// Init prepares the ledger for a run, restoring files left by a previous run.
// Calling it again while initialized is a no-op.
func (l *Ledger) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != nil {
		return nil
	}

	st := &state{fragmented: make(map[int]bool)}

	sizesPath := filepath.Join(l.outputDir, TextSizesFile)
	ok, err := persist.Exists(sizesPath)
	if err != nil {
		return err
	}
	if ok {
		var dense []int
		if err := persist.ReadObject(sizesPath, &dense); err != nil {
			return fmt.Errorf("failed to restore text sizes: %w", err)
		}
		for id, scaled := range dense {
			if scaled != 0 {
				st.sizes = append(st.sizes, SizeRecord{ItemID: id, ScaledLength: scaled})
			}
		}
		l.stats.SetLastID(len(dense) - 1)
		if l.ids != nil {
			l.ids.SetStart(len(dense))
		}
		l.logger.Info("restored text sizes", "items", len(dense), "records", len(st.sizes))
	}

	splitsPath := filepath.Join(l.outputDir, SplitIDsFile)
	ok, err = persist.Exists(splitsPath)
	if err != nil {
		return err
	}
	if ok {
		var ids map[int]bool
		if err := persist.ReadObject(splitsPath, &ids); err != nil {
			return fmt.Errorf("failed to restore fragmented ids: %w", err)
		}
		if ids != nil {
			st.fragmented = ids
		}
		l.logger.Info("restored fragmented ids", "count", len(st.fragmented))
	}

	l.state = st
	return nil
}

// Record appends the size record of one processed item
func (l *Ledger) Record(id int, chars int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == nil {
		return ErrNotInitialized
	}
	l.state.sizes = append(l.state.sizes, NewSizeRecord(id, chars))
	return nil
}

// MarkFragmented adds id to the fragmented set, reporting whether it was new
func (l *Ledger) MarkFragmented(id int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == nil {
		return false, ErrNotInitialized
	}
	if l.state.fragmented[id] {
		return false, nil
	}
	l.state.fragmented[id] = true
	return true, nil
}

// Finish persists the ledger and clears it from the run.
// Calling it when not initialized is a no-op.
func (l *Ledger) Finish() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == nil {
		return nil
	}

	l.logger.Info("saving extracted text sizes...")
	dense := make([]int, l.stats.LastID()+1)
	for _, rec := range l.state.sizes {
		if rec.ItemID < 0 || rec.ItemID >= len(dense) {
			return fmt.Errorf("size record for item %d beyond last id %d", rec.ItemID, l.stats.LastID())
		}
		dense[rec.ItemID] = rec.ScaledLength
	}
	if err := persist.WriteObject(dense, filepath.Join(l.outputDir, TextSizesFile)); err != nil {
		return fmt.Errorf("failed to save text sizes: %w", err)
	}

	l.logger.Info("saving fragmented item ids...")
	if err := persist.WriteObject(l.state.fragmented, filepath.Join(l.outputDir, SplitIDsFile)); err != nil {
		return fmt.Errorf("failed to save fragmented ids: %w", err)
	}

	l.state = nil
	return nil
}

// Initialized reports whether the ledger is between Init and Finish
func (l *Ledger) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state != nil
}

// Sizes returns a copy of the size records in insertion order
func (l *Ledger) Sizes() []SizeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil {
		return nil
	}
	out := make([]SizeRecord, len(l.state.sizes))
	copy(out, l.state.sizes)
	return out
}

// Fragmented returns the fragmented item ids in ascending order
func (l *Ledger) Fragmented() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil {
		return nil
	}
	return sortedIDs(l.state.fragmented)
}

// Persisted is the on-disk form of a finished ledger
type Persisted struct {
	Sizes      []int // scaled size per item id
	Fragmented []int
}

// ReadPersisted loads the files a previous Finish left under outputDir.
// Missing files yield empty fields.
func ReadPersisted(outputDir string) (*Persisted, error) {
	p := &Persisted{}

	sizesPath := filepath.Join(outputDir, TextSizesFile)
	if ok, err := persist.Exists(sizesPath); err != nil {
		return nil, err
	} else if ok {
		if err := persist.ReadObject(sizesPath, &p.Sizes); err != nil {
			return nil, fmt.Errorf("failed to read text sizes: %w", err)
		}
	}

	splitsPath := filepath.Join(outputDir, SplitIDsFile)
	if ok, err := persist.Exists(splitsPath); err != nil {
		return nil, err
	} else if ok {
		var ids map[int]bool
		if err := persist.ReadObject(splitsPath, &ids); err != nil {
			return nil, fmt.Errorf("failed to read fragmented ids: %w", err)
		}
		p.Fragmented = sortedIDs(ids)
	}

	return p, nil
}

func sortedIDs(set map[int]bool) []int {
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
