// Package indexing feeds evidence items into the text index.
//
// Items that carry text from an earlier stage are indexed as a single
// document. Everything else is streamed through an extraction session and
// indexed fragment by fragment, so peak memory stays bounded by the fragment
// size no matter how large the document is.
package indexing

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/evidex/indexer/internal/evidence"
	"github.com/evidex/indexer/internal/extract"
	"github.com/evidex/indexer/internal/ledger"
)

// Settings controls what the indexing task extracts
type Settings struct {
	// IndexFileContents disables all content extraction when false;
	// only metadata documents are produced
	IndexFileContents bool

	// IndexUnallocated extracts the unallocated space pseudo-item too
	IndexUnallocated bool

	IgnoreCorruptedCarved bool

	// Verbose logs every split document
	Verbose bool
}

// DefaultSettings returns content indexing on, unallocated space off
func DefaultSettings() Settings {
	return Settings{IndexFileContents: true}
}

// Task indexes one item at a time; it is safe for concurrent use by
// several workers as long as each item is processed once
type Task struct {
	settings Settings
	engine   extract.Engine
	writer   Writer
	ledger   *ledger.Ledger
	stats    *ledger.Stats
	logger   *slog.Logger
}

// NewTask wires the indexing task to its collaborators
func NewTask(settings Settings, engine extract.Engine, writer Writer, l *ledger.Ledger, stats *ledger.Stats, logger *slog.Logger) *Task {
	if logger == nil {
		logger = slog.Default()
	}
	return &Task{
		settings: settings,
		engine:   engine,
		writer:   writer,
		ledger:   l,
		stats:    stats,
		logger:   logger,
	}
}

// Process indexes item. ctx is polled between fragments only: fragments
// already submitted stay in the index when it is cancelled.
func (t *Task) Process(ctx context.Context, item *evidence.Item) error {
	if !item.IncludeInCase || item.QueueEnd {
		return nil
	}

	t.stats.UpdateLastID(item.ID)

	if item.TextCache != nil {
		return t.processCached(item)
	}
	return t.processFresh(ctx, item)
}

func (t *Task) processCached(item *evidence.Item) error {
	content := ""
	if t.settings.IndexFileContents {
		content = *item.TextCache
	}
	if err := t.writer.Submit(NewDocument(item, 0, content)); err != nil {
		return fmt.Errorf("failed to index item %d: %w", item.ID, err)
	}
	return t.ledger.Record(item.ID, int64(utf8.RuneCountInString(*item.TextCache)))
}

func (t *Task) processFresh(ctx context.Context, item *evidence.Item) error {
	md := BuildMetadata(item)
	ec := BuildContext(t.engine, item, item.Parsed, t.settings.IgnoreCorruptedCarved)

	stream, err := item.Open()
	if err != nil {
		t.logger.Warn("failed to open item", "item", item.ID, "path", item.Path, "error", err)
		stream = nil
	}

	var session extract.Session
	if t.shouldExtract(item) && stream != nil {
		session = t.engine.OpenSession(stream, md, ec)
		session.Start()
	} else if stream != nil {
		// no session takes ownership
		stream.Close()
	}

	if err := t.indexFragments(ctx, item, session); err != nil {
		return err
	}

	var chars int64
	if session != nil {
		chars = session.TotalSize()
	}
	return t.ledger.Record(item.ID, chars)
}

func (t *Task) shouldExtract(item *evidence.Item) bool {
	if !t.settings.IndexFileContents {
		return false
	}
	return t.settings.IndexUnallocated || item.MediaType != evidence.UnallocatedMediaType
}

// indexFragments submits one document per fragment. The session closes the
// item stream itself; here it is only released.
func (t *Task) indexFragments(ctx context.Context, item *evidence.Item, session extract.Session) error {
	if session != nil {
		defer session.Release()
	}

	for fragment := 0; ; fragment++ {
		if fragment > 0 {
			t.stats.IncSplits()
			if fragment == 1 {
				if _, err := t.ledger.MarkFragmented(item.ID); err != nil {
					return err
				}
			}
			if t.settings.Verbose {
				t.logger.Info("splitting text", "item", item.ID, "path", item.Path, "fragment", fragment)
			}
		}

		content := ""
		if session != nil {
			text, err := session.Fragment()
			if err != nil {
				return fmt.Errorf("failed to extract item %d: %w", item.ID, err)
			}
			content = text
		}

		if err := t.writer.Submit(NewDocument(item, fragment, content)); err != nil {
			return fmt.Errorf("failed to index item %d fragment %d: %w", item.ID, fragment, err)
		}

		if session == nil || ctx.Err() != nil {
			return nil
		}
		more, err := session.Next()
		if err != nil {
			return fmt.Errorf("failed to extract item %d: %w", item.ID, err)
		}
		if !more {
			return nil
		}
	}
}
