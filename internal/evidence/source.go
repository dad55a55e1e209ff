package evidence

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gabriel-vasile/mimetype"
)

// unallocatedPrefix is the file name prefix acquisition tools use for
// unallocated space dumps
const unallocatedPrefix = "$Unalloc"

// Source walks an evidence directory and turns every regular file into an Item
type Source struct {
	Root         string
	TextCacheDir string // optional, holds <relpath>.txt from a previous extraction
	IDs          *IDAllocator
	Logger       *slog.Logger

	// Catalog, when set, keeps ids stable across runs and skips paths a
	// previous run finished
	Catalog *Catalog

	skipped atomic.Int64
}

// Skipped returns how many files the catalog marked as already indexed
func (s *Source) Skipped() int64 {
	return s.skipped.Load()
}

// Walk sends one item per file on the returned channel, followed by the
// queue-end sentinel. The channel is closed when the walk ends; a walk
// error is delivered on errc.
func (s *Source) Walk(ctx context.Context) (<-chan *Item, <-chan error) {
	items := make(chan *Item)
	errc := make(chan error, 1)

	go func() {
		defer close(items)
		defer close(errc)

		err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			key, err := filepath.Rel(s.Root, path)
			if err != nil {
				return err
			}
			key = filepath.ToSlash(key)

			var id int
			if s.Catalog != nil {
				var done bool
				id, done = s.Catalog.Assign(key, s.IDs)
				if done {
					s.skipped.Add(1)
					if s.Logger != nil {
						s.Logger.Debug("already indexed", "item", id, "path", path)
					}
					return nil
				}
			} else {
				id = s.IDs.Next()
			}

			item, err := s.newItem(id, key, path, d)
			if err != nil {
				return err
			}
			select {
			case items <- item:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errc <- fmt.Errorf("failed to walk evidence %s: %w", s.Root, err)
			return
		}

		select {
		case items <- QueueEndItem():
		case <-ctx.Done():
			errc <- ctx.Err()
		}
	}()

	return items, errc
}

func (s *Source) newItem(id int, key, path string, d fs.DirEntry) (*Item, error) {
	info, err := d.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	size := info.Size()

	item := &Item{
		ID:            id,
		Name:          d.Name(),
		Path:          path,
		Key:           key,
		Length:        &size,
		Modified:      info.ModTime(),
		IncludeInCase: true,
	}

	if strings.HasPrefix(d.Name(), unallocatedPrefix) {
		item.MediaType = UnallocatedMediaType
	} else {
		item.MediaType = detectMediaType(path)
	}

	if s.TextCacheDir != "" {
		if text, ok := s.cachedText(key); ok {
			item.TextCache = &text
		}
	}

	return item, nil
}

func (s *Source) cachedText(key string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(s.TextCacheDir, filepath.FromSlash(key)+".txt"))
	if err != nil {
		if !os.IsNotExist(err) && s.Logger != nil {
			s.Logger.Warn("text cache unreadable", "path", key, "error", err)
		}
		return "", false
	}
	return string(data), true
}

// detectMediaType sniffs the file header, dropping any parameters
func detectMediaType(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	mt := mtype.String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}
