package evidence

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// UnallocatedMediaType marks the pseudo-item holding unallocated disk space
const UnallocatedMediaType = "application/x-unallocated"

// ErrNoSource is returned by Open when the item has neither an opener nor a path
var ErrNoSource = errors.New("item has no content source")

// Item is a single evidence item as delivered by the upstream scheduler
type Item struct {
	ID        int
	Name      string
	Path      string
	Key       string // path below the evidence root, set by Source
	MediaType string
	Length    *int64 // nil when the declared length is unknown
	Modified  time.Time

	IncludeInCase bool
	QueueEnd      bool // queue sentinel, never indexed
	Parsed        bool // embedded subitems were already extracted upstream
	TimedOut      bool
	Carved        bool

	// TextCache holds text extracted by an earlier stage, nil when absent
	TextCache *string

	// Opener overrides how the byte stream is opened
	Opener func() (io.ReadCloser, error)
}

// Open opens a fresh byte stream over the item content.
// Callers own the returned stream.
func (it *Item) Open() (io.ReadCloser, error) {
	if it.Opener != nil {
		return it.Opener()
	}
	if it.Path == "" {
		return nil, fmt.Errorf("item %d: %w", it.ID, ErrNoSource)
	}
	f, err := os.Open(it.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open item %d: %w", it.ID, err)
	}
	return f, nil
}

// QueueEndItem returns the sentinel that closes an item queue
func QueueEndItem() *Item {
	return &Item{ID: -1, QueueEnd: true}
}

// IDAllocator hands out monotonically increasing item ids
type IDAllocator struct {
	mu   sync.Mutex
	next int
}

// NewIDAllocator creates an allocator whose first id is start
func NewIDAllocator(start int) *IDAllocator {
	return &IDAllocator{next: start}
}

// Next returns the next unused id
func (a *IDAllocator) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.next
	a.next++
	return id
}

// SetStart makes sure no id below start is handed out again.
// It never moves the allocator backwards.
func (a *IDAllocator) SetStart(start int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if start > a.next {
		a.next = start
	}
}

// Peek returns the id Next would hand out
func (a *IDAllocator) Peek() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}
