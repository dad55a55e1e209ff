package evidence

import (
	"fmt"
	"sync"

	"github.com/evidex/indexer/internal/persist"
)

// CatalogFile holds the path to id catalog, relative to the case dir
const CatalogFile = "data/items.catalog"

// CatalogEntry is the id handed to one evidence path and whether its
// indexing completed
type CatalogEntry struct {
	ID   int
	Done bool
}

// Catalog remembers the id of every evidence path across runs, so a resumed
// run skips finished items and reuses the ids of unfinished ones
type Catalog struct {
	mu      sync.Mutex
	entries map[string]CatalogEntry
}

// NewCatalog returns an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]CatalogEntry)}
}

// LoadCatalog reads the catalog stored at path; a missing file yields an
// empty catalog
func LoadCatalog(path string) (*Catalog, error) {
	c := NewCatalog()
	ok, err := persist.Exists(path)
	if err != nil || !ok {
		return c, err
	}
	if err := persist.ReadObject(path, &c.entries); err != nil {
		return nil, fmt.Errorf("failed to restore item catalog: %w", err)
	}
	if c.entries == nil {
		c.entries = make(map[string]CatalogEntry)
	}
	return c, nil
}

// Save stores the catalog at path
func (c *Catalog) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := persist.WriteObject(c.entries, path); err != nil {
		return fmt.Errorf("failed to save item catalog: %w", err)
	}
	return nil
}

// Assign returns the id of key, taking a new one from ids for an unknown key.
// done reports whether key was already indexed completely.
func (c *Catalog) Assign(key string, ids *IDAllocator) (id int, done bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.ID, e.Done
	}
	e := CatalogEntry{ID: ids.Next()}
	c.entries[key] = e
	return e.ID, false
}

// MarkDone records that key was indexed completely
func (c *Catalog) MarkDone(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.Done = true
		c.entries[key] = e
	}
}

// Lookup returns the entry of key
func (c *Catalog) Lookup(key string) (CatalogEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// NextID is one past the highest id in the catalog, 0 when empty
func (c *Catalog) NextID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := 0
	for _, e := range c.entries {
		if e.ID >= next {
			next = e.ID + 1
		}
	}
	return next
}

// Len returns the number of known paths
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
