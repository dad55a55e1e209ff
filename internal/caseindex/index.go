package caseindex

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// Index is the search side of a case index
type Index interface {
	Search(req *bleve.SearchRequest) (*bleve.SearchResult, error)
	DocCount() (uint64, error)
	Close() error
}

// caseReader serves queries against the index of one case.
// A borrowed reader shares the writer's index and never closes it.
type caseReader struct {
	index    bleve.Index
	path     string
	borrowed bool

	closeOnce sync.Once
	closeErr  error
}

// OpenReadOnly opens the case index for searching. It fails when the case
// has no index yet.
func OpenReadOnly(caseDir string) (Index, error) {
	indexPath := filepath.Join(caseDir, IndexDir)
	if _, err := os.Stat(indexPath); err != nil {
		return nil, fmt.Errorf("no case index at %s: %w", indexPath, err)
	}
	index, err := bleve.OpenUsing(indexPath, map[string]interface{}{"read_only": true})
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	return &caseReader{index: index, path: indexPath}, nil
}

func borrowReader(index bleve.Index, path string) Index {
	return &caseReader{index: index, path: path, borrowed: true}
}

func (r *caseReader) Search(req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	res, err := r.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", r.path, err)
	}
	return res, nil
}

func (r *caseReader) DocCount() (uint64, error) {
	n, err := r.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("count documents in %s: %w", r.path, err)
	}
	return n, nil
}

// Close releases the index once; later calls return the first result
func (r *caseReader) Close() error {
	if r.borrowed {
		return nil
	}
	r.closeOnce.Do(func() {
		r.closeErr = r.index.Close()
	})
	return r.closeErr
}
