// Package caseindextest provides an in-memory case index for tests.
package caseindextest

import (
	"errors"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// ErrClosed is returned by every call on a closed Index
var ErrClosed = errors.New("index closed")

// Index answers searches with a canned result and records the last request
type Index struct {
	Docs      uint64
	SearchErr error
	Result    *bleve.SearchResult

	mu      sync.Mutex
	lastReq *bleve.SearchRequest
	closed  bool
}

// New returns an index reporting docs documents
func New(docs uint64) *Index {
	return &Index{Docs: docs}
}

func (m *Index) Search(req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.lastReq = req
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if m.Result != nil {
		return m.Result, nil
	}
	return &bleve.SearchResult{Request: req, Total: m.Docs}, nil
}

func (m *Index) DocCount() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	return m.Docs, nil
}

func (m *Index) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("already closed")
	}
	m.closed = true
	return nil
}

// IsClosed reports whether Close was called
func (m *Index) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// LastRequest returns the most recent search request, nil before any search
func (m *Index) LastRequest() *bleve.SearchRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReq
}
