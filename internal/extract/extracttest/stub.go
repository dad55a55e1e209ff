// Package extracttest provides a scripted extraction engine for tests.
package extracttest

import (
	"io"
	"sync"
	"unicode/utf8"

	"github.com/evidex/indexer/internal/extract"
)

// Engine hands out sessions yielding the fragments returned by Script
type Engine struct {
	// Script returns the fragments for an item; nil yields one empty fragment
	Script func(md extract.Metadata, ec *extract.Context) []string

	// NextErr, when set, is returned by Next after this many fragments
	NextErr      error
	NextErrAfter int

	mu       sync.Mutex
	sessions []*Session
}

// Fixed returns an engine yielding the same fragments for every item
func Fixed(fragments ...string) *Engine {
	return &Engine{Script: func(extract.Metadata, *extract.Context) []string { return fragments }}
}

// OpenSession implements extract.Engine
func (e *Engine) OpenSession(stream io.ReadCloser, md extract.Metadata, ec *extract.Context) extract.Session {
	var frags []string
	if e.Script != nil {
		frags = e.Script(md, ec)
	}
	s := &Session{
		Metadata:     md,
		Context:      ec,
		stream:       stream,
		fragments:    frags,
		nextErr:      e.NextErr,
		nextErrAfter: e.NextErrAfter,
	}
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	return s
}

// Sessions returns every session opened so far
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, len(e.sessions))
	copy(out, e.sessions)
	return out
}

// Session is a scripted extract.Session that records how it was driven
type Session struct {
	Metadata extract.Metadata
	Context  *extract.Context

	stream       io.ReadCloser
	fragments    []string
	nextErr      error
	nextErrAfter int

	mu        sync.Mutex
	pos       int
	delivered int64
	started   bool
	released  int
}

func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	if len(s.fragments) > 0 {
		s.delivered = int64(utf8.RuneCountInString(s.fragments[0]))
	}
}

func (s *Session) Fragment() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.fragments) {
		return "", nil
	}
	return s.fragments[s.pos], nil
}

func (s *Session) Next() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextErr != nil && s.pos+1 >= s.nextErrAfter {
		return false, s.nextErr
	}
	if s.pos+1 >= len(s.fragments) {
		return false, nil
	}
	s.pos++
	s.delivered += int64(utf8.RuneCountInString(s.fragments[s.pos]))
	return true, nil
}

func (s *Session) TotalSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}

// Release closes the owned stream the first time it is called
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released == 0 && s.stream != nil {
		s.stream.Close()
	}
	s.released++
}

// Started reports whether Start was called
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Released returns how many times Release was called
func (s *Session) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// TrackingStream is an io.ReadCloser counting Close calls. Close is
// forwarded to the wrapped reader when it is an io.Closer.
type TrackingStream struct {
	io.Reader
	mu     sync.Mutex
	closed int
}

// NewTrackingStream wraps r
func NewTrackingStream(r io.Reader) *TrackingStream {
	return &TrackingStream{Reader: r}
}

func (t *TrackingStream) Close() error {
	t.mu.Lock()
	t.closed++
	t.mu.Unlock()
	if c, ok := t.Reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Closed returns how many times Close was called
func (t *TrackingStream) Closed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
