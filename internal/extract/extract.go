// Package extract defines the contract between the indexing stage and a text
// extraction engine, and ships a plain-text engine.
//
// A Session streams one item's content through the engine in the background
// and hands the extracted text over fragment by fragment, so the consumer
// never holds more than one fragment of a large document in memory.
package extract

import (
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// LegacyEntryEncoding decodes entry names of old archive formats (IBM code page 850)
var LegacyEntryEncoding encoding.Encoding = charmap.CodePage850

// Metadata describes the content handed to the engine
type Metadata struct {
	ContentLength int64
	ResourceName  string
	MediaType     string
	TimedOut      bool // a previous extraction attempt timed out
}

// ItemInfo is the provenance of the item being extracted
type ItemInfo struct {
	ID     int
	Name   string
	Path   string
	Carved bool
}

// StreamSource reopens the item content, e.g. for embedded sub-content
type StreamSource interface {
	Open() (io.ReadCloser, error)
}

// EmbeddedPolicy decides whether embedded objects are extracted.
// Items whose subitems were already materialized upstream skip them.
type EmbeddedPolicy struct {
	SkipEmbedded bool
}

// ShouldExtractEmbedded reports whether the embedded object described by md
// should be extracted
func (p EmbeddedPolicy) ShouldExtractEmbedded(md Metadata) bool {
	return !p.SkipEmbedded
}

// Context configures a single extraction
type Context struct {
	// Engine handles nested content with the same engine
	Engine Engine

	Item   ItemInfo
	Source StreamSource

	// IgnoreCorruptedCarved ends extraction quietly on read errors of carved items
	IgnoreCorruptedCarved bool

	Embedded EmbeddedPolicy

	ArchiveEntryEncoding encoding.Encoding
}

// DecodeEntryName decodes a raw archive entry name with the configured encoding
func (c *Context) DecodeEntryName(raw []byte) string {
	if c.ArchiveEntryEncoding == nil {
		return string(raw)
	}
	name, err := c.ArchiveEntryEncoding.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(name)
}

// Engine opens extraction sessions. The session takes ownership of stream
// and closes it, including when it is never started.
type Engine interface {
	OpenSession(stream io.ReadCloser, md Metadata, ec *Context) Session
}

// Session is one background extraction producing a finite fragment sequence.
//
// Fragment returns the current fragment, blocking until the engine produced
// it. Next advances to the following fragment and reports false once the
// sequence is exhausted. Release stops background work and frees resources;
// it is safe to call more than once.
type Session interface {
	Start()
	Fragment() (string, error)
	Next() (bool, error)
	TotalSize() int64
	Release()
}
