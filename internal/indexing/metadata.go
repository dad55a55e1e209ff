package indexing

import (
	"github.com/evidex/indexer/internal/evidence"
	"github.com/evidex/indexer/internal/extract"
)

// BuildMetadata describes item for the extraction engine
func BuildMetadata(item *evidence.Item) extract.Metadata {
	md := extract.Metadata{
		ResourceName: item.Name,
		MediaType:    item.MediaType,
	}
	if item.Length != nil {
		md.ContentLength = *item.Length
	}
	if item.TimedOut {
		md.TimedOut = true
	}
	return md
}

// BuildContext assembles the extraction configuration for item.
// alreadyParsed disables embedded extraction, whose subitems were queued
// separately upstream.
func BuildContext(engine extract.Engine, item *evidence.Item, alreadyParsed, ignoreCorruptedCarved bool) *extract.Context {
	return &extract.Context{
		Engine: engine,
		Item: extract.ItemInfo{
			ID:     item.ID,
			Name:   item.Name,
			Path:   item.Path,
			Carved: item.Carved,
		},
		Source:                item,
		IgnoreCorruptedCarved: ignoreCorruptedCarved,
		Embedded:              extract.EmbeddedPolicy{SkipEmbedded: alreadyParsed},
		ArchiveEntryEncoding:  extract.LegacyEntryEncoding,
	}
}
