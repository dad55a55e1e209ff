package indexing

import (
	"fmt"
	"strconv"
	"time"

	"github.com/evidex/indexer/internal/evidence"
)

// Document is one entry of the text index. Items whose text is split produce
// several documents sharing ItemID, numbered by Fragment.
type Document struct {
	ID        string    `json:"id"`
	ItemID    int       `json:"item_id"`
	Fragment  int       `json:"fragment"`
	Name      string    `json:"name"`
	Path      string    `json:"path,omitempty"`
	MediaType string    `json:"media_type,omitempty"`
	Length    int64     `json:"length"`
	Content   string    `json:"content"`
	TimedOut  bool      `json:"timed_out,omitempty"`
	Modified  time.Time `json:"modified,omitempty"`
}

// Writer accepts documents for the text index
type Writer interface {
	Submit(doc Document) error
}

// NewDocument builds the document for one fragment of item
func NewDocument(item *evidence.Item, fragment int, content string) Document {
	id := strconv.Itoa(item.ID)
	if fragment > 0 {
		id = fmt.Sprintf(fragmentIDFormat, item.ID, fragment)
	}
	var length int64
	if item.Length != nil {
		length = *item.Length
	}
	return Document{
		ID:        id,
		ItemID:    item.ID,
		Fragment:  fragment,
		Name:      item.Name,
		Path:      item.Path,
		MediaType: item.MediaType,
		Length:    length,
		Content:   content,
		TimedOut:  item.TimedOut,
		Modified:  item.Modified,
	}
}
