package caseindex

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
)

const (
	defaultMaxResults = 10
	maxMaxResults     = 20
)

// Hit is one matching document of a case text search
type Hit struct {
	DocID     string  `json:"doc_id"`
	ItemID    int     `json:"item_id"`
	Fragment  int     `json:"fragment"`
	Name      string  `json:"name"`
	Path      string  `json:"path,omitempty"`
	MediaType string  `json:"media_type,omitempty"`
	Score     float64 `json:"score"`
}

// SearchResults is a page of hits plus the total match count
type SearchResults struct {
	Hits  []Hit  `json:"hits"`
	Total uint64 `json:"total"`
}

// ClampMaxResults applies the default and upper bound to a requested page size
func ClampMaxResults(n int) int {
	if n <= 0 || n > maxMaxResults {
		return defaultMaxResults
	}
	return n
}

// SearchText runs a match query over document content and names
func SearchText(index Index, query string, maxResults int) (*SearchResults, error) {
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = ClampMaxResults(maxResults)
	req.Fields = []string{"item_id", "fragment", "name", "path", "media_type"}

	res, err := index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{DocID: h.ID, Score: h.Score}
		if v, ok := h.Fields["item_id"].(float64); ok {
			hit.ItemID = int(v)
		}
		if v, ok := h.Fields["fragment"].(float64); ok {
			hit.Fragment = int(v)
		}
		if v, ok := h.Fields["name"].(string); ok {
			hit.Name = v
		}
		if v, ok := h.Fields["path"].(string); ok {
			hit.Path = v
		}
		if v, ok := h.Fields["media_type"].(string); ok {
			hit.MediaType = v
		}
		hits = append(hits, hit)
	}

	return &SearchResults{Hits: hits, Total: res.Total}, nil
}
