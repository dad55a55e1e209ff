package tools

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/evidex/indexer/internal/caseindex"
	"github.com/evidex/indexer/internal/indexing"
	"github.com/evidex/indexer/internal/ledger"
)

const (
	// CaseDirEnv names the case directory served by the tools
	CaseDirEnv     = "INDEXER_CASE_DIR"
	defaultCaseDir = "./case"

	defaultTopItems = 10
	maxTopItems     = 100
)

var (
	caseDir string // Case directory holding the index and ledger files
)

// CaseDirFromEnv returns the case directory configured in the environment
func CaseDirFromEnv() string {
	if dir := strings.TrimSpace(os.Getenv(CaseDirEnv)); dir != "" {
		return dir
	}
	return defaultCaseDir
}

// SearchCaseTextInput defines input for search_case_text tool
type SearchCaseTextInput struct {
	Query      string `json:"query" jsonschema:"Full-text query over extracted evidence text and file names"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"Maximum number of results (optional, defaults to 10, max 20)"`
}

// SearchCaseTextOutput defines output for search_case_text tool
type SearchCaseTextOutput struct {
	Results   []caseindex.Hit `json:"results"`
	Query     string          `json:"query"`
	TotalHits int             `json:"total_hits"`
}

// CaseTextStatsInput defines input for case_text_stats tool
type CaseTextStatsInput struct {
	Top int `json:"top,omitempty" jsonschema:"Number of largest items to list (optional, defaults to 10)"`
}

// ItemTextSize is the extracted text size of one item in thousands of characters
type ItemTextSize struct {
	ItemID int `json:"item_id"`
	KChars int `json:"kchars"`
}

// CaseTextStatsOutput defines output for case_text_stats tool
type CaseTextStatsOutput struct {
	CaseDir         string         `json:"case_dir"`
	ItemSlots       int            `json:"item_slots"`
	ItemsWithText   int            `json:"items_with_text"`
	TotalKChars     int64          `json:"total_kchars"`
	Largest         []ItemTextSize `json:"largest"`
	FragmentedItems int            `json:"fragmented_items"`
	IndexedDocs     uint64         `json:"indexed_docs,omitempty"`
}

// ReloadCaseIndexInput defines input for reload_case_index tool
type ReloadCaseIndexInput struct{}

// ReloadCaseIndexOutput defines output for reload_case_index tool
type ReloadCaseIndexOutput struct {
	Docs    uint64 `json:"docs"`
	Message string `json:"message"`
}

// indexHolder manages concurrent access to the case index
type indexHolder struct {
	// current holds the active index pointer (atomic access for lock-free reads)
	current atomic.Pointer[caseindex.Index]

	// reloadMu prevents concurrent reloads
	// NOT used for searches - they are lock-free via atomic pointer
	reloadMu sync.Mutex

	// wg tracks in-flight search operations for graceful cleanup of old indexes
	wg sync.WaitGroup
}

var (
	indexMgr = &indexHolder{}
)

// openCaseIndex opens the case index read-only, refusing while an indexer
// still writes to it
func openCaseIndex() (caseindex.Index, error) {
	if pid, held := caseindex.NewLock(caseDir, nil).HeldBy(); held {
		return nil, fmt.Errorf("case %s is being indexed by process %d, try again when it finishes", caseDir, pid)
	}
	if have := caseindex.ReadSchemaVersion(caseDir); have != 0 && have != indexing.IndexSchemaVersion {
		return nil, fmt.Errorf("case index schema v%d is not supported (want v%d)", have, indexing.IndexSchemaVersion)
	}
	return caseindex.OpenReadOnly(caseDir)
}

// InitializeCaseSearch opens the case index for searching
func InitializeCaseSearch() error {
	startTime := time.Now()
	log.Printf("Opening case index in %s...", caseDir)

	index, err := openCaseIndex()
	if err != nil {
		return err
	}
	indexMgr.current.Store(&index)

	count, err := index.DocCount()
	if err != nil {
		log.Printf("Warning: Could not count case index documents: %v", err)
	}
	log.Printf("✓ Case search initialized (%d docs) in %v", count, time.Since(startTime).Round(time.Millisecond))
	return nil
}

// currentIndex returns the active index, opening it on first use.
// Callers must hold indexMgr.wg.
func currentIndex() (caseindex.Index, error) {
	indexPtr := indexMgr.current.Load()
	if indexPtr == nil {
		log.Printf("Case index not initialized, initializing now...")
		indexMgr.reloadMu.Lock()
		if indexMgr.current.Load() == nil {
			if err := InitializeCaseSearch(); err != nil {
				indexMgr.reloadMu.Unlock()
				return nil, fmt.Errorf("failed to initialize case index: %w", err)
			}
		}
		indexMgr.reloadMu.Unlock()
		indexPtr = indexMgr.current.Load()
		if indexPtr == nil {
			return nil, fmt.Errorf("index still nil after initialization")
		}
	}
	return *indexPtr, nil
}

// SearchCaseText searches the extracted text of the case
func SearchCaseText(ctx context.Context, req *mcp.CallToolRequest, input SearchCaseTextInput) (*mcp.CallToolResult, SearchCaseTextOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchCaseTextOutput{}, fmt.Errorf("query must not be empty")
	}

	// Track in-flight searches for graceful cleanup (MUST be before Load)
	indexMgr.wg.Add(1)
	defer indexMgr.wg.Done()

	index, err := currentIndex()
	if err != nil {
		return nil, SearchCaseTextOutput{}, err
	}

	res, err := caseindex.SearchText(index, input.Query, input.MaxResults)
	if err != nil {
		return nil, SearchCaseTextOutput{}, err
	}

	return nil, SearchCaseTextOutput{
		Results:   res.Hits,
		Query:     input.Query,
		TotalHits: int(res.Total),
	}, nil
}

// CaseTextStats summarizes the persisted text sizes and fragmented items
func CaseTextStats(ctx context.Context, req *mcp.CallToolRequest, input CaseTextStatsInput) (*mcp.CallToolResult, CaseTextStatsOutput, error) {
	persisted, err := ledger.ReadPersisted(caseDir)
	if err != nil {
		return nil, CaseTextStatsOutput{}, fmt.Errorf("failed to read case ledger: %w", err)
	}

	output := summarizeLedger(persisted, input.Top)
	output.CaseDir = caseDir

	if indexPtr := indexMgr.current.Load(); indexPtr != nil {
		index := *indexPtr
		if count, err := index.DocCount(); err == nil {
			output.IndexedDocs = count
		}
	}

	return nil, output, nil
}

func summarizeLedger(p *ledger.Persisted, top int) CaseTextStatsOutput {
	if top <= 0 || top > maxTopItems {
		top = defaultTopItems
	}

	output := CaseTextStatsOutput{
		ItemSlots:       len(p.Sizes),
		FragmentedItems: len(p.Fragmented),
		Largest:         []ItemTextSize{},
	}

	sizes := make([]ItemTextSize, 0, len(p.Sizes))
	for id, k := range p.Sizes {
		if k == 0 {
			continue
		}
		output.ItemsWithText++
		output.TotalKChars += int64(k)
		sizes = append(sizes, ItemTextSize{ItemID: id, KChars: k})
	}

	sort.Slice(sizes, func(i, j int) bool {
		if sizes[i].KChars != sizes[j].KChars {
			return sizes[i].KChars > sizes[j].KChars
		}
		return sizes[i].ItemID < sizes[j].ItemID
	})
	if len(sizes) > top {
		sizes = sizes[:top]
	}
	output.Largest = append(output.Largest, sizes...)

	return output
}

// reloadCaseIndex reopens the index to pick up documents written since it was opened
func reloadCaseIndex() (uint64, error) {
	// Serialize reload operations
	indexMgr.reloadMu.Lock()
	defer indexMgr.reloadMu.Unlock()

	index, err := openCaseIndex()
	if err != nil {
		return 0, err
	}

	// ATOMIC SWAP: Replace the global index pointer
	oldIndexPtr := indexMgr.current.Swap(&index)

	// Graceful cleanup of old index in background
	go func(oldPtr *caseindex.Index) {
		if oldPtr == nil {
			return
		}

		// Wait for all in-flight searches on old index to complete
		indexMgr.wg.Wait()

		old := *oldPtr
		if err := old.Close(); err != nil {
			log.Printf("Warning: Error closing old index: %v", err)
		}
	}(oldIndexPtr)

	count, err := index.DocCount()
	if err != nil {
		log.Printf("Warning: Could not count reloaded index documents: %v", err)
	}
	return count, nil
}

// ReloadCaseIndex reopens the case index after an indexing run
func ReloadCaseIndex(ctx context.Context, req *mcp.CallToolRequest, input ReloadCaseIndexInput) (*mcp.CallToolResult, ReloadCaseIndexOutput, error) {
	count, err := reloadCaseIndex()
	if err != nil {
		return nil, ReloadCaseIndexOutput{}, fmt.Errorf("reload failed: %w", err)
	}
	return nil, ReloadCaseIndexOutput{
		Docs:    count,
		Message: fmt.Sprintf("Case index reloaded, %d documents searchable", count),
	}, nil
}

// RegisterCaseTools registers the case inspection tools for dir
func RegisterCaseTools(server *mcp.Server, dir string) error {
	caseDir = dir

	// Initialize case search synchronously
	if err := InitializeCaseSearch(); err != nil {
		log.Printf("Warning: Case search initialization failed: %v", err)
		log.Printf("Case search will attempt to initialize on first use")
	}

	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "search_case_text",
			Description: "Full-text search over the text extracted from the case evidence. Returns matching items with their fragment number.",
		},
		SearchCaseText,
	)

	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "case_text_stats",
			Description: "Summarize the extracted text sizes and the items whose text was split across several index documents.",
		},
		CaseTextStats,
	)

	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "reload_case_index",
			Description: "Reopen the case index to include documents added by a finished indexing run.",
		},
		ReloadCaseIndex,
	)

	return nil
}

// CloseCaseSearch closes the case index
func CloseCaseSearch() error {
	indexPtr := indexMgr.current.Swap(nil)
	if indexPtr == nil {
		return nil
	}

	log.Printf("Waiting for in-flight searches to complete before closing...")
	indexMgr.wg.Wait()

	index := *indexPtr
	if err := index.Close(); err != nil {
		log.Printf("Error closing case index: %v", err)
		return err
	}
	log.Printf("✓ Case index closed successfully")
	return nil
}
