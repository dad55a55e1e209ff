package tools

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidex/indexer/internal/caseindex"
	"github.com/evidex/indexer/internal/caseindex/caseindextest"
	"github.com/evidex/indexer/internal/indexing"
	"github.com/evidex/indexer/internal/ledger"
)

// useCase points the tools at dir and restores the previous state afterwards
func useCase(t *testing.T, dir string) {
	t.Helper()
	oldDir := caseDir
	oldPtr := indexMgr.current.Swap(nil)
	caseDir = dir
	t.Cleanup(func() {
		if ptr := indexMgr.current.Swap(oldPtr); ptr != nil {
			(*ptr).Close()
		}
		caseDir = oldDir
	})
}

func storeIndex(idx caseindex.Index) {
	indexMgr.current.Store(&idx)
}

// buildCase indexes a few documents and persists a ledger in a fresh case dir
func buildCase(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	w, err := caseindex.Open(dir, 10, nil)
	require.NoError(t, err)
	require.NoError(t, w.Submit(indexing.Document{ID: "0", ItemID: 0, Name: "ledger.xlsx", Content: "wire transfer to offshore account"}))
	require.NoError(t, w.Submit(indexing.Document{ID: "1", ItemID: 1, Name: "mail.eml", Content: "lunch on friday"}))
	require.NoError(t, w.Submit(indexing.Document{ID: "1_frag1", ItemID: 1, Fragment: 1, Name: "mail.eml", Content: "confirm the transfer"}))
	require.NoError(t, w.Close())

	stats := ledger.NewStats()
	l := ledger.New(dir, stats, nil, nil)
	require.NoError(t, l.Init())
	stats.UpdateLastID(2)
	require.NoError(t, l.Record(0, 4200))
	require.NoError(t, l.Record(1, 12000))
	_, err = l.MarkFragmented(1)
	require.NoError(t, err)
	require.NoError(t, l.Finish())

	return dir
}

func TestCaseDirFromEnv(t *testing.T) {
	t.Setenv(CaseDirEnv, "  /evidence/case-17 ")
	assert.Equal(t, "/evidence/case-17", CaseDirFromEnv())

	t.Setenv(CaseDirEnv, "")
	assert.Equal(t, defaultCaseDir, CaseDirFromEnv())
}

func TestSearchCaseText(t *testing.T) {
	useCase(t, buildCase(t))

	_, out, err := SearchCaseText(context.Background(), nil, SearchCaseTextInput{Query: "transfer"})
	require.NoError(t, err)

	assert.Equal(t, "transfer", out.Query)
	assert.Equal(t, 2, out.TotalHits)
	ids := []string{}
	for _, h := range out.Results {
		ids = append(ids, h.DocID)
	}
	assert.ElementsMatch(t, []string{"0", "1_frag1"}, ids)
}

func TestSearchCaseTextEmptyQuery(t *testing.T) {
	useCase(t, t.TempDir())
	_, _, err := SearchCaseText(context.Background(), nil, SearchCaseTextInput{Query: "  "})
	assert.Error(t, err)
}

func TestSearchCaseTextMock(t *testing.T) {
	useCase(t, t.TempDir())

	t.Run("hits", func(t *testing.T) {
		m := caseindextest.New(1)
		m.Result = &bleve.SearchResult{
			Total: 1,
			Hits: search.DocumentMatchCollection{
				{ID: "9", Score: 1.5, Fields: map[string]interface{}{"item_id": float64(9), "name": "a.txt"}},
			},
		}
		storeIndex(m)

		_, out, err := SearchCaseText(context.Background(), nil, SearchCaseTextInput{Query: "x", MaxResults: 3})
		require.NoError(t, err)
		require.Len(t, out.Results, 1)
		assert.Equal(t, 9, out.Results[0].ItemID)
		assert.Equal(t, "a.txt", out.Results[0].Name)
	})

	t.Run("search error", func(t *testing.T) {
		m := caseindextest.New(0)
		m.SearchErr = errors.New("segment missing")
		storeIndex(m)

		_, _, err := SearchCaseText(context.Background(), nil, SearchCaseTextInput{Query: "x"})
		assert.ErrorIs(t, err, m.SearchErr)
	})
}

func TestSearchCaseTextWhileIndexing(t *testing.T) {
	dir := buildCase(t)
	useCase(t, dir)

	// the parent process (go test) stands in for a running indexer
	lock := caseindex.NewLock(dir, nil)
	require.NoError(t, os.WriteFile(lock.Path(), []byte(strconv.Itoa(os.Getppid())), 0644))

	_, _, err := SearchCaseText(context.Background(), nil, SearchCaseTextInput{Query: "transfer"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "being indexed")
}

func TestCaseTextStats(t *testing.T) {
	dir := buildCase(t)
	useCase(t, dir)
	storeIndex(caseindextest.New(3))

	_, out, err := CaseTextStats(context.Background(), nil, CaseTextStatsInput{})
	require.NoError(t, err)

	assert.Equal(t, dir, out.CaseDir)
	assert.Equal(t, 3, out.ItemSlots)
	assert.Equal(t, 2, out.ItemsWithText)
	assert.Equal(t, int64(16), out.TotalKChars)
	assert.Equal(t, []ItemTextSize{{ItemID: 1, KChars: 12}, {ItemID: 0, KChars: 4}}, out.Largest)
	assert.Equal(t, 1, out.FragmentedItems)
	assert.Equal(t, uint64(3), out.IndexedDocs)
}

func TestCaseTextStatsEmptyCase(t *testing.T) {
	useCase(t, t.TempDir())

	_, out, err := CaseTextStats(context.Background(), nil, CaseTextStatsInput{})
	require.NoError(t, err)
	assert.Zero(t, out.ItemSlots)
	assert.Empty(t, out.Largest)
}

func TestSummarizeLedgerTop(t *testing.T) {
	p := &ledger.Persisted{Sizes: []int{5, 0, 7, 7, 1}, Fragmented: []int{2}}

	out := summarizeLedger(p, 2)
	assert.Equal(t, []ItemTextSize{{ItemID: 2, KChars: 7}, {ItemID: 3, KChars: 7}}, out.Largest)
	assert.Equal(t, 4, out.ItemsWithText)
	assert.Equal(t, int64(20), out.TotalKChars)

	all := summarizeLedger(p, 0)
	assert.Len(t, all.Largest, 4)
}

func TestReloadCaseIndex(t *testing.T) {
	dir := buildCase(t)
	useCase(t, dir)

	old := caseindextest.New(1)
	storeIndex(old)

	_, out, err := ReloadCaseIndex(context.Background(), nil, ReloadCaseIndexInput{})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), out.Docs)

	// the old index is closed in the background once searches drain
	assert.Eventually(t, old.IsClosed, time.Second, 10*time.Millisecond)
}

func TestReloadCaseIndexMissing(t *testing.T) {
	useCase(t, t.TempDir())
	_, _, err := ReloadCaseIndex(context.Background(), nil, ReloadCaseIndexInput{})
	assert.Error(t, err)
}

func TestCloseCaseSearch(t *testing.T) {
	useCase(t, t.TempDir())

	m := caseindextest.New(0)
	storeIndex(m)
	require.NoError(t, CloseCaseSearch())
	assert.True(t, m.IsClosed())

	require.NoError(t, CloseCaseSearch(), "closing twice is a no-op")
}
