package indexing_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidex/indexer/internal/evidence"
	"github.com/evidex/indexer/internal/extract"
	"github.com/evidex/indexer/internal/extract/extracttest"
	"github.com/evidex/indexer/internal/indexing"
	"github.com/evidex/indexer/internal/ledger"
)

type recordingWriter struct {
	mu   sync.Mutex
	docs []indexing.Document
	err  error

	// onSubmit runs after a document is recorded
	onSubmit func(doc indexing.Document)
}

func (w *recordingWriter) Submit(doc indexing.Document) error {
	w.mu.Lock()
	if w.err != nil {
		w.mu.Unlock()
		return w.err
	}
	w.docs = append(w.docs, doc)
	hook := w.onSubmit
	w.mu.Unlock()
	if hook != nil {
		hook(doc)
	}
	return nil
}

func (w *recordingWriter) IDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, len(w.docs))
	for i, d := range w.docs {
		ids[i] = d.ID
	}
	return ids
}

type fixture struct {
	writer *recordingWriter
	ledger *ledger.Ledger
	stats  *ledger.Stats
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stats := ledger.NewStats()
	l := ledger.New(t.TempDir(), stats, nil, nil)
	require.NoError(t, l.Init())
	return &fixture{writer: &recordingWriter{}, ledger: l, stats: stats}
}

func (f *fixture) task(settings indexing.Settings, engine extract.Engine) *indexing.Task {
	return indexing.NewTask(settings, engine, f.writer, f.ledger, f.stats, nil)
}

func streamItem(id int, stream io.ReadCloser) *evidence.Item {
	return &evidence.Item{
		ID:            id,
		Name:          "report.txt",
		Path:          "case/report.txt",
		MediaType:     "text/plain",
		IncludeInCase: true,
		Opener:        func() (io.ReadCloser, error) { return stream, nil },
	}
}

func TestNewDocument(t *testing.T) {
	length := int64(42)
	item := &evidence.Item{ID: 7, Name: "a.txt", Path: "x/a.txt", MediaType: "text/plain", Length: &length}

	first := indexing.NewDocument(item, 0, "body")
	assert.Equal(t, "7", first.ID)
	assert.Equal(t, 7, first.ItemID)
	assert.Equal(t, int64(42), first.Length)
	assert.Equal(t, "body", first.Content)

	third := indexing.NewDocument(item, 2, "")
	assert.Equal(t, "7_frag2", third.ID)
	assert.Equal(t, 2, third.Fragment)
}

func TestBuildMetadata(t *testing.T) {
	length := int64(1024)
	item := &evidence.Item{ID: 1, Name: "mail.eml", MediaType: "message/rfc822", Length: &length, TimedOut: true}

	md := indexing.BuildMetadata(item)
	assert.Equal(t, int64(1024), md.ContentLength)
	assert.Equal(t, "mail.eml", md.ResourceName)
	assert.Equal(t, "message/rfc822", md.MediaType)
	assert.True(t, md.TimedOut)

	unknown := indexing.BuildMetadata(&evidence.Item{Name: "x"})
	assert.Zero(t, unknown.ContentLength)
	assert.False(t, unknown.TimedOut)
}

func TestBuildContext(t *testing.T) {
	engine := extracttest.Fixed()
	item := &evidence.Item{ID: 9, Name: "disk.zip", Path: "carved/disk.zip", Carved: true}

	ec := indexing.BuildContext(engine, item, true, true)
	assert.Same(t, engine, ec.Engine)
	assert.Equal(t, extract.ItemInfo{ID: 9, Name: "disk.zip", Path: "carved/disk.zip", Carved: true}, ec.Item)
	assert.Same(t, item, ec.Source)
	assert.True(t, ec.IgnoreCorruptedCarved)
	assert.False(t, ec.Embedded.ShouldExtractEmbedded(extract.Metadata{}))
	assert.Equal(t, extract.LegacyEntryEncoding, ec.ArchiveEntryEncoding)

	fresh := indexing.BuildContext(engine, item, false, false)
	assert.True(t, fresh.Embedded.ShouldExtractEmbedded(extract.Metadata{}))
}

func TestProcessSkipsExcludedItems(t *testing.T) {
	tests := []struct {
		name string
		item *evidence.Item
	}{
		{name: "not in case", item: &evidence.Item{ID: 3, Path: "x"}},
		{name: "queue end", item: evidence.QueueEndItem()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			engine := extracttest.Fixed("text")

			require.NoError(t, f.task(indexing.DefaultSettings(), engine).Process(context.Background(), tt.item))

			assert.Empty(t, f.writer.IDs())
			assert.Empty(t, f.ledger.Sizes())
			assert.Equal(t, -1, f.stats.LastID())
			assert.Empty(t, engine.Sessions())
		})
	}
}

func TestProcessCachedText(t *testing.T) {
	cache := strings.Repeat("x", 2500)

	t.Run("content indexed", func(t *testing.T) {
		f := newFixture(t)
		engine := extracttest.Fixed("never")
		item := &evidence.Item{ID: 7, Name: "a.txt", IncludeInCase: true, TextCache: &cache}

		require.NoError(t, f.task(indexing.DefaultSettings(), engine).Process(context.Background(), item))

		require.Len(t, f.writer.docs, 1)
		assert.Equal(t, "7", f.writer.docs[0].ID)
		assert.Equal(t, cache, f.writer.docs[0].Content)
		assert.Equal(t, []ledger.SizeRecord{{ItemID: 7, ScaledLength: 2}}, f.ledger.Sizes())
		assert.Equal(t, 7, f.stats.LastID())
		assert.Empty(t, engine.Sessions(), "cached text is never re-extracted")
	})

	t.Run("content disabled still records size", func(t *testing.T) {
		f := newFixture(t)
		item := &evidence.Item{ID: 7, IncludeInCase: true, TextCache: &cache}
		settings := indexing.Settings{IndexFileContents: false}

		require.NoError(t, f.task(settings, extracttest.Fixed()).Process(context.Background(), item))

		require.Len(t, f.writer.docs, 1)
		assert.Empty(t, f.writer.docs[0].Content)
		assert.Equal(t, []ledger.SizeRecord{{ItemID: 7, ScaledLength: 2}}, f.ledger.Sizes())
	})

	t.Run("multibyte text counted in characters", func(t *testing.T) {
		f := newFixture(t)
		text := strings.Repeat("ç", 1500)
		item := &evidence.Item{ID: 2, IncludeInCase: true, TextCache: &text}

		require.NoError(t, f.task(indexing.DefaultSettings(), extracttest.Fixed()).Process(context.Background(), item))

		assert.Equal(t, []ledger.SizeRecord{{ItemID: 2, ScaledLength: 1}}, f.ledger.Sizes())
	})

	t.Run("supplementary characters count once", func(t *testing.T) {
		f := newFixture(t)
		text := strings.Repeat("\U0001F4C1", 1500) // 6000 bytes, 3000 UTF-16 units
		item := &evidence.Item{ID: 3, IncludeInCase: true, TextCache: &text}

		require.NoError(t, f.task(indexing.DefaultSettings(), extracttest.Fixed()).Process(context.Background(), item))

		assert.Equal(t, []ledger.SizeRecord{{ItemID: 3, ScaledLength: 1}}, f.ledger.Sizes())
	})
}

func TestProcessFragments(t *testing.T) {
	f := newFixture(t)
	engine := extracttest.Fixed("one ", "two ", "three")
	stream := extracttest.NewTrackingStream(strings.NewReader("ignored"))
	item := streamItem(4, stream)

	require.NoError(t, f.task(indexing.DefaultSettings(), engine).Process(context.Background(), item))

	assert.Equal(t, []string{"4", "4_frag1", "4_frag2"}, f.writer.IDs())
	assert.Equal(t, "three", f.writer.docs[2].Content)
	assert.Equal(t, int64(2), f.stats.Splits())
	assert.Equal(t, []int{4}, f.ledger.Fragmented())
	assert.Equal(t, []ledger.SizeRecord{{ItemID: 4, ScaledLength: 0}}, f.ledger.Sizes())

	sessions := engine.Sessions()
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Started())
	assert.Equal(t, 1, sessions[0].Released())
	assert.Equal(t, 1, stream.Closed(), "only the session closes the stream")
}

func TestProcessSplitSizeAccounting(t *testing.T) {
	f := newFixture(t)
	engine := extracttest.Fixed(strings.Repeat("a", 1500), strings.Repeat("b", 1000))
	item := streamItem(7, extracttest.NewTrackingStream(strings.NewReader("")))

	require.NoError(t, f.task(indexing.DefaultSettings(), engine).Process(context.Background(), item))

	assert.Equal(t, []string{"7", "7_frag1"}, f.writer.IDs())
	assert.Equal(t, []ledger.SizeRecord{{ItemID: 7, ScaledLength: 2}}, f.ledger.Sizes())
	assert.Equal(t, int64(1), f.stats.Splits())
	assert.Equal(t, []int{7}, f.ledger.Fragmented())
}

func TestProcessSingleFragmentNotMarked(t *testing.T) {
	f := newFixture(t)
	item := streamItem(1, extracttest.NewTrackingStream(strings.NewReader("")))

	require.NoError(t, f.task(indexing.DefaultSettings(), extracttest.Fixed("all of it")).Process(context.Background(), item))

	assert.Equal(t, []string{"1"}, f.writer.IDs())
	assert.Zero(t, f.stats.Splits())
	assert.Empty(t, f.ledger.Fragmented())
}

func TestProcessContentDisabled(t *testing.T) {
	f := newFixture(t)
	engine := extracttest.Fixed("secret")
	stream := extracttest.NewTrackingStream(strings.NewReader("secret"))
	item := streamItem(5, stream)

	require.NoError(t, f.task(indexing.Settings{}, engine).Process(context.Background(), item))

	require.Len(t, f.writer.docs, 1)
	assert.Empty(t, f.writer.docs[0].Content)
	assert.Empty(t, engine.Sessions())
	assert.Equal(t, 1, stream.Closed())
	assert.Equal(t, []ledger.SizeRecord{{ItemID: 5, ScaledLength: 0}}, f.ledger.Sizes())
}

func TestProcessUnallocated(t *testing.T) {
	tests := []struct {
		name             string
		indexUnallocated bool
		wantSessions     int
		wantContent      string
	}{
		{name: "skipped by default", indexUnallocated: false, wantSessions: 0, wantContent: ""},
		{name: "extracted when enabled", indexUnallocated: true, wantSessions: 1, wantContent: "slack"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			engine := extracttest.Fixed("slack")
			item := streamItem(11, extracttest.NewTrackingStream(strings.NewReader("")))
			item.MediaType = evidence.UnallocatedMediaType

			settings := indexing.DefaultSettings()
			settings.IndexUnallocated = tt.indexUnallocated
			require.NoError(t, f.task(settings, engine).Process(context.Background(), item))

			assert.Len(t, engine.Sessions(), tt.wantSessions)
			require.Len(t, f.writer.docs, 1)
			assert.Equal(t, tt.wantContent, f.writer.docs[0].Content)
		})
	}
}

func TestProcessOpenFailureIndexesMetadata(t *testing.T) {
	f := newFixture(t)
	engine := extracttest.Fixed("unreachable")
	item := &evidence.Item{
		ID:            8,
		Name:          "gone.bin",
		IncludeInCase: true,
		Opener:        func() (io.ReadCloser, error) { return nil, errors.New("bad sector") },
	}

	require.NoError(t, f.task(indexing.DefaultSettings(), engine).Process(context.Background(), item))

	require.Len(t, f.writer.docs, 1)
	assert.Equal(t, "gone.bin", f.writer.docs[0].Name)
	assert.Empty(t, f.writer.docs[0].Content)
	assert.Empty(t, engine.Sessions())
	assert.Equal(t, []ledger.SizeRecord{{ItemID: 8, ScaledLength: 0}}, f.ledger.Sizes())
}

func TestProcessPassesParsedFlag(t *testing.T) {
	f := newFixture(t)
	engine := extracttest.Fixed("x")
	item := streamItem(2, extracttest.NewTrackingStream(strings.NewReader("")))
	item.Parsed = true

	require.NoError(t, f.task(indexing.DefaultSettings(), engine).Process(context.Background(), item))

	sessions := engine.Sessions()
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Context.Embedded.SkipEmbedded)
	assert.Equal(t, "report.txt", sessions[0].Metadata.ResourceName)
}

func TestProcessSubmitError(t *testing.T) {
	f := newFixture(t)
	f.writer.err = errors.New("index closed")
	engine := extracttest.Fixed("a", "b")
	stream := extracttest.NewTrackingStream(strings.NewReader(""))

	err := f.task(indexing.DefaultSettings(), engine).Process(context.Background(), streamItem(3, stream))

	assert.ErrorIs(t, err, f.writer.err)
	require.Len(t, engine.Sessions(), 1)
	assert.Equal(t, 1, engine.Sessions()[0].Released())
	assert.Equal(t, 1, stream.Closed())
	assert.Empty(t, f.ledger.Sizes(), "no size recorded for a failed item")
}

func TestProcessExtractionError(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("corrupt stream")
	engine := extracttest.Fixed("a", "b", "c")
	engine.NextErr = boom
	engine.NextErrAfter = 2

	err := f.task(indexing.DefaultSettings(), engine).Process(context.Background(), streamItem(3, extracttest.NewTrackingStream(strings.NewReader(""))))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"3", "3_frag1"}, f.writer.IDs())
	assert.Equal(t, 1, engine.Sessions()[0].Released())
}

func TestProcessCancelledBetweenFragments(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.writer.onSubmit = func(indexing.Document) { cancel() }

	engine := extracttest.Fixed("a", "b", "c")
	err := f.task(indexing.DefaultSettings(), engine).Process(ctx, streamItem(6, extracttest.NewTrackingStream(strings.NewReader(""))))

	require.NoError(t, err)
	assert.Equal(t, []string{"6"}, f.writer.IDs())
	assert.Equal(t, 1, engine.Sessions()[0].Released())
	assert.Len(t, f.ledger.Sizes(), 1)
}

func TestProcessConcurrentItems(t *testing.T) {
	f := newFixture(t)
	engine := extracttest.Fixed("p1 ", "p2")
	task := f.task(indexing.DefaultSettings(), engine)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			errs <- task.Process(context.Background(), streamItem(id, extracttest.NewTrackingStream(strings.NewReader(""))))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Len(t, f.ledger.Sizes(), n)
	assert.Len(t, f.ledger.Fragmented(), n)
	assert.Equal(t, int64(n), f.stats.Splits())
	assert.Equal(t, n-1, f.stats.LastID())
	assert.Len(t, f.writer.IDs(), 2*n)
}

func TestProcessWithPlainTextEngine(t *testing.T) {
	f := newFixture(t)
	engine := extract.NewPlainText(1000, nil)
	text := strings.Repeat("word ", 500)
	stream := extracttest.NewTrackingStream(strings.NewReader(text))

	require.NoError(t, f.task(indexing.DefaultSettings(), engine).Process(context.Background(), streamItem(7, stream)))

	assert.Equal(t, []string{"7", "7_frag1", "7_frag2"}, f.writer.IDs())
	var joined strings.Builder
	for _, d := range f.writer.docs {
		joined.WriteString(d.Content)
	}
	assert.Equal(t, text, joined.String())
	assert.Equal(t, []ledger.SizeRecord{{ItemID: 7, ScaledLength: 2}}, f.ledger.Sizes())
	assert.Equal(t, 1, stream.Closed())
}

func TestProcessCancelledOnStalledStream(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.writer.onSubmit = func(indexing.Document) { cancel() }

	pr, pw := io.Pipe()
	defer pw.Close()
	go func() {
		// more than one fragment of text, then the source stalls
		pw.Write([]byte(strings.Repeat("word ", 300) + "\n"))
	}()
	stream := extracttest.NewTrackingStream(pr)

	done := make(chan error, 1)
	go func() {
		done <- f.task(indexing.DefaultSettings(), extract.NewPlainText(1000, nil)).Process(ctx, streamItem(8, stream))
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("Process did not return after cancellation; docs=%v", f.writer.IDs())
	}
	assert.Equal(t, []string{"8"}, f.writer.IDs())
	assert.Equal(t, 1, stream.Closed())
}
