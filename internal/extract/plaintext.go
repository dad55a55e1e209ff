package extract

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// DefaultFragmentChars bounds the text held by one fragment
const DefaultFragmentChars = 10_000_000

// readBufferSize is the line buffer; longer lines are consumed in pieces
const readBufferSize = 64 * 1024

var textMediaTypes = map[string]bool{
	"application/json":       true,
	"application/xml":        true,
	"application/javascript": true,
	"application/x-sh":       true,
}

// PlainText extracts text from text-like media types line by line
type PlainText struct {
	FragmentChars int
	Logger        *slog.Logger
}

// NewPlainText creates the engine; fragmentChars <= 0 selects the default
func NewPlainText(fragmentChars int, logger *slog.Logger) *PlainText {
	if fragmentChars <= 0 {
		fragmentChars = DefaultFragmentChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PlainText{FragmentChars: fragmentChars, Logger: logger}
}

// Accepts reports whether content of mediaType is extracted as text
func (p *PlainText) Accepts(md Metadata) bool {
	if md.TimedOut {
		// a structured parse already timed out; fall back to raw text
		return true
	}
	return strings.HasPrefix(md.MediaType, "text/") || textMediaTypes[md.MediaType]
}

// OpenSession implements Engine
func (p *PlainText) OpenSession(stream io.ReadCloser, md Metadata, ec *Context) Session {
	if ec == nil {
		ec = &Context{}
	}
	return &plainSession{
		engine: p,
		stream: stream,
		md:     md,
		ec:     ec,
		accept: p.Accepts(md),
		frags:  make(chan string),
	}
}

type plainSession struct {
	engine *PlainText
	stream io.ReadCloser
	md     Metadata
	ec     *Context
	accept bool

	frags  chan string
	cancel context.CancelFunc
	group  *errgroup.Group
	total  atomic.Int64

	started bool
	primed  bool
	done    bool
	current string
	err     error

	releaseOnce sync.Once
	closeOnce   sync.Once
}

// closeStream closes the owned stream once, from the producer or Release
func (s *plainSession) closeStream() {
	s.closeOnce.Do(func() {
		s.stream.Close()
	})
}

func (s *plainSession) Start() {
	if s.started {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	g.Go(func() error {
		defer close(s.frags)
		defer s.closeStream()
		if !s.accept {
			return nil
		}
		return s.produce(gctx)
	})
}

// produce reads the stream and emits fragments of bounded size
func (s *plainSession) produce(ctx context.Context) error {
	limit := s.engine.FragmentChars
	r := bufio.NewReaderSize(s.stream, readBufferSize)

	var pending strings.Builder
	pendingChars := 0
	var carry []byte // incomplete trailing rune of a partial line

	emit := func(text string) error {
		select {
		case s.frags <- text:
			s.total.Add(int64(utf8.RuneCountInString(text)))
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		line, readErr := r.ReadSlice('\n')
		if len(line) > 0 {
			piece := append(carry, line...)
			carry = nil
			if errors.Is(readErr, bufio.ErrBufferFull) {
				piece, carry = splitIncompleteRune(piece)
			}
			text := s.decode(piece)
			pending.WriteString(text)
			pendingChars += utf8.RuneCountInString(text)

			for pendingChars >= limit {
				buf := pending.String()
				cut := cutPoint(buf, limit)
				if err := emit(buf[:cut]); err != nil {
					return err
				}
				rest := buf[cut:]
				pending.Reset()
				pending.WriteString(rest)
				pendingChars = utf8.RuneCountInString(rest)
			}
		}

		if readErr == nil || errors.Is(readErr, bufio.ErrBufferFull) {
			continue
		}
		if readErr != io.EOF {
			if s.ec.IgnoreCorruptedCarved && s.ec.Item.Carved {
				s.engine.Logger.Warn("ignoring corrupted carved item",
					"item", s.ec.Item.ID, "path", s.ec.Item.Path, "error", readErr)
				break
			}
			return fmt.Errorf("failed to read %s: %w", s.md.ResourceName, readErr)
		}
		break
	}

	if len(carry) > 0 {
		pending.WriteString(s.decode(carry))
	}
	if pending.Len() > 0 {
		return emit(pending.String())
	}
	return nil
}

// decode turns raw bytes into text, falling back to the legacy codepage
// for content that is not valid UTF-8
func (s *plainSession) decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	if s.ec.ArchiveEntryEncoding != nil {
		if out, err := s.ec.ArchiveEntryEncoding.NewDecoder().Bytes(b); err == nil {
			return string(out)
		}
	}
	return strings.ToValidUTF8(string(b), "�")
}

// splitIncompleteRune separates a trailing partial UTF-8 sequence from b
func splitIncompleteRune(b []byte) ([]byte, []byte) {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		start := len(b) - i
		if utf8.RuneStart(b[start]) {
			if !utf8.FullRune(b[start:]) {
				rest := make([]byte, i)
				copy(rest, b[start:])
				return b[:start], rest
			}
			break
		}
	}
	return b, nil
}

func (s *plainSession) Fragment() (string, error) {
	if !s.started {
		return "", errors.New("session not started")
	}
	if !s.primed {
		s.primed = true
		frag, ok := <-s.frags
		if !ok {
			s.done = true
			s.err = s.group.Wait()
			return "", s.err
		}
		s.current = frag
	}
	return s.current, s.err
}

func (s *plainSession) Next() (bool, error) {
	if !s.primed {
		if _, err := s.Fragment(); err != nil {
			return false, err
		}
	}
	if s.done {
		return false, s.err
	}
	frag, ok := <-s.frags
	if !ok {
		s.done = true
		s.err = s.group.Wait()
		return false, s.err
	}
	s.current = frag
	return true, nil
}

func (s *plainSession) TotalSize() int64 {
	return s.total.Load()
}

func (s *plainSession) Release() {
	s.releaseOnce.Do(func() {
		if !s.started {
			s.closeStream()
			return
		}
		s.cancel()
		// unblocks a producer stuck reading a stalled stream
		s.closeStream()
		for range s.frags {
		}
		s.group.Wait()
	})
}
