package internal

import (
	"fmt"
	"iter"
	"slices"
	"strings"

	"portfolio-rag/types"
)

// boundary is a separator the splitter prefers to cut at. offset is the number
// of separator runes kept at the end of the left piece.
type boundary struct {
	sep    []rune
	offset int
}

// boundaryClasses in priority order. A class is used only if none of the
// earlier ones occur inside the cut window.
var boundaryClasses = [][]boundary{
	{{sep: []rune("\n\n")}},
	{{sep: []rune("\n")}},
	{{sep: []rune(". "), offset: 1}, {sep: []rune("! "), offset: 1}, {sep: []rune("? "), offset: 1}},
	{{sep: []rune(" ")}},
}

// Splitter cuts document text into overlapping chunks of at most MaxSize
// characters, preferring natural boundaries.
type Splitter struct {
	MaxSize int
	Overlap int
}

func NewSplitter(maxSize, overlap int) (*Splitter, error) {
	if maxSize <= 0 {
		return nil, types.ConfigurationError("splitter", fmt.Errorf("max chunk size must be positive, got %d", maxSize))
	}
	if overlap < 0 || overlap >= maxSize {
		return nil, types.ConfigurationError("splitter", fmt.Errorf("overlap must be in [0, %d), got %d", maxSize, overlap))
	}
	return &Splitter{MaxSize: maxSize, Overlap: overlap}, nil
}

// Split returns the chunks of doc lazily. The sequence can be ranged over any
// number of times and always yields the same chunks. Chunks keep their
// surrounding whitespace so that consecutive chunks share exactly Overlap
// characters. Whitespace-only pieces are dropped.
func (s *Splitter) Split(doc types.Document) iter.Seq[types.Chunk] {
	return func(yield func(types.Chunk) bool) {
		text := []rune(doc.RawText)
		seq := 0

		emit := func(from, to int) bool {
			piece := string(text[from:to])
			if strings.TrimSpace(piece) == "" {
				return true
			}
			c := types.Chunk{
				SourceID:      doc.SourceID,
				SequenceIndex: seq,
				Offset:        from,
				Text:          piece,
			}
			seq++
			return yield(c)
		}

		start := 0
		for len(text)-start > s.MaxSize {
			end := s.cut(text, start)
			if !emit(start, end) {
				return
			}
			start = end - s.Overlap
		}
		if start < len(text) {
			emit(start, len(text))
		}
	}
}

// SplitAll collects Split into a slice.
func (s *Splitter) SplitAll(doc types.Document) []types.Chunk {
	return slices.Collect(s.Split(doc))
}

// cut picks the end of the chunk starting at start. The result is always in
// (start+Overlap, start+MaxSize] so every chunk makes progress.
func (s *Splitter) cut(text []rune, start int) int {
	hi := start + s.MaxSize
	lo := start + s.Overlap
	for _, class := range boundaryClasses {
		for p := hi; p > lo; p-- {
			if matchesAny(text, p, class) {
				return p
			}
		}
	}
	return hi
}

func matchesAny(text []rune, p int, class []boundary) bool {
	for _, b := range class {
		at := p - b.offset
		if at < 0 || at+len(b.sep) > len(text) {
			continue
		}
		if slices.Equal(text[at:at+len(b.sep)], b.sep) {
			return true
		}
	}
	return false
}
