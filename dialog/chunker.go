package dialog

import (
	"strings"
	"unicode"
)

// Unit is one synthesis unit cut from the streamed reply.
type Unit struct {
	Index int
	Text  string
}

// Chunker accumulates streamed text fragments and cuts synthesis units on
// sentence boundaries. A boundary is a '.', '?' or '!' followed by
// whitespace (or end of stream); the whitespace buffered after the
// punctuation stays attached to the unit it ends, so concatenating all
// units reproduces the stream verbatim. Text buffered past the soft cap is forced out as a unit even
// without terminal punctuation, which bounds synthesis latency for
// replies that never end a sentence.
type Chunker struct {
	softCap int
	buf     strings.Builder
	index   int
}

// NewChunker creates a chunker with the given soft cap in bytes.
func NewChunker(softCap int) *Chunker {
	if softCap <= 0 {
		softCap = 240
	}
	return &Chunker{softCap: softCap}
}

// Feed appends a fragment and returns any units that became complete.
func (c *Chunker) Feed(fragment string) []Unit {
	if fragment == "" {
		return nil
	}
	c.buf.WriteString(fragment)

	var units []Unit
	for {
		text := c.buf.String()

		if cut, ok := sentenceCut(text); ok && cut <= c.softCap {
			units = append(units, c.emit(text, cut))
			continue
		}

		if len(text) > c.softCap {
			units = append(units, c.emit(text, c.softCap))
			continue
		}

		return units
	}
}

// Flush returns the non-empty tail as a final unit at end of stream.
func (c *Chunker) Flush() *Unit {
	text := c.buf.String()
	if text == "" {
		return nil
	}
	c.buf.Reset()
	unit := Unit{Index: c.index, Text: text}
	c.index++
	return &unit
}

// NextIndex returns the index the next unit will carry.
func (c *Chunker) NextIndex() int {
	return c.index
}

func (c *Chunker) emit(text string, cut int) Unit {
	unit := Unit{Index: c.index, Text: text[:cut]}
	c.index++
	c.buf.Reset()
	c.buf.WriteString(text[cut:])
	return unit
}

// sentenceCut finds the first complete sentence boundary: terminal
// punctuation followed by at least one whitespace character. The cut
// lands after the whitespace run buffered so far.
func sentenceCut(text string) (int, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '.' && text[i] != '?' && text[i] != '!' {
			continue
		}
		j := i + 1
		for j < len(text) && unicode.IsSpace(rune(text[j])) {
			j++
		}
		if j == i+1 {
			// No whitespace after the punctuation yet; it may be
			// mid-number or mid-abbreviation.
			continue
		}
		return j, true
	}
	return 0, false
}
