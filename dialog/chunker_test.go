package dialog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func feedAll(c *Chunker, fragments ...string) []Unit {
	var units []Unit
	for _, frag := range fragments {
		units = append(units, c.Feed(frag)...)
	}
	if tail := c.Flush(); tail != nil {
		units = append(units, *tail)
	}
	return units
}

func TestChunkerSentenceBoundaries(t *testing.T) {
	c := NewChunker(240)
	units := feedAll(c, "Hello there. How are you? Fine!")

	require.Len(t, units, 3)
	assert.Equal(t, "Hello there. ", units[0].Text)
	assert.Equal(t, "How are you? ", units[1].Text)
	assert.Equal(t, "Fine!", units[2].Text)
	assert.Equal(t, []int{0, 1, 2}, []int{units[0].Index, units[1].Index, units[2].Index})
}

func TestChunkerBoundarySplitAcrossFragments(t *testing.T) {
	c := NewChunker(240)

	units := c.Feed("It is three")
	assert.Empty(t, units)

	units = c.Feed(" in the afternoon.")
	assert.Empty(t, units) // terminal punctuation with no whitespace yet

	units = c.Feed(" And more.")
	require.Len(t, units, 1)
	assert.Equal(t, "It is three in the afternoon. ", units[0].Text)

	tail := c.Flush()
	require.NotNil(t, tail)
	assert.Equal(t, "And more.", tail.Text)
}

func TestChunkerDoesNotSplitDecimalNumbers(t *testing.T) {
	c := NewChunker(240)
	units := feedAll(c, "Pi is 3.14 roughly. Indeed.")

	require.Len(t, units, 2)
	assert.Equal(t, "Pi is 3.14 roughly. ", units[0].Text)
	assert.Equal(t, "Indeed.", units[1].Text)
}

func TestChunkerSingleTokenWithoutPunctuation(t *testing.T) {
	c := NewChunker(240)

	units := c.Feed("Okay")
	assert.Empty(t, units)

	tail := c.Flush()
	require.NotNil(t, tail)
	assert.Equal(t, "Okay", tail.Text)
	assert.Equal(t, 0, tail.Index)
}

func TestChunkerSoftCapForcesUnit(t *testing.T) {
	c := NewChunker(240)
	run := strings.Repeat("a", 241)

	units := c.Feed(run)
	require.Len(t, units, 1)
	assert.Len(t, units[0].Text, 240)

	tail := c.Flush()
	require.NotNil(t, tail)
	// The next unit starts at character 241.
	assert.Equal(t, "a", tail.Text)
	assert.Equal(t, 1, tail.Index)
}

func TestChunkerExactCapNotForced(t *testing.T) {
	c := NewChunker(240)
	units := c.Feed(strings.Repeat("b", 240))
	assert.Empty(t, units)

	tail := c.Flush()
	require.NotNil(t, tail)
	assert.Len(t, tail.Text, 240)
}

func TestChunkerEmptyStream(t *testing.T) {
	c := NewChunker(240)
	assert.Nil(t, c.Flush())
	assert.Empty(t, c.Feed(""))
}

func TestChunkerPreservesWhitespaceVerbatim(t *testing.T) {
	c := NewChunker(240)
	input := "First.  \n Second?\tThird"
	units := feedAll(c, input)

	var rebuilt strings.Builder
	for _, u := range units {
		rebuilt.WriteString(u.Text)
	}
	assert.Equal(t, input, rebuilt.String())
}

// Properties: units always rebuild the input exactly, indices run 0, 1,
// 2, ... without gaps, and no unit is empty.
func TestChunkerProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		softCap := rapid.IntRange(8, 64).Draw(t, "softCap")
		c := NewChunker(softCap)

		fragments := rapid.SliceOfN(
			rapid.StringMatching(`[a-z .?!\n]{0,20}`), 0, 20,
		).Draw(t, "fragments")

		var input, rebuilt strings.Builder
		nextIndex := 0
		collect := func(units []Unit) {
			for _, u := range units {
				if u.Index != nextIndex {
					t.Fatalf("unit index %d, want %d", u.Index, nextIndex)
				}
				nextIndex++
				if u.Text == "" {
					t.Fatal("empty unit emitted")
				}
				rebuilt.WriteString(u.Text)
			}
		}

		for _, frag := range fragments {
			input.WriteString(frag)
			collect(c.Feed(frag))
		}
		if tail := c.Flush(); tail != nil {
			collect([]Unit{*tail})
		}

		if rebuilt.String() != input.String() {
			t.Fatalf("rebuilt %q, want %q", rebuilt.String(), input.String())
		}
	})
}
