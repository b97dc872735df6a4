package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linesOf(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	return b.String()
}

func TestSmallFileIsOneChunk(t *testing.T) {
	c := NewLineChunker()
	chunks := c.Chunk("package main\n\nfunc main() {}\n", "go")

	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 3, chunks[0].EndLine)
	assert.Equal(t, "go", chunks[0].Language)
}

func TestEmptyContentYieldsNoChunks(t *testing.T) {
	c := NewLineChunker()
	assert.Nil(t, c.Chunk("", "go"))
	assert.Nil(t, c.Chunk("\n\n  \n", "go"))
}

func TestWindowsOverlap(t *testing.T) {
	c := &LineChunker{MaxLines: 10, OverlapLines: 2}
	chunks := c.Chunk(linesOf(25), "text")

	require.True(t, len(chunks) >= 3)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 10, chunks[0].EndLine)
	// The next window re-reads the overlap.
	assert.Equal(t, 9, chunks[1].StartLine)

	// Every line is covered.
	last := chunks[len(chunks)-1]
	assert.Equal(t, 25, last.EndLine)
}

func TestChunksCoverAllLines(t *testing.T) {
	c := &LineChunker{MaxLines: 7, OverlapLines: 3}
	total := 50
	chunks := c.Chunk(linesOf(total), "text")

	covered := make(map[int]bool)
	for _, ch := range chunks {
		for l := ch.StartLine; l <= ch.EndLine; l++ {
			covered[l] = true
		}
	}
	for l := 1; l <= total; l++ {
		assert.True(t, covered[l], "line %d not covered", l)
	}
}

func TestByteCapBreaksWindowEarly(t *testing.T) {
	long := strings.Repeat("x", 600)
	content := strings.Join([]string{long, long, long, long}, "\n") + "\n"

	c := &LineChunker{MaxLines: 100, OverlapLines: 0, MaxBytes: 1400}
	chunks := c.Chunk(content, "text")

	require.True(t, len(chunks) >= 2, "byte cap should split the window")
	assert.Equal(t, 1, chunks[0].StartLine)
}

func TestOversizeSingleLineStillEmitted(t *testing.T) {
	huge := strings.Repeat("y", 5000)
	c := &LineChunker{MaxLines: 10, OverlapLines: 0, MaxBytes: 1024}
	chunks := c.Chunk(huge+"\n", "text")

	require.Len(t, chunks, 1)
	assert.Equal(t, huge, chunks[0].Content)
}

func TestIDIsDeterministicAndDistinct(t *testing.T) {
	ch := Chunk{Content: "func a() {}", StartLine: 1, EndLine: 1, Language: "go"}

	assert.Equal(t, ID("p1", "a.go", ch), ID("p1", "a.go", ch))
	assert.NotEqual(t, ID("p1", "a.go", ch), ID("p2", "a.go", ch))
	assert.NotEqual(t, ID("p1", "a.go", ch), ID("p1", "b.go", ch))

	other := ch
	other.Content = "func b() {}"
	assert.NotEqual(t, ID("p1", "a.go", ch), ID("p1", "a.go", other))
	assert.Len(t, ID("p1", "a.go", ch), 32)
}
