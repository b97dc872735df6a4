// Package chunker splits file content into overlapping windows sized
// for embedding.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Chunk is one embeddable slice of a file. Line numbers are 1-based
// and inclusive.
type Chunk struct {
	Content   string
	StartLine int
	EndLine   int
	Language  string
}

// Chunker splits file content into chunks.
type Chunker interface {
	Chunk(content, language string) []Chunk
}

// LineChunker splits on line boundaries with a fixed window and
// overlap. Oversized single lines become their own chunk rather than
// being split mid-line.
type LineChunker struct {
	// MaxLines is the window size in lines.
	MaxLines int
	// OverlapLines is how many trailing lines repeat in the next chunk.
	OverlapLines int
	// MaxBytes caps a window early when lines are long. Zero disables.
	MaxBytes int
}

// NewLineChunker returns a LineChunker with the default 100-line
// window, 15-line overlap, and 16KB byte cap.
func NewLineChunker() *LineChunker {
	return &LineChunker{MaxLines: 100, OverlapLines: 15, MaxBytes: 16 * 1024}
}

// Chunk implements Chunker.
func (c *LineChunker) Chunk(content, language string) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	maxLines := c.MaxLines
	if maxLines <= 0 {
		maxLines = 100
	}
	overlap := c.OverlapLines
	if overlap < 0 || overlap >= maxLines {
		overlap = 0
	}

	lines := strings.Split(content, "\n")
	// A trailing newline produces an empty final element; drop it so
	// line numbers match the file.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var chunks []Chunk
	start := 0
	for start < len(lines) {
		end := start
		bytes := 0
		for end < len(lines) && end-start < maxLines {
			lineBytes := len(lines[end]) + 1
			if c.MaxBytes > 0 && bytes+lineBytes > c.MaxBytes && end > start {
				break
			}
			bytes += lineBytes
			end++
		}

		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, Chunk{
				Content:   text,
				StartLine: start + 1,
				EndLine:   end,
				Language:  language,
			})
		}

		if end >= len(lines) {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// ID derives the stable identifier for a chunk. The same project, path,
// span, and content always produce the same ID, so re-indexing an
// unchanged file overwrites rather than duplicates.
func ID(projectID, relPath string, ch Chunk) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d:%d:%s", projectID, relPath, ch.StartLine, ch.EndLine, ch.Content)))
	return hex.EncodeToString(sum[:])[:32]
}
