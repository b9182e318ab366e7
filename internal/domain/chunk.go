package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Chunk is one contiguous span of a document's canonical markdown, produced
// by the external chunking pipeline. Offsets are byte offsets into the
// markdown.
type Chunk struct {
	ID          string `json:"id"`
	ChunkIndex  int    `json:"chunk_index"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Content     string `json:"content"`
}

// ChunkLayout is the ingestion pipeline's output for one document: the full
// canonical markdown plus the ordered chunk array. Recovery treats it as an
// opaque input; the chunking strategy behind it is not our concern.
type ChunkLayout struct {
	DocumentID uuid.UUID `json:"document_id"`
	Markdown   string    `json:"markdown"`
	Chunks     []Chunk   `json:"chunks"`
}

func (l *ChunkLayout) Validate() error {
	if l.DocumentID == uuid.Nil {
		return fmt.Errorf("document_id required")
	}
	if strings.TrimSpace(l.Markdown) == "" {
		return fmt.Errorf("markdown required")
	}
	for i, c := range l.Chunks {
		if c.ID == "" {
			return fmt.Errorf("chunk %d: id required", i)
		}
		if c.StartOffset < 0 || c.StartOffset >= c.EndOffset {
			return fmt.Errorf("chunk %d: invalid offsets [%d,%d)", i, c.StartOffset, c.EndOffset)
		}
		if c.EndOffset > len(l.Markdown) {
			return fmt.Errorf("chunk %d: end offset %d past markdown length %d", i, c.EndOffset, len(l.Markdown))
		}
	}
	return nil
}

// ChunkAt returns the chunk with the given ordinal, or nil.
func (l *ChunkLayout) ChunkAt(index int) *Chunk {
	for i := range l.Chunks {
		if l.Chunks[i].ChunkIndex == index {
			return &l.Chunks[i]
		}
	}
	return nil
}

// ChunksOverlapping returns the chunks whose [start,end) span intersects the
// given half-open range, in order. Text that crosses a chunk boundary maps to
// more than one chunk.
func (l *ChunkLayout) ChunksOverlapping(start, end int) []Chunk {
	var out []Chunk
	for _, c := range l.Chunks {
		if c.StartOffset < end && c.EndOffset > start {
			out = append(out, c)
		}
	}
	return out
}
