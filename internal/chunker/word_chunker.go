package chunker

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"ragkb/internal/domain"
)

const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 50

	// idPrefixRunes is how much of the chunk text feeds the chunk id.
	idPrefixRunes = 100
)

// WordChunker splits text into fixed-size word windows with overlap.
type WordChunker struct {
	size    int
	overlap int
}

// NewWordChunker returns a chunker emitting windows of size words, each
// sharing overlap words with the previous one. overlap must be smaller than
// size or the window would never advance.
func NewWordChunker(size, overlap int) (*WordChunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap %d must be in [0, %d)", domain.ErrInvalidConfig, overlap, size)
	}
	return &WordChunker{size: size, overlap: overlap}, nil
}

// Size returns the maximum number of words per chunk.
func (c *WordChunker) Size() int { return c.size }

// Overlap returns the number of words shared by consecutive chunks.
func (c *WordChunker) Overlap() int { return c.overlap }

// Chunk tokenises text on whitespace and returns the windows in order.
// meta is copied onto every chunk with ChunkIndex set.
func (c *WordChunker) Chunk(text string, meta domain.Metadata) []domain.Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := c.size - c.overlap
	var chunks []domain.Chunk
	idx := 0
	for i := 0; i < len(words); i += step {
		end := i + c.size
		if end > len(words) {
			end = len(words)
		}
		body := strings.Join(words[i:end], " ")
		m := meta
		m.ChunkIndex = idx
		chunks = append(chunks, domain.Chunk{
			ID:       ChunkID(meta.Source, idx, body),
			Text:     body,
			Metadata: m,
		})
		if end == len(words) {
			break
		}
		idx++
	}
	return chunks
}

// ChunkID derives a stable identifier from the source name, the chunk's
// position and the first runes of its text. Identical content re-ingested
// under the same name yields the same id.
func ChunkID(source string, index int, text string) string {
	prefix := text
	if r := []rune(text); len(r) > idPrefixRunes {
		prefix = string(r[:idPrefixRunes])
	}
	sum := md5.Sum([]byte(source + ":" + strconv.Itoa(index) + ":" + prefix))
	return hex.EncodeToString(sum[:])
}
