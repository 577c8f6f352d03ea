package vectorstore

import (
	"context"
	"fmt"

	"ragkb/internal/domain"
)

// DefaultCollection is the collection name used when none is configured.
const DefaultCollection = "rag_kb"

// ErrDimensionMismatch is returned when a vector does not match the size of
// the vectors already stored, which happens when the embedding model changes
// without rebuilding the collection.
var ErrDimensionMismatch = fmt.Errorf("%w: vector dimension mismatch", domain.ErrInvalidConfig)

// Record is one chunk as persisted in a vector index.
type Record struct {
	ID       string
	Vector   []float64
	Text     string
	Metadata domain.Metadata
}

// Storage is a cosine-similarity vector index holding one collection.
type Storage interface {
	// Upsert inserts or overwrites records by ID.
	Upsert(ctx context.Context, records []Record) error
	// Query returns at most topK matches by ascending cosine distance. When
	// sources is non-empty only records whose Metadata.Source is listed are
	// candidates.
	Query(ctx context.Context, vector []float64, topK int, sources []string) ([]domain.Match, error)
	// Scan returns the metadata of every stored record.
	Scan(ctx context.Context) ([]domain.Metadata, error)
	Count(ctx context.Context) (int, error)
	// DeleteStale removes records of source whose IDs are not in keep and
	// reports how many were removed.
	DeleteStale(ctx context.Context, source string, keep []string) (int, error)
	// Reset drops the collection and recreates it empty.
	Reset(ctx context.Context) error
	Close() error
}
