package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"ragkb/internal/domain"
)

// Store embeds chunks and queries with one embedder and keeps them in a
// Storage index. Search and Add always go through the same embedder so that
// distances stay meaningful.
type Store struct {
	embedder   domain.Embedder
	storage    Storage
	collection string
}

// NewStore wires an embedder to a storage backend holding collection.
func NewStore(embedder domain.Embedder, storage Storage, collection string) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{embedder: embedder, storage: storage, collection: collection}
}

// Collection returns the name of the underlying collection.
func (s *Store) Collection() string { return s.collection }

// Add embeds every chunk in one batch and upserts it keyed by chunk ID.
func (s *Store) Add(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return embeddingErr(err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("%w: %d vectors for %d chunks", domain.ErrEmbedding, len(vectors), len(chunks))
	}
	records := make([]Record, len(chunks))
	for i, ch := range chunks {
		records[i] = Record{ID: ch.ID, Vector: vectors[i], Text: ch.Text, Metadata: ch.Metadata}
	}
	if err := s.storage.Upsert(ctx, records); err != nil {
		return storeErr("upsert", err)
	}
	return nil
}

// Search returns up to topK chunks closest to query, restricted to
// sourceFilter when it names at least one source.
func (s *Store) Search(ctx context.Context, query string, topK int, sourceFilter []string) ([]domain.Match, error) {
	if topK <= 0 {
		return []domain.Match{}, nil
	}
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, embeddingErr(err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 query vector, got %d", domain.ErrEmbedding, len(vectors))
	}
	var sources []string
	for src := range SourceSet(sourceFilter) {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	matches, err := s.storage.Query(ctx, vectors[0], topK, sources)
	if err != nil {
		return nil, storeErr("query", err)
	}
	return matches, nil
}

// Stats counts the stored chunks and lists every distinct source. Sources
// come from a full scan of the collection.
func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	count, err := s.storage.Count(ctx)
	if err != nil {
		return domain.Stats{}, storeErr("count", err)
	}
	metas, err := s.storage.Scan(ctx)
	if err != nil {
		return domain.Stats{}, storeErr("scan", err)
	}
	seen := make(map[string]struct{})
	sources := []string{}
	for _, m := range metas {
		if m.Source == "" {
			continue
		}
		if _, ok := seen[m.Source]; ok {
			continue
		}
		seen[m.Source] = struct{}{}
		sources = append(sources, m.Source)
	}
	sort.Strings(sources)
	return domain.Stats{Count: count, CollectionName: s.collection, Sources: sources}, nil
}

// DeleteStale removes chunks of source that are not listed in keep.
func (s *Store) DeleteStale(ctx context.Context, source string, keep []string) (int, error) {
	n, err := s.storage.DeleteStale(ctx, source, keep)
	if err != nil {
		return 0, storeErr("delete", err)
	}
	return n, nil
}

// Reset drops every chunk by recreating the collection.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.storage.Reset(ctx); err != nil {
		return storeErr("reset", err)
	}
	return nil
}

// Close releases the storage backend.
func (s *Store) Close() error { return s.storage.Close() }

func embeddingErr(err error) error {
	if errors.Is(err, domain.ErrEmbedding) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrEmbedding, err)
}

// storeErr keeps errors that are already classified and marks the rest as
// store unavailability.
func storeErr(op string, err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, domain.ErrInvalidConfig) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}
