package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"ragkb/internal/domain"
	"ragkb/internal/vectorstore"
)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
// A batch upsert is applied under one write lock, so readers see either none
// or all of it.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]vectorstore.Record
}

// NewStorage returns an empty in-memory collection.
func NewStorage() *Storage {
	return &Storage{records: make(map[string]vectorstore.Record)}
}

var _ vectorstore.Storage = (*Storage)(nil)

func (s *Storage) Upsert(_ context.Context, records []vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dim := s.dimension
	if len(s.records) == 0 {
		dim = 0
	}
	for _, r := range records {
		if r.ID == "" {
			return errors.New("record id is required")
		}
		if len(r.Vector) == 0 {
			return fmt.Errorf("record %s has an empty vector", r.ID)
		}
		if dim == 0 {
			dim = len(r.Vector)
		}
		if len(r.Vector) != dim {
			return fmt.Errorf("%w: expected %d, got %d", vectorstore.ErrDimensionMismatch, dim, len(r.Vector))
		}
	}
	s.dimension = dim
	for _, r := range records {
		v := make([]float64, len(r.Vector))
		copy(v, r.Vector)
		r.Vector = v
		s.records[r.ID] = r
	}
	return nil
}

func (s *Storage) Query(_ context.Context, vector []float64, topK int, sources []string) ([]domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return []domain.Match{}, nil
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", vectorstore.ErrDimensionMismatch, s.dimension, len(vector))
	}
	filter := vectorstore.SourceSet(sources)
	candidates := make([]vectorstore.Record, 0, len(s.records))
	for _, r := range s.records {
		if filter != nil {
			if _, ok := filter[r.Metadata.Source]; !ok {
				continue
			}
		}
		candidates = append(candidates, r)
	}
	return vectorstore.RankRecords(candidates, vector, topK), nil
}

func (s *Storage) Scan(_ context.Context) ([]domain.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]domain.Metadata, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[id].Metadata)
	}
	return out, nil
}

func (s *Storage) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *Storage) DeleteStale(_ context.Context, source string, keep []string) (int, error) {
	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, r := range s.records {
		if r.Metadata.Source != source {
			continue
		}
		if _, ok := keepSet[id]; ok {
			continue
		}
		delete(s.records, id)
		removed++
	}
	return removed, nil
}

func (s *Storage) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]vectorstore.Record)
	s.dimension = 0
	return nil
}

func (s *Storage) Close() error { return nil }
