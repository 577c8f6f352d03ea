package vectorstore

import (
	"math"
	"sort"

	"ragkb/internal/domain"
)

// CosineDistance returns 1 - cos(a, b). Zero vectors are at distance 1 from
// everything.
func CosineDistance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// SourceSet turns a source filter into a lookup set, ignoring blank names.
// A nil set means no filtering.
func SourceSet(sources []string) map[string]struct{} {
	var set map[string]struct{}
	for _, s := range sources {
		if s == "" {
			continue
		}
		if set == nil {
			set = make(map[string]struct{}, len(sources))
		}
		set[s] = struct{}{}
	}
	return set
}

// RankRecords scores candidates against vector and returns the topK closest
// as matches. Equal distances are ordered by record ID.
func RankRecords(candidates []Record, vector []float64, topK int) []domain.Match {
	type scored struct {
		rec  *Record
		dist float64
	}
	scores := make([]scored, len(candidates))
	for i := range candidates {
		scores[i] = scored{rec: &candidates[i], dist: CosineDistance(candidates[i].Vector, vector)}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].dist == scores[j].dist {
			return scores[i].rec.ID < scores[j].rec.ID
		}
		return scores[i].dist < scores[j].dist
	})
	if topK > len(scores) {
		topK = len(scores)
	}
	if topK < 0 {
		topK = 0
	}
	out := make([]domain.Match, 0, topK)
	for _, s := range scores[:topK] {
		d := s.dist
		out = append(out, domain.Match{Text: s.rec.Text, Metadata: s.rec.Metadata, Distance: &d})
	}
	return out
}
