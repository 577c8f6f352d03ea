package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragkb/internal/domain"
	"ragkb/internal/vectorstore"
)

// fakeQdrant answers the handful of endpoints the client uses.
type fakeQdrant struct {
	mu       sync.Mutex
	exists   bool
	size     int
	created  int
	deleted  int
	requests []string
	bodies   map[string]map[string]any
	reply    map[string]string
	status   map[string]int
}

func newFake() *fakeQdrant {
	return &fakeQdrant{bodies: map[string]map[string]any{}, reply: map[string]string{}, status: map[string]int{}}
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := r.Method + " " + r.URL.Path
	f.requests = append(f.requests, key)
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.bodies[key] = body

	if code, ok := f.status[key]; ok {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"status":{"error":"boom"}}`))
		return
	}
	collection := strings.HasPrefix(r.URL.Path, "/collections/") && strings.Count(r.URL.Path, "/") == 2
	switch {
	case collection && r.Method == http.MethodGet:
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":{"error":"Not found"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","result":{"config":{"params":{"vectors":{"size":` + itoa(f.size) + `,"distance":"Cosine"}}}}}`))
	case collection && r.Method == http.MethodPut:
		f.exists = true
		f.created++
		f.size = int(body["vectors"].(map[string]any)["size"].(float64))
		_, _ = w.Write([]byte(`{"status":"ok","result":true}`))
	case collection && r.Method == http.MethodDelete:
		f.exists = false
		f.deleted++
		_, _ = w.Write([]byte(`{"status":"ok","result":true}`))
	default:
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":{"error":"Collection not found"}}`))
			return
		}
		reply, ok := f.reply[key]
		if !ok {
			reply = `{"status":"ok","result":{}}`
		}
		_, _ = w.Write([]byte(reply))
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func newTestStorage(t *testing.T, f *fakeQdrant) *Storage {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewStorage(Config{URL: srv.URL + "/", Collection: "kb"})
}

func TestUpsert_CreatesCollectionOnce(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	s := newTestStorage(t, f)

	recs := []vectorstore.Record{
		{ID: "c1", Vector: []float64{1, 0, 0}, Text: "hello", Metadata: domain.Metadata{Source: "a.txt", FilePath: "/d/a.txt", FileType: ".txt", ChunkIndex: 2}},
	}
	require.NoError(t, s.Upsert(ctx, recs))
	require.NoError(t, s.Upsert(ctx, recs))

	assert.Equal(t, 1, f.created)
	assert.Equal(t, 3, f.size)

	points := f.bodies["PUT /collections/kb/points"]["points"].([]any)
	require.Len(t, points, 1)
	p := points[0].(map[string]any)
	_, err := uuid.Parse(p["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, s.pointID("c1"), p["id"])
	payload := p["payload"].(map[string]any)
	assert.Equal(t, "c1", payload["chunk_id"])
	assert.Equal(t, "a.txt", payload["source"])
	assert.Equal(t, float64(2), payload["chunk_index"])
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.exists, f.size = true, 4
	s := newTestStorage(t, f)

	err := s.Upsert(ctx, []vectorstore.Record{{ID: "x", Vector: []float64{1, 2}}})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestQuery_FilterAndDistance(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.exists, f.size = true, 2
	f.reply["POST /collections/kb/points/search"] = `{"status":"ok","result":[
		{"id":"u1","score":0.9,"payload":{"chunk_id":"c1","text":"first","source":"a.pdf","file_type":".pdf","chunk_index":0}},
		{"id":"u2","score":0.25,"payload":{"chunk_id":"c2","text":"second","source":"a.pdf","file_type":".pdf","chunk_index":1}}]}`
	s := newTestStorage(t, f)

	got, err := s.Query(ctx, []float64{1, 0}, 2, []string{"a.pdf", "b.pdf"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Text)
	assert.InDelta(t, 0.1, *got[0].Distance, 1e-9)
	assert.InDelta(t, 0.75, *got[1].Distance, 1e-9)
	assert.Equal(t, 1, got[1].Metadata.ChunkIndex)

	body := f.bodies["POST /collections/kb/points/search"]
	assert.Equal(t, float64(2), body["limit"])
	must := body["filter"].(map[string]any)["must"].([]any)[0].(map[string]any)
	assert.Equal(t, "source", must["key"])
	assert.Equal(t, []any{"a.pdf", "b.pdf"}, must["match"].(map[string]any)["any"])
}

func TestMissingCollectionReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, newFake())

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	metas, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, metas)

	got, err := s.Query(ctx, []float64{1, 0}, 3, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScan_Paginates(t *testing.T) {
	f := newFake()
	f.exists, f.size = true, 2
	s := newTestStorage(t, f)

	pages := []string{
		`{"status":"ok","result":{"points":[{"id":"u1","payload":{"source":"a.txt"}}],"next_page_offset":"u2"}}`,
		`{"status":"ok","result":{"points":[{"id":"u2","payload":{"source":"b.txt"}}],"next_page_offset":null}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["offset"] == "u2" {
			_, _ = w.Write([]byte(pages[1]))
			return
		}
		_, _ = w.Write([]byte(pages[0]))
	}))
	defer srv.Close()
	s.baseURL = srv.URL

	metas, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "a.txt", metas[0].Source)
	assert.Equal(t, "b.txt", metas[1].Source)
}

func TestDeleteStale_FiltersBySourceAndKeep(t *testing.T) {
	f := newFake()
	f.exists, f.size = true, 2
	f.reply["POST /collections/kb/points/count"] = `{"status":"ok","result":{"count":3}}`
	s := newTestStorage(t, f)

	n, err := s.DeleteStale(context.Background(), "a.txt", []string{"c1"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	filter := f.bodies["POST /collections/kb/points/delete"]["filter"].(map[string]any)
	must := filter["must"].([]any)[0].(map[string]any)
	assert.Equal(t, "a.txt", must["match"].(map[string]any)["value"])
	mustNot := filter["must_not"].([]any)[0].(map[string]any)
	assert.Equal(t, []any{s.pointID("c1")}, mustNot["has_id"])
}

func TestReset_RecreatesWhenSizeConfigured(t *testing.T) {
	f := newFake()
	f.exists, f.size = true, 8
	srv := httptest.NewServer(f)
	defer srv.Close()
	s := NewStorage(Config{URL: srv.URL, Collection: "kb", VectorDim: 8})

	require.NoError(t, s.Reset(context.Background()))
	assert.Equal(t, 1, f.deleted)
	assert.Equal(t, 1, f.created)
	assert.True(t, f.exists)
}

func TestErrorsMatchStoreUnavailable(t *testing.T) {
	f := newFake()
	f.exists, f.size = true, 2
	f.status["POST /collections/kb/points/count"] = http.StatusInternalServerError
	s := newTestStorage(t, f)

	_, err := s.Count(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	var oe *OperationError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, http.StatusInternalServerError, oe.StatusCode)
	assert.Equal(t, OperationErrorRequestFailed, oe.Code)

	down := NewStorage(Config{URL: "http://127.0.0.1:1", Collection: "kb"})
	_, err = down.Count(context.Background())
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
