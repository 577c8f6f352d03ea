// Package qdrant stores chunk vectors in a Qdrant collection through its
// REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragkb/internal/domain"
	"ragkb/internal/vectorstore"
)

const (
	DefaultURL     = "http://localhost:6333"
	DefaultTimeout = 15 * time.Second

	scrollPageSize    = 256
	maxErrorBodyBytes = 1024
)

var pointIDNamespace = uuid.MustParse("6f1b7a52-4c1e-4f8e-9a57-3d2f5c0b8e11")

type Config struct {
	URL        string
	APIKey     string
	Collection string
	// VectorDim is optional. When zero the collection is created with the
	// size of the first upserted vector.
	VectorDim int
	Timeout   time.Duration
}

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection if missing.
type Storage struct {
	baseURL    string
	apiKey     string
	collection string
	http       *http.Client

	configDim int

	mu        sync.Mutex
	dimension int
	ready     bool
}

var _ vectorstore.Storage = (*Storage)(nil)

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type payload struct {
	ChunkID    string `json:"chunk_id"`
	Text       string `json:"text"`
	Source     string `json:"source"`
	FilePath   string `json:"file_path"`
	FileType   string `json:"file_type"`
	ChunkIndex int    `json:"chunk_index"`
}

func (p payload) metadata() domain.Metadata {
	return domain.Metadata{Source: p.Source, FilePath: p.FilePath, FileType: p.FileType, ChunkIndex: p.ChunkIndex}
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	url := strings.TrimRight(cfg.URL, "/")
	if url == "" {
		url = DefaultURL
	}
	collection := cfg.Collection
	if collection == "" {
		collection = vectorstore.DefaultCollection
	}
	return &Storage{
		baseURL:    url,
		apiKey:     cfg.APIKey,
		collection: collection,
		configDim:  cfg.VectorDim,
		dimension:  cfg.VectorDim,
		http:       &http.Client{Timeout: timeout},
	}
}

func (s *Storage) Upsert(ctx context.Context, records []vectorstore.Record) error {
	const op = "upsert"
	if len(records) == 0 {
		return nil
	}
	dim := len(records[0].Vector)
	points := make([]map[string]any, 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			return opErr(op, OperationErrorValidation, "record id is required", nil)
		}
		if len(r.Vector) == 0 {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("record %q has an empty vector", r.ID), nil)
		}
		if len(r.Vector) != dim {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("record %q has %d values, batch has %d", r.ID, len(r.Vector), dim), vectorstore.ErrDimensionMismatch)
		}
		m := r.Metadata
		points = append(points, map[string]any{
			"id":     s.pointID(r.ID),
			"vector": r.Vector,
			"payload": payload{
				ChunkID:    r.ID,
				Text:       r.Text,
				Source:     m.Source,
				FilePath:   m.FilePath,
				FileType:   m.FileType,
				ChunkIndex: m.ChunkIndex,
			},
		})
	}
	if err := s.ensureCollection(ctx, dim); err != nil {
		return err
	}
	return s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), map[string]any{"points": points}, nil)
}

func (s *Storage) Query(ctx context.Context, vector []float64, topK int, sources []string) ([]domain.Match, error) {
	const op = "query"
	if topK <= 0 {
		return []domain.Match{}, nil
	}
	if err := s.checkDimension(op, len(vector)); err != nil {
		return nil, err
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"with_vector":  false,
	}
	if f := sourceFilter(sources); f != nil {
		req["filter"] = f
	}
	var items []struct {
		Score   float64 `json:"score"`
		Payload payload `json:"payload"`
	}
	err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), req, &items)
	if isNotFound(err) {
		return []domain.Match{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]domain.Match, 0, len(items))
	for _, it := range items {
		d := 1 - it.Score
		out = append(out, domain.Match{Text: it.Payload.Text, Metadata: it.Payload.metadata(), Distance: &d})
	}
	return out, nil
}

func (s *Storage) Scan(ctx context.Context) ([]domain.Metadata, error) {
	const op = "scroll"
	var out []domain.Metadata
	var offset json.RawMessage
	for {
		req := map[string]any{
			"limit":        scrollPageSize,
			"with_payload": []string{"source", "file_path", "file_type", "chunk_index"},
			"with_vector":  false,
		}
		if len(offset) > 0 {
			req["offset"] = offset
		}
		var page struct {
			Points []struct {
				Payload payload `json:"payload"`
			} `json:"points"`
			NextPageOffset json.RawMessage `json:"next_page_offset"`
		}
		err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/scroll"), req, &page)
		if isNotFound(err) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		for _, p := range page.Points {
			out = append(out, p.Payload.metadata())
		}
		if len(page.NextPageOffset) == 0 || string(page.NextPageOffset) == "null" {
			return out, nil
		}
		offset = page.NextPageOffset
	}
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	return s.count(ctx, nil)
}

func (s *Storage) DeleteStale(ctx context.Context, source string, keep []string) (int, error) {
	const op = "delete"
	filter := map[string]any{
		"must": []any{map[string]any{"key": "source", "match": map[string]any{"value": source}}},
	}
	if len(keep) > 0 {
		ids := make([]string, len(keep))
		for i, id := range keep {
			ids[i] = s.pointID(id)
		}
		filter["must_not"] = []any{map[string]any{"has_id": ids}}
	}
	n, err := s.count(ctx, filter)
	if err != nil || n == 0 {
		return 0, err
	}
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/delete?wait=true"), map[string]any{"filter": filter}, nil); err != nil {
		return 0, err
	}
	return n, nil
}

// Reset deletes the collection. It is recreated right away when the vector
// size is configured, otherwise on the next upsert with that upsert's size.
func (s *Storage) Reset(ctx context.Context) error {
	const op = "reset"
	err := s.doJSON(ctx, op, http.MethodDelete, s.collectionPath(""), nil, nil)
	if err != nil && !isNotFound(err) {
		return err
	}
	s.mu.Lock()
	s.ready = false
	s.dimension = s.configDim
	dim := s.dimension
	s.mu.Unlock()
	if dim > 0 {
		return s.ensureCollection(ctx, dim)
	}
	return nil
}

func (s *Storage) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

func (s *Storage) count(ctx context.Context, filter map[string]any) (int, error) {
	req := map[string]any{"exact": true}
	if filter != nil {
		req["filter"] = filter
	}
	var res struct {
		Count int `json:"count"`
	}
	err := s.doJSON(ctx, "count", http.MethodPost, s.collectionPath("/points/count"), req, &res)
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (s *Storage) ensureCollection(ctx context.Context, dim int) error {
	const op = "ensure_collection"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension > 0 && s.dimension != dim {
		return opErr(op, OperationErrorValidation, fmt.Sprintf("expected %d values, got %d", s.dimension, dim), vectorstore.ErrDimensionMismatch)
	}
	if s.ready {
		return nil
	}

	var info struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err := s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, &info)
	switch {
	case err == nil:
		if size := info.Config.Params.Vectors.Size; size > 0 && size != dim {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("collection %s holds %d-dimensional vectors, got %d", s.collection, size, dim), vectorstore.ErrDimensionMismatch)
		}
	case isNotFound(err):
		body := map[string]any{"vectors": map[string]any{"size": dim, "distance": "Cosine"}}
		if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath(""), body, nil); err != nil {
			return err
		}
	default:
		return err
	}
	s.dimension = dim
	s.ready = true
	return nil
}

func (s *Storage) checkDimension(op string, n int) error {
	s.mu.Lock()
	dim := s.dimension
	s.mu.Unlock()
	if dim > 0 && n != dim {
		return opErr(op, OperationErrorValidation, fmt.Sprintf("query vector has %d values, collection has %d", n, dim), vectorstore.ErrDimensionMismatch)
	}
	return nil
}

func (s *Storage) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorRequestFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}
	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if msg := parseEnvelopeStatus(env.Status); msg != "" {
		return &OperationError{Code: OperationErrorRequestFailed, Operation: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func (s *Storage) collectionPath(suffix string) string {
	return "/collections/" + s.collection + suffix
}

// pointID maps a chunk ID onto the UUID space Qdrant accepts for point IDs.
func (s *Storage) pointID(chunkID string) string {
	return uuid.NewSHA1(pointIDNamespace, []byte(s.collection+":"+chunkID)).String()
}

func sourceFilter(sources []string) map[string]any {
	if len(sources) == 0 {
		return nil
	}
	return map[string]any{
		"must": []any{map[string]any{"key": "source", "match": map[string]any{"any": sources}}},
	}
}

func isNotFound(err error) bool {
	var oe *OperationError
	return errors.As(err, &oe) && oe.StatusCode == http.StatusNotFound
}

func classifyHTTPCallError(op, message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

// parseEnvelopeStatus returns the error text of a non-ok status, which Qdrant
// sends either as the string "ok" or as {"error": "..."}.
func parseEnvelopeStatus(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if str == "" || strings.EqualFold(str, "ok") {
			return ""
		}
		return str
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Error != "" {
		return obj.Error
	}
	return ""
}

func truncateBody(raw []byte) string {
	if len(raw) > maxErrorBodyBytes {
		return string(raw[:maxErrorBodyBytes]) + "..."
	}
	return string(raw)
}
