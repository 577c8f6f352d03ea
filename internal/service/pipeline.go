package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"ragkb/internal/chunker"
	"ragkb/internal/domain"
	"ragkb/internal/logger"
)

// NoDocumentsAnswer is returned when retrieval finds nothing; the generator
// is not called in that case.
const NoDocumentsAnswer = "No relevant documents found in the knowledge base."

const unknownSource = "Unknown"

// DocumentProcessor turns a file into chunks.
type DocumentProcessor interface {
	Process(path string) ([]domain.Chunk, error)
}

// ChunkStore is the retrieval side of the pipeline.
type ChunkStore interface {
	Add(ctx context.Context, chunks []domain.Chunk) error
	Search(ctx context.Context, query string, topK int, sourceFilter []string) ([]domain.Match, error)
	Stats(ctx context.Context) (domain.Stats, error)
	DeleteStale(ctx context.Context, source string, keep []string) (int, error)
	Reset(ctx context.Context) error
}

type Options struct {
	// TopK is used when a query does not ask for a count.
	TopK int
	// ReplaceSource deletes chunks of a re-ingested file that the new
	// version no longer produces.
	ReplaceSource bool
}

// Pipeline ingests documents and answers questions over them.
type Pipeline struct {
	processor DocumentProcessor
	store     ChunkStore
	generator domain.Generator
	log       *logger.Logger
	opts      Options

	// Ingests of one source run one at a time so each upsert and its purge
	// act as a unit.
	mu      sync.Mutex
	sources map[string]*sourceLock
}

type sourceLock struct {
	sync.Mutex
	refs int
}

func NewPipeline(processor DocumentProcessor, store ChunkStore, generator domain.Generator, log *logger.Logger, opts Options) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	return &Pipeline{
		processor: processor,
		store:     store,
		generator: generator,
		log:       log.With("service", "Pipeline"),
		opts:      opts,
		sources:   make(map[string]*sourceLock),
	}
}

// Generator returns the configured answer generator.
func (p *Pipeline) Generator() domain.Generator { return p.generator }

// Ingest loads, chunks and stores one file. Failures are reported in the
// result, never returned.
func (p *Pipeline) Ingest(ctx context.Context, path string) domain.IngestResult {
	chunks, err := p.ingest(ctx, path)
	if err != nil {
		p.log.Warn("ingest failed", "file", path, "error", err)
		return domain.IngestResult{Status: domain.StatusError, File: path, Error: err.Error()}
	}
	p.log.Info("ingested", "file", path, "chunks", chunks)
	return domain.IngestResult{Status: domain.StatusSuccess, File: path, Chunks: chunks}
}

func (p *Pipeline) ingest(ctx context.Context, path string) (int, error) {
	chunks, err := p.processor.Process(path)
	if err != nil {
		return 0, err
	}
	source := filepath.Base(path)
	if len(chunks) > 0 {
		source = chunks[0].Metadata.Source
	}
	unlock := p.lockSource(source)
	defer unlock()

	if err := p.store.Add(ctx, chunks); err != nil {
		return 0, err
	}
	if p.opts.ReplaceSource {
		keep := make([]string, len(chunks))
		for i, ch := range chunks {
			keep[i] = ch.ID
		}
		removed, err := p.store.DeleteStale(ctx, source, keep)
		if err != nil {
			return 0, fmt.Errorf("remove stale chunks: %w", err)
		}
		if removed > 0 {
			p.log.Info("removed stale chunks", "file", path, "removed", removed)
		}
	}
	return len(chunks), nil
}

// lockSource blocks until no other ingest of source is running and returns
// the matching unlock.
func (p *Pipeline) lockSource(source string) func() {
	p.mu.Lock()
	l, ok := p.sources[source]
	if !ok {
		l = &sourceLock{}
		p.sources[source] = l
	}
	l.refs++
	p.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.sources, source)
		}
		p.mu.Unlock()
	}
}

// IngestDir ingests every supported file directly inside dir, in name order.
func (p *Pipeline) IngestDir(ctx context.Context, dir string) ([]domain.IngestResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && chunker.Supported(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	results := make([]domain.IngestResult, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, p.Ingest(ctx, filepath.Join(dir, name)))
	}
	return results, nil
}

// Query retrieves the closest chunks and asks the generator to answer from
// them. Retrieval errors are returned; a generation error becomes the answer
// text so the retrieved sources still reach the caller.
func (p *Pipeline) Query(ctx context.Context, req domain.QueryRequest) (domain.QueryResult, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = p.opts.TopK
	}
	matches, err := p.store.Search(ctx, req.Question, topK, req.SourceFilter)
	if err != nil {
		p.log.Error("retrieval failed", "error", err)
		return domain.QueryResult{}, err
	}
	if len(matches) == 0 {
		return domain.QueryResult{
			Question:      req.Question,
			Answer:        NoDocumentsAnswer,
			Sources:       []domain.Source{},
			RetrievedDocs: []domain.Match{},
		}, nil
	}

	contextTexts := make([]string, len(matches))
	for i, m := range matches {
		contextTexts[i] = m.Text
	}
	result := domain.QueryResult{
		Question:      req.Question,
		Sources:       extractSources(matches),
		RetrievedDocs: matches,
	}
	answer, err := p.generator.Generate(ctx, req.Question, contextTexts)
	if err != nil {
		p.log.Warn("generation failed", "generator", p.generator.Name(), "error", err)
		result.Answer = "Error generating answer: " + generationMessage(err)
		return result, nil
	}
	result.Answer = answer
	return result, nil
}

func (p *Pipeline) Stats(ctx context.Context) (domain.Stats, error) {
	return p.store.Stats(ctx)
}

func (p *Pipeline) Reset(ctx context.Context) error {
	if err := p.store.Reset(ctx); err != nil {
		return err
	}
	p.log.Info("knowledge base reset")
	return nil
}

// extractSources lists each source once, in first-seen order.
func extractSources(matches []domain.Match) []domain.Source {
	seen := make(map[string]struct{}, len(matches))
	out := make([]domain.Source, 0, len(matches))
	for _, m := range matches {
		src := m.Metadata.Source
		if src == "" {
			src = unknownSource
		}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, domain.Source{Source: src, FilePath: m.Metadata.FilePath})
	}
	return out
}

// generationMessage drops the sentinel prefix so the answer reads as the
// backend's own message.
func generationMessage(err error) string {
	msg := err.Error()
	if errors.Is(err, domain.ErrGeneration) {
		return strings.TrimPrefix(msg, domain.ErrGeneration.Error()+": ")
	}
	return msg
}
