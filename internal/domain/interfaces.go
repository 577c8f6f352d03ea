package domain

import "context"

// Metadata describes where a chunk came from.
type Metadata struct {
	Source     string `json:"source"`
	FilePath   string `json:"file_path"`
	FileType   string `json:"file_type"`
	ChunkIndex int    `json:"chunk_index"`
}

// Chunk is a bounded run of a document's words, stored as one retrievable unit.
type Chunk struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// Match is a chunk returned by a similarity search.
// Distance is the index's cosine distance (lower is closer), nil when the
// backend does not report one.
type Match struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
	Distance *float64 `json:"distance,omitempty"`
}

// Source identifies an original document in a query response.
type Source struct {
	Source   string `json:"source"`
	FilePath string `json:"file_path"`
}

// Stats summarises the contents of a collection.
type Stats struct {
	Count          int      `json:"count"`
	CollectionName string   `json:"collection_name"`
	Sources        []string `json:"sources"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// IngestResult reports the outcome of ingesting one file.
type IngestResult struct {
	Status string `json:"status"`
	File   string `json:"file"`
	Chunks int    `json:"chunks"`
	Error  string `json:"error,omitempty"`
}

// QueryRequest is a question with optional retrieval settings.
type QueryRequest struct {
	Question     string   `json:"question"`
	TopK         int      `json:"top_k,omitempty"`
	SourceFilter []string `json:"source_filter,omitempty"`
}

// QueryResult is the answer to a question together with what it was built from.
type QueryResult struct {
	Question      string   `json:"question"`
	Answer        string   `json:"answer"`
	Sources       []Source `json:"sources"`
	RetrievedDocs []Match  `json:"retrieved_docs"`
}

// Embedder converts free text into numeric vectors. The same embedder must be
// used for every ingest and query against a collection.
type Embedder interface {
	Name() string
	// Dimension is zero until the first vector has been produced for remote models.
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Generator produces an answer to question using only the given context
// snippets, in rank order.
type Generator interface {
	Name() string
	Generate(ctx context.Context, question string, context []string) (string, error)
}
