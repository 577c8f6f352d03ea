package domain

import "errors"

// Pipeline errors. Adapters wrap these with fmt.Errorf("%w: ...") so callers
// can classify failures with errors.Is.
var (
	// ErrUnsupportedFormat indicates a file extension outside .pdf, .txt and .md.
	ErrUnsupportedFormat = errors.New("unsupported file type")

	// ErrLoad indicates a document could not be read or parsed.
	ErrLoad = errors.New("load document")

	// ErrEmbedding indicates the embedding backend failed.
	ErrEmbedding = errors.New("embedding failed")

	// ErrStoreUnavailable indicates the vector index could not serve the call.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrGeneration indicates the LLM backend failed or returned an error status.
	ErrGeneration = errors.New("generation failed")

	// ErrInvalidConfig indicates a configuration that cannot work,
	// such as a chunk overlap that is not smaller than the chunk size.
	ErrInvalidConfig = errors.New("invalid configuration")
)
