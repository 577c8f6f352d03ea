package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"ragkb/internal/chunker"
	"ragkb/internal/domain"
)

// KnowledgeBase is what the handlers need from the pipeline.
type KnowledgeBase interface {
	Ingest(ctx context.Context, path string) domain.IngestResult
	Query(ctx context.Context, req domain.QueryRequest) (domain.QueryResult, error)
	Stats(ctx context.Context) (domain.Stats, error)
	Reset(ctx context.Context) error
}

type Handler struct {
	kb      KnowledgeBase
	docsDir string
}

func NewHandler(kb KnowledgeBase, docsDir string) *Handler {
	return &Handler{kb: kb, docsDir: docsDir}
}

type queryRequest struct {
	Question     string   `json:"question"`
	TopK         int      `json:"top_k"`
	SourceFilter []string `json:"source_filter"`
}

type queryResponse struct {
	Question string          `json:"question"`
	Answer   string          `json:"answer"`
	Sources  []domain.Source `json:"sources"`
}

func (h *Handler) Health(c *gin.Context) {
	RespondOK(c, gin.H{"status": "ok"})
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.kb.Stats(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		RespondError(c, http.StatusInternalServerError, errorCode(err), err)
		return
	}
	RespondOK(c, stats)
}

// Ingest saves the uploaded file under the docs directory and ingests it.
// The extension is checked before anything is written.
func (h *Handler) Ingest(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "missing_file", fmt.Errorf("multipart field \"file\" is required: %w", err))
		return
	}
	name := filepath.Base(filepath.Clean("/" + file.Filename))
	if name == "/" || name == "." || !chunker.Supported(name) {
		RespondError(c, http.StatusBadRequest, "unsupported_file_type", errors.New("unsupported file type, use PDF, TXT, or MD"))
		return
	}
	if err := os.MkdirAll(h.docsDir, 0o755); err != nil {
		_ = c.Error(err)
		RespondError(c, http.StatusInternalServerError, "save_failed", err)
		return
	}
	dst := filepath.Join(h.docsDir, name)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		_ = c.Error(err)
		RespondError(c, http.StatusInternalServerError, "save_failed", err)
		return
	}
	RespondOK(c, h.kb.Ingest(c.Request.Context(), dst))
}

func (h *Handler) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("question is required"))
		return
	}
	res, err := h.kb.Query(c.Request.Context(), domain.QueryRequest{
		Question:     req.Question,
		TopK:         req.TopK,
		SourceFilter: req.SourceFilter,
	})
	if err != nil {
		_ = c.Error(err)
		RespondError(c, http.StatusInternalServerError, errorCode(err), err)
		return
	}
	RespondOK(c, queryResponse{Question: res.Question, Answer: res.Answer, Sources: res.Sources})
}

func (h *Handler) Reset(c *gin.Context) {
	if err := h.kb.Reset(c.Request.Context()); err != nil {
		_ = c.Error(err)
		RespondError(c, http.StatusInternalServerError, errorCode(err), err)
		return
	}
	RespondOK(c, gin.H{"status": domain.StatusSuccess})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmbedding):
		return "embedding_failed"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, domain.ErrInvalidConfig):
		return "invalid_config"
	default:
		return "internal"
	}
}
