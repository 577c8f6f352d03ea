package chunker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"ragkb/internal/domain"
)

// SupportedExtensions lists the document types Load understands.
var SupportedExtensions = []string{".pdf", ".txt", ".md"}

// Supported reports whether path has an extension Load can read.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Load returns the text content of the document at path.
func Load(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		return loadPDF(path)
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrLoad, err)
		}
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: %s is not valid UTF-8", domain.ErrLoad, filepath.Base(path))
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, ext)
	}
}

// loadPDF joins the plain text of every page with newlines. A failing page
// fails the whole document.
func loadPDF(path string) (text string, err error) {
	// the pdf reader panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %s: %v", domain.ErrLoad, filepath.Base(path), r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrLoad, err)
	}
	defer f.Close()

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", domain.ErrLoad, i, err)
		}
		pages = append(pages, content)
	}
	return strings.Join(pages, "\n"), nil
}

// Process loads the document at path and chunks it, tagging every chunk with
// the file name, full path and extension.
func (c *WordChunker) Process(path string) ([]domain.Chunk, error) {
	text, err := Load(path)
	if err != nil {
		return nil, err
	}
	meta := domain.Metadata{
		Source:   filepath.Base(path),
		FilePath: path,
		FileType: strings.ToLower(filepath.Ext(path)),
	}
	return c.Chunk(text, meta), nil
}
