package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"ragkb/internal/domain"
)

var (
	okLabel    = color.New(color.FgGreen, color.Bold).SprintFunc()
	errLabel   = color.New(color.FgRed, color.Bold).SprintFunc()
	titleStyle = color.New(color.FgCyan, color.Bold).SprintFunc()
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printIngestResult(w io.Writer, res domain.IngestResult) {
	if res.Status == domain.StatusSuccess {
		fmt.Fprintf(w, "  %s indexed %d chunks from %s\n", okLabel("[OK]"), res.Chunks, res.File)
		return
	}
	msg := res.Error
	if msg == "" {
		msg = "unknown error"
	}
	fmt.Fprintf(w, "  %s %s: %s\n", errLabel("[ERROR]"), res.File, msg)
}

// ingestReport prints results and returns an error when any file failed.
func ingestReport(w io.Writer, results []domain.IngestResult, asJSON bool) error {
	failed := 0
	for _, r := range results {
		if r.Status != domain.StatusSuccess {
			failed++
		}
	}
	if asJSON {
		if err := printJSON(w, results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			printIngestResult(w, r)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to ingest", failed, len(results))
	}
	return nil
}
