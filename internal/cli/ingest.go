package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ragkb/internal/domain"
)

func newIngestCmd(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Ingest PDF, TXT or MD files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(a *app) error {
				results := make([]domain.IngestResult, 0, len(args))
				for _, path := range args {
					results = append(results, a.pipeline.Ingest(cmd.Context(), path))
				}
				return ingestReport(cmd.OutOrStdout(), results, flags.JSON)
			})
		},
	}
}

func newIndexDirCmd(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "index-dir [DIR]",
		Short: "Ingest every supported file in a directory (default: the docs directory)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(a *app) error {
				dir := a.cfg.Ingest.DocsDir
				if len(args) == 1 {
					dir = args[0]
				}
				out := cmd.OutOrStdout()
				results, err := a.pipeline.IngestDir(cmd.Context(), dir)
				if err != nil {
					return err
				}
				if len(results) == 0 && !flags.JSON {
					fmt.Fprintf(out, "No documents found in %s\nSupported formats: PDF, TXT, MD\n", dir)
					return nil
				}
				if !flags.JSON {
					fmt.Fprintf(out, "Found %d document(s) to index...\n", len(results))
				}
				reportErr := ingestReport(out, results, flags.JSON)
				if !flags.JSON {
					if stats, err := a.pipeline.Stats(cmd.Context()); err == nil {
						fmt.Fprintf(out, "%s Total chunks in knowledge base: %d\n", titleStyle("Indexing complete."), stats.Count)
					}
				}
				return reportErr
			})
		},
	}
}
