package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ragkb/internal/domain"
)

func newQueryCmd(flags *GlobalFlags) *cobra.Command {
	var topK int
	var sources []string
	cmd := &cobra.Command{
		Use:   "query QUESTION",
		Short: "Ask a question against the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return fmt.Errorf("question is required")
			}
			return withApp(cmd, flags, func(a *app) error {
				res, err := a.pipeline.Query(cmd.Context(), domain.QueryRequest{
					Question:     question,
					TopK:         topK,
					SourceFilter: sources,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if flags.JSON {
					return printJSON(out, res)
				}
				fmt.Fprintln(out, titleStyle("Answer:"))
				fmt.Fprintln(out, res.Answer)
				if len(res.Sources) > 0 {
					fmt.Fprintln(out)
					fmt.Fprintln(out, titleStyle("Sources:"))
					for _, s := range res.Sources {
						fmt.Fprintf(out, "  - %s (%s)\n", s.Source, s.FilePath)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	cmd.Flags().StringSliceVarP(&sources, "source", "s", nil, "only search these source file names (repeatable)")
	return cmd
}
