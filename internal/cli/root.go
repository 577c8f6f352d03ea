package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// GlobalFlags holds flags shared across all commands.
type GlobalFlags struct {
	ConfigPath string
	JSON       bool
}

// NewRootCmd builds the ragkb command tree.
func NewRootCmd() *cobra.Command {
	var flags GlobalFlags
	root := &cobra.Command{
		Use:           "ragkb",
		Short:         "Retrieval-augmented question answering over your documents",
		Long:          "ragkb ingests PDF, TXT and MD files into a vector index and answers questions from them with an LLM.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file path (default: ./config.yaml or ~/.config/ragkb/config.yaml)")
	root.PersistentFlags().BoolVar(&flags.JSON, "json", false, "print results as JSON")

	root.AddCommand(
		newServeCmd(&flags),
		newIngestCmd(&flags),
		newIndexDirCmd(&flags),
		newQueryCmd(&flags),
		newStatsCmd(&flags),
		newResetCmd(&flags),
	)
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// withApp opens the app for one command run and closes it afterwards.
func withApp(cmd *cobra.Command, flags *GlobalFlags, fn func(*app) error) error {
	a, err := newApp(cmd.Context(), flags.ConfigPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
