package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge base statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(a *app) error {
				stats, err := a.pipeline.Stats(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if flags.JSON {
					return printJSON(out, stats)
				}
				fmt.Fprintf(out, "Collection: %s\n", stats.CollectionName)
				fmt.Fprintf(out, "Chunks:     %d\n", stats.Count)
				fmt.Fprintf(out, "Sources:    %d\n", len(stats.Sources))
				for _, s := range stats.Sources {
					fmt.Fprintf(out, "  - %s\n", s)
				}
				return nil
			})
		},
	}
}

func newResetCmd(flags *GlobalFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every chunk in the collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("reset deletes the whole collection; pass --yes to confirm")
			}
			return withApp(cmd, flags, func(a *app) error {
				if err := a.pipeline.Reset(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s collection %s is empty\n", okLabel("[OK]"), a.store.Collection())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
