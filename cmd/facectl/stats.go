package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show identity catalog totals and the most recently seen identities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := c.store.Stats(cmd.Context(), domain.RecentIdentitiesLimit)
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			out := cmd.OutOrStdout()
			if c.asJSON {
				return writeJSON(out, stats)
			}

			fmt.Fprintf(out, "Identities: %d\n", stats.TotalIdentities)
			fmt.Fprintf(out, "Detections: %d\n", stats.TotalDetections)
			if len(stats.RecentIdentities) > 0 {
				fmt.Fprintln(out, "\nRecently seen:")
				printIdentities(out, stats.RecentIdentities)
			}
			return nil
		},
	}
}
