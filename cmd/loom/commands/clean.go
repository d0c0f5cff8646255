package commands

import (
	"github.com/loomworks/loom/internal/app"
	"github.com/spf13/cobra"
)

func (c *CLI) newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove the fingerprint cache and archived outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			blobs, _ := cmd.Flags().GetBool("blobs")
			all, _ := cmd.Flags().GetBool("all")

			opts := app.CleanOptions{}
			switch {
			case all:
				opts.Entries = true
				opts.Blobs = true
			case blobs:
				opts.Blobs = true
			default:
				// Default behavior: clean the whole store
				opts.Entries = true
			}

			return c.app.Clean(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolP("blobs", "b", false, "Remove only the archived output blobs")
	cmd.Flags().BoolP("all", "a", false, "Remove entries and blobs")

	return cmd
}
