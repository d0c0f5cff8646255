package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *CLI) newOutdatedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outdated",
		Short: "List targets that would rebuild on the next run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outdated, err := c.app.Outdated(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(outdated) == 0 {
				_, _ = fmt.Fprintln(out, "all targets up to date")
				return nil
			}
			for _, name := range outdated {
				_, _ = fmt.Fprintln(out, name)
			}
			return nil
		},
	}
}
