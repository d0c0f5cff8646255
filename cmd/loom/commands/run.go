package commands

import (
	"github.com/loomworks/loom/internal/app"
	"github.com/spf13/cobra"
)

func runOptionsFromFlags(cmd *cobra.Command) app.RunOptions {
	noCache, _ := cmd.Flags().GetBool("no-cache")
	jobs, _ := cmd.Flags().GetInt("jobs")
	backend, _ := cmd.Flags().GetString("backend")
	verbose, _ := cmd.Flags().GetBool("verbose")

	return app.RunOptions{
		NoCache: noCache,
		Jobs:    jobs,
		Backend: backend,
		Verbose: verbose,
	}
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("no-cache", "n", false, "Bypass the fingerprint cache and rebuild everything")
	cmd.Flags().IntP("jobs", "j", 0, "Maximum number of targets built in parallel (default: number of CPUs)")
	cmd.Flags().StringP("backend", "b", app.BackendLocal, "Execution backend: local or pool")
	cmd.Flags().BoolP("verbose", "v", false, "Report every target start and finish")
}

func (c *CLI) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [targets...]",
		Short: "Build the specified targets and their dependencies",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				// Display command usage help without returning an error
				_ = cmd.Help()
				return nil
			}
			return c.app.Run(cmd.Context(), args, runOptionsFromFlags(cmd))
		},
	}
	addRunFlags(cmd)
	return cmd
}
