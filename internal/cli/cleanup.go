package cli

import (
	"github.com/spf13/cobra"
	"github.com/vvka-141/atomdeploy/internal/tasks"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old deployments",
	Long: `Cleanup applies the retention policy of the deployment configuration.

Successful and failed deployments are counted separately against
keep_successful and keep_failed. The deployment the current link points to
is never removed.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	env, closeEnv, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer closeEnv()

	ctx, cancel := commandContext()
	defer cancel()

	return tasks.Cleanup(ctx, env)
}
