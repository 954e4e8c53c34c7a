package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vvka-141/atomdeploy/internal/tasks"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Create and publish a new deployment",
	Long: `Deploy runs the deployment described under "deployment" in the configuration.

The deploy command:
1. Creates a new directory <directory>/<timestamp>-<id> on the destination
2. Copies the deployment transfer into it
3. Links the shared directories into it
4. Runs the configured commands inside it
5. Writes the success marker and switches the current link to it
6. Switches the additional links and removes old deployments

If any of steps 1-4 fails the current link is left untouched.

Examples:
  # Deploy using ./atomdeploy.yaml
  atomdeploy deploy

  # Deploy with a production overlay, skipping the confirmation prompt
  atomdeploy deploy -c atomdeploy.yaml -c production.yaml --force`,
	Args: cobra.NoArgs,
	RunE: runDeploy,
}

type deployFlagValues struct {
	force bool
}

var deployFlags deployFlagValues

func init() {
	rootCmd.AddCommand(deployCmd)

	deployCmd.Flags().BoolVar(&deployFlags.force, "force", false,
		"Skip the interactive confirmation for destinations with confirm: true\n"+
			"A short countdown is shown instead. Use for CI/CD pipelines")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	env, closeEnv, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer closeEnv()
	env.Approver = selectApprover(deployFlags.force)

	ctx, cancel := commandContext()
	defer cancel()

	name, err := tasks.Deploy(ctx, env)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), name)
	return nil
}
