package cli

import (
	"github.com/spf13/cobra"
	"github.com/vvka-141/atomdeploy/internal/config"
	"github.com/vvka-141/atomdeploy/internal/tasks"
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run a configured task",
	Long: `Run executes one of the tasks defined under "tasks" in the configuration.

Task types:
  deploy    - Create, fill, publish and clean up a deployment
  transfer  - Copy files between two targets
  exec      - Run a command on a target with a shell
  cleanup   - Remove old deployments according to the retention policy

Without an argument the task named "default" is run.

Examples:
  atomdeploy run
  atomdeploy run migrate
  atomdeploy run default --force -c atomdeploy.yaml -c production.yaml`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeTaskNames,
	RunE:              runRun,
}

type runFlagValues struct {
	force bool
}

var runFlags runFlagValues

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runFlags.force, "force", false,
		"Skip the interactive confirmation for destinations with confirm: true\n"+
			"A short countdown is shown instead")
}

func runRun(cmd *cobra.Command, args []string) error {
	name := config.DefaultTaskName
	if len(args) == 1 {
		name = args[0]
	}

	env, closeEnv, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer closeEnv()
	env.Approver = selectApprover(runFlags.force)

	ctx, cancel := commandContext()
	defer cancel()

	return tasks.Run(ctx, env, name)
}
