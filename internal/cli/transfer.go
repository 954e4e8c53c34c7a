package cli

import (
	"github.com/spf13/cobra"
	"github.com/vvka-141/atomdeploy/internal/tasks"
)

var transferCmd = &cobra.Command{
	Use:   "transfer <transfer>",
	Short: "Copy files between two targets",
	Long: `Transfer runs one of the transfers defined under "transfers" in the configuration.

Files are selected with the transfer's filter patterns, matched against
paths relative to the source path with a leading slash (e.g. /vendor/autoload.php).
With filter_inverse the patterns exclude instead of include.

Examples:
  atomdeploy transfer project
  atomdeploy transfer project --dry-run -v`,
	Args:              RequireTransferName,
	ValidArgsFunction: completeTransferNames,
	RunE:              runTransfer,
}

type transferFlagValues struct {
	dryRun bool
}

var transferFlags transferFlagValues

func init() {
	rootCmd.AddCommand(transferCmd)

	transferCmd.Flags().BoolVar(&transferFlags.dryRun, "dry-run", false,
		"List the entries that would be copied without writing anything")
}

func runTransfer(cmd *cobra.Command, args []string) error {
	env, closeEnv, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer closeEnv()
	env.DryRun = transferFlags.dryRun

	ctx, cancel := commandContext()
	defer cancel()

	_, err = tasks.Transfer(ctx, env, args[0])
	return err
}
