package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/vvka-141/atomdeploy/internal/atomic"
	"github.com/vvka-141/atomdeploy/internal/tasks"
	"github.com/vvka-141/atomdeploy/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List deployments on the destination",
	Long: `List shows the deployments on the destination, newest first.

Each deployment is marked as successful or failed; the one the current
link points to is highlighted.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	env, closeEnv, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer closeEnv()

	ctx, cancel := commandContext()
	defer cancel()

	deployments, err := tasks.List(ctx, env)
	if err != nil {
		return err
	}
	printDeployments(cmd.OutOrStdout(), env.Config.Deployment.Destination, deployments)
	return nil
}

func printDeployments(out io.Writer, destination string, deployments []atomic.Deployment) {
	fmt.Fprintln(out, ui.TitleStyle.Render(fmt.Sprintf("Deployments on %s", destination)))
	if len(deployments) == 0 {
		fmt.Fprintln(out, ui.MutedStyle.Render("  (none)"))
		return
	}

	for _, d := range deployments {
		status := ui.SuccessStyle.Render(ui.SymbolCheck)
		if !d.Successful {
			status = ui.ErrorStyle.Render(ui.SymbolCross)
		}

		if d.Current {
			fmt.Fprintf(out, "%s %s %s\n", ui.CurrentStyle.Render(ui.SymbolArrowRight), status, ui.CurrentStyle.Render(d.Name+" (current)"))
		} else {
			fmt.Fprintf(out, "  %s %s\n", status, d.Name)
		}
	}
}
