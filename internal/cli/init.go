package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/vvka-141/atomdeploy/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init [target_path]",
	Short: "Write a starter atomdeploy.yaml",
	Long: `Init writes a starter configuration into the specified directory
(default: the current directory).

The starter deploys the directory itself to an SFTP host, excluding .git,
node_modules, .env and the configuration file. Edit the remote target
before the first deploy.

An existing atomdeploy.yaml is never overwritten.

Examples:
  atomdeploy init
  atomdeploy init ./mysite`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeDirectories,
	RunE:              runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	targetPath := "."
	if len(args) == 1 {
		targetPath = args[0]
	}

	absPath, err := filepath.Abs(targetPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	configPath := filepath.Join(absPath, config.ConfigFileName)

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists; remove it first to start over", configPath)
	}

	data, err := config.Render(config.Starter())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", absPath, err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", configPath, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Wrote %s\n\n", configPath)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Edit the remote target (host, username, key, path)")
	fmt.Fprintln(out, "  2. Preview the upload:  atomdeploy transfer project --dry-run")
	fmt.Fprintln(out, "  3. Deploy:              atomdeploy deploy")
	return nil
}
