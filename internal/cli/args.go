package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RequireTransferName validates that exactly one transfer name argument is provided.
// Returns a helpful error message with usage and examples if missing or too many.
func RequireTransferName(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf(`missing required argument: <transfer>

Usage: %s

Example:
  %s project --dry-run`, cmd.UseLine(), cmd.CommandPath())
	}
	if len(args) > 1 {
		return fmt.Errorf("accepts 1 arg(s), received %d", len(args))
	}
	return nil
}
