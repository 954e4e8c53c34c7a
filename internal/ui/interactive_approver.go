package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// InteractiveApprover implements the Approver interface for console-based
// interactive confirmation. It prompts the user to type the destination name
// before a deployment is published there.
type InteractiveApprover struct {
	verbose bool
	input   io.Reader
	output  io.Writer
}

// NewInteractiveApprover creates a new InteractiveApprover reading stdin.
func NewInteractiveApprover(verbose bool) atomdeploy.Approver {
	return &InteractiveApprover{
		verbose: verbose,
		input:   os.Stdin,
		output:  os.Stderr,
	}
}

// RequestApproval prompts the user to type the destination name to confirm.
func (a *InteractiveApprover) RequestApproval(ctx context.Context, destination string) (bool, error) {
	fmt.Fprintf(a.output, "\n%s\n", WarningStyle.Render(fmt.Sprintf("WARNING: You are about to publish a new deployment to '%s'", destination)))
	fmt.Fprintln(a.output, "The live site will switch to the new deployment as soon as it is prepared.")
	fmt.Fprintf(a.output, "\nTo confirm, type the destination name '%s' and press Enter: ", destination)

	// Read user input with context cancellation support
	inputChan := make(chan string, 1)
	errChan := make(chan error, 1)

	go func() {
		reader := bufio.NewReader(a.input)
		input, err := reader.ReadString('\n')
		if err != nil && !(err == io.EOF && input != "") {
			errChan <- err
			return
		}
		inputChan <- strings.TrimSpace(input)
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-errChan:
		return false, fmt.Errorf("failed to read input: %w", err)
	case input := <-inputChan:
		if input == destination {
			fmt.Fprintf(a.output, "%s Confirmed. Proceeding with deployment...\n", SymbolCheck)
			return true, nil
		}
		fmt.Fprintf(a.output, "%s Input '%s' does not match destination name '%s'. Deployment cancelled.\n", SymbolCross, input, destination)
		return false, nil
	}
}

var _ atomdeploy.Approver = (*InteractiveApprover)(nil)
