package atomdeploy

import "context"

// Approver handles user interaction before publishing to a protected destination.
//
// Implementations:
//   - ForcedApprover: Shows countdown and automatically approves
//   - InteractiveApprover: Prompts user to type the destination name for confirmation
type Approver interface {
	// RequestApproval prompts for confirmation before deploying to destination.
	//
	// Returns true if approved, false if denied, and any error that occurred
	// while prompting.
	RequestApproval(ctx context.Context, destination string) (bool, error)
}
