package atomdeploy

import "time"

// Exit codes for semantic error classification.
// These follow Unix/GNU conventions:
//   - 0: Success
//   - 1: General error
//   - 2: CLI usage error (misuse of command line)
//   - 3+: Application-specific errors
const (
	ExitSuccess         = 0  // Task completed successfully
	ExitGeneralError    = 1  // Unknown or unclassified error
	ExitUsageError      = 2  // CLI usage error (missing args, invalid flags)
	ExitPanic           = 3  // Internal panic (unexpected crash)
	ExitConfigError     = 10 // Invalid configuration
	ExitConnectionError = 11 // Failed to connect to a remote backend
	ExitApprovalDenied  = 12 // User denied deployment approval
	ExitShellFailed     = 13 // Local or remote command exited non-zero
	ExitFilesystemError = 14 // Listing, read, write or delete failed
	ExitTaskNotFound    = 15 // Unknown task name or task type
)

const (
	// DefaultDirectory holds every deployment, current, old and failed.
	DefaultDirectory = "deployments"

	// DefaultCurrentLink is the symlink that points at the live deployment.
	DefaultCurrentLink = "current"

	// DefaultSuccessFile marks a deployment whose prepare phase completed.
	DefaultSuccessFile = ".deployment-successful"

	// DeploymentNameTimeFormat is the sortable prefix of generated deployment names.
	DeploymentNameTimeFormat = "2006.01.02-15.04.05"

	// DefaultSSHPort and DefaultFTPPort are used when a target omits its port.
	DefaultSSHPort = 22
	DefaultFTPPort = 21

	// DefaultDialTimeout bounds a single connection attempt to a remote backend.
	// Commands and transfers themselves have no timeout.
	DefaultDialTimeout = 15 * time.Second

	// DefaultRetryInitialDelay is the default initial delay before the first dial retry.
	DefaultRetryInitialDelay = 250 * time.Millisecond

	// DefaultRetryMaxDelay is the default maximum delay between dial retries.
	DefaultRetryMaxDelay = 10 * time.Second

	// DefaultRetryMaxAttempts is the default number of dial retries.
	DefaultRetryMaxAttempts = 3

	// DefaultForceApprovalCountdown is the countdown duration before force approval proceeds.
	DefaultForceApprovalCountdown = 5 * time.Second

	// ProgressFileWeight is the share of the progress fraction driven by the file count.
	// Filesystem operations cost time even for empty files, so bytes alone understate
	// transfers of many small files.
	ProgressFileWeight = 0.3

	// ProgressByteWeight is the share of the progress fraction driven by transferred bytes.
	ProgressByteWeight = 0.7

	// ProgressCeiling caps the fraction until every counter reaches its total.
	ProgressCeiling = 0.999
)
