package atomdeploy

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure scenarios.
// These enable callers to distinguish error types using errors.Is().
//
// Example usage:
//
//	_, err := coordinator.Deploy(ctx, prepare, finalize)
//	if errors.Is(err, atomdeploy.ErrShellExecution) {
//	    // A remote command exited non-zero
//	}
var (
	// ErrInvalidConfig indicates the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrFilesystem is the class of every listing, read, write, delete and create failure.
	ErrFilesystem = errors.New("filesystem error")

	// ErrShellExecution indicates a local or remote command exited with a non-zero status.
	ErrShellExecution = errors.New("shell execution failed")

	// ErrDestinationNotWritable indicates the overwrite policy forbids writing to an existing path.
	ErrDestinationNotWritable = errors.New("destination not writable")

	// ErrExists indicates a create-only write found an existing file.
	ErrExists = errors.New("already exists")

	// ErrNotFound indicates the path does not exist on the backend.
	ErrNotFound = errors.New("not found")

	// ErrPathOutsideBase indicates a path escapes the backend root or the transfer base.
	ErrPathOutsideBase = errors.New("path outside base")

	// ErrUnsupportedEntry indicates an entry that is neither a file nor a directory.
	ErrUnsupportedEntry = errors.New("unsupported entry type")

	// ErrConnectionFailed indicates a remote backend could not be reached or authenticated.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrApprovalDenied indicates the user denied approval for the operation.
	ErrApprovalDenied = errors.New("approval denied")

	// ErrTaskNotFound indicates the requested task or task type is not registered.
	ErrTaskNotFound = errors.New("task not found")
)

// ConfigurationError describes one invalid option.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Is reports ConfigurationError as ErrInvalidConfig.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// FilesystemError wraps a backend failure with the operation and path involved.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %q failed", e.Op, e.Path)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// Is reports FilesystemError as ErrFilesystem in addition to its cause.
func (e *FilesystemError) Is(target error) bool {
	return target == ErrFilesystem
}

// NewFilesystemError wraps err unless it is already a FilesystemError.
func NewFilesystemError(op, path string, err error) error {
	var fsErr *FilesystemError
	if errors.As(err, &fsErr) {
		return err
	}
	return &FilesystemError{Op: op, Path: path, Err: err}
}

// ShellExecutionError is returned when a command exits with a non-zero status.
type ShellExecutionError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ShellExecutionError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("command `%s` exited with status code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("command `%s` exited with status code %d: %s", e.Command, e.ExitCode, msg)
}

// Is reports ShellExecutionError as ErrShellExecution.
func (e *ShellExecutionError) Is(target error) bool {
	return target == ErrShellExecution
}

// usageErrorFragments are the message prefixes cobra uses for argument and flag misuse.
var usageErrorFragments = []string{
	"missing required argument",
	"unknown flag",
	"unknown shorthand flag",
	"unknown command",
	"accepts ",
	"requires at least",
	"requires at most",
	"required flag",
	"invalid argument",
	"flag needs an argument",
}

// ExitCodeForError returns the appropriate exit code for an error.
// Returns ExitSuccess (0) for nil errors, semantic codes for known errors,
// and ExitGeneralError (1) for unclassified errors.
func ExitCodeForError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch {
	case errors.Is(err, ErrInvalidConfig):
		return ExitConfigError
	case errors.Is(err, ErrConnectionFailed):
		return ExitConnectionError
	case errors.Is(err, ErrApprovalDenied):
		return ExitApprovalDenied
	case errors.Is(err, ErrShellExecution):
		return ExitShellFailed
	case errors.Is(err, ErrFilesystem):
		return ExitFilesystemError
	case errors.Is(err, ErrTaskNotFound):
		return ExitTaskNotFound
	}

	errStr := err.Error()
	for _, fragment := range usageErrorFragments {
		if strings.HasPrefix(errStr, fragment) {
			return ExitUsageError
		}
	}

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "unable to authenticate") {
		return ExitConnectionError
	}

	return ExitGeneralError
}
