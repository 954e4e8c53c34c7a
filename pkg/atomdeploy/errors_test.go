package atomdeploy_test

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, atomdeploy.ExitSuccess},
		{"unknown flag", errors.New("unknown flag: --foo"), atomdeploy.ExitUsageError},
		{"unknown shorthand flag", errors.New("unknown shorthand flag: 'x' in -x"), atomdeploy.ExitUsageError},
		{"accepts args", errors.New("accepts 1 arg(s), received 0"), atomdeploy.ExitUsageError},
		{"general error", errors.New("something went wrong"), atomdeploy.ExitGeneralError},
		{"configuration", &atomdeploy.ConfigurationError{Field: "directory", Reason: "contains a slash"}, atomdeploy.ExitConfigError},
		{"wrapped configuration", fmt.Errorf("load: %w", atomdeploy.ErrInvalidConfig), atomdeploy.ExitConfigError},
		{"connection", fmt.Errorf("dial: %w", atomdeploy.ErrConnectionFailed), atomdeploy.ExitConnectionError},
		{"connection refused text", errors.New("dial tcp 127.0.0.1:22: connect: connection refused"), atomdeploy.ExitConnectionError},
		{"approval", atomdeploy.ErrApprovalDenied, atomdeploy.ExitApprovalDenied},
		{"shell", &atomdeploy.ShellExecutionError{Command: "false", ExitCode: 1}, atomdeploy.ExitShellFailed},
		{"filesystem", &atomdeploy.FilesystemError{Op: "write", Path: "a.txt", Err: fs.ErrPermission}, atomdeploy.ExitFilesystemError},
		{"task", fmt.Errorf("task %q: %w", "nope", atomdeploy.ErrTaskNotFound), atomdeploy.ExitTaskNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, atomdeploy.ExitCodeForError(tt.err))
		})
	}
}

func TestFilesystemError_UnwrapsCause(t *testing.T) {
	err := atomdeploy.NewFilesystemError("createDir", "deployments/x", atomdeploy.ErrDestinationNotWritable)

	require.ErrorIs(t, err, atomdeploy.ErrFilesystem)
	require.ErrorIs(t, err, atomdeploy.ErrDestinationNotWritable)
	assert.Contains(t, err.Error(), "deployments/x")
}

func TestNewFilesystemError_DoesNotDoubleWrap(t *testing.T) {
	inner := &atomdeploy.FilesystemError{Op: "read", Path: "a", Err: atomdeploy.ErrNotFound}
	err := atomdeploy.NewFilesystemError("copy", "b", inner)

	var fsErr *atomdeploy.FilesystemError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, "read", fsErr.Op)
}

func TestShellExecutionError_CarriesExitCode(t *testing.T) {
	err := error(&atomdeploy.ShellExecutionError{Command: "rm -r x", ExitCode: 2, Stderr: "rm: x: No such file\n"})

	var shErr *atomdeploy.ShellExecutionError
	require.ErrorAs(t, err, &shErr)
	assert.Equal(t, 2, shErr.ExitCode)
	assert.ErrorIs(t, err, atomdeploy.ErrShellExecution)
	assert.Equal(t, "command `rm -r x` exited with status code 2: rm: x: No such file", err.Error())
}

func TestConfigurationError_Message(t *testing.T) {
	err := atomdeploy.NewConfigurationError("current_link", "may not contain %q", "/")
	assert.Equal(t, `invalid configuration: current_link: may not contain "/"`, err.Error())
	assert.ErrorIs(t, err, atomdeploy.ErrInvalidConfig)
}
