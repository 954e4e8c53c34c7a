package local

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/alessio/shellescape"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// Shell runs commands through /bin/sh with the backend root as the base for
// every working directory.
type Shell struct {
	root   string
	logger atomdeploy.Logger
}

var _ atomdeploy.Shell = (*Shell)(nil)

// NewShell creates a shell whose paths resolve against root.
func NewShell(root string, logger atomdeploy.Logger) *Shell {
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &Shell{root: root, logger: logger}
}

func (s *Shell) ResolvePath(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(atomdeploy.JoinPath(p)))
}

func (s *Shell) Escape(argument string) string {
	return shellescape.Quote(argument)
}

// Exec runs command with args appended. The child inherits the environment
// of this process and runs until it exits; ctx is only checked before start.
func (s *Shell) Exec(ctx context.Context, command string, args []string, cwd string) (atomdeploy.ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return atomdeploy.ExecResult{}, err
	}

	line := atomdeploy.CommandLine(s, command, args)
	dir := s.ResolvePath(cwd)
	s.logger.Verbose("$ %s  (in %s)", line, dir)

	var stdout, stderr bytes.Buffer
	cmd := exec.Command("/bin/sh", "-c", line)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := atomdeploy.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return result, &atomdeploy.ShellExecutionError{Command: line, ExitCode: exitErr.ExitCode(), Stderr: result.Stderr}
	}
	return result, &atomdeploy.ShellExecutionError{Command: line, ExitCode: -1, Stderr: err.Error()}
}
