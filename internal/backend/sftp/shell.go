package sftp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/alessio/shellescape"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
	"golang.org/x/crypto/ssh"
)

// Shell runs commands on the remote host, one SSH session per command.
// No PTY is requested so login banners never mix into the output.
type Shell struct {
	conn   *Connection
	root   string
	logger atomdeploy.Logger
}

var _ atomdeploy.Shell = (*Shell)(nil)

// NewShell creates a shell whose paths resolve against the absolute root.
func NewShell(conn *Connection, root string, logger atomdeploy.Logger) *Shell {
	if conn == nil {
		panic("connection cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &Shell{conn: conn, root: root, logger: logger}
}

func (s *Shell) ResolvePath(p string) string {
	return resolve(s.root, p)
}

func (s *Shell) Escape(argument string) string {
	return shellescape.Quote(argument)
}

func (s *Shell) Exec(ctx context.Context, command string, args []string, cwd string) (atomdeploy.ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return atomdeploy.ExecResult{}, err
	}

	line := atomdeploy.CommandLine(s, command, args)
	remote := s.remoteCommand(line, cwd)
	s.logger.Verbose("ssh $ %s", remote)

	client, err := s.conn.SSH(ctx)
	if err != nil {
		return atomdeploy.ExecResult{}, err
	}
	session, err := client.NewSession()
	if err != nil {
		return atomdeploy.ExecResult{}, fmt.Errorf("%w: open ssh session: %w", atomdeploy.ErrConnectionFailed, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(remote)
	result := atomdeploy.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return result, &atomdeploy.ShellExecutionError{Command: line, ExitCode: exitErr.ExitStatus(), Stderr: result.Stderr}
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return result, &atomdeploy.ShellExecutionError{Command: line, ExitCode: -1, Stderr: result.Stderr}
	}
	return result, fmt.Errorf("%w: run %q: %w", atomdeploy.ErrConnectionFailed, line, err)
}

// remoteCommand prefixes line with a change into the resolved working directory.
func (s *Shell) remoteCommand(line, cwd string) string {
	return "cd " + s.Escape(s.ResolvePath(cwd)) + " && " + line
}

// resolve joins a backend-relative path onto an absolute remote root.
func resolve(root, p string) string {
	rel := atomdeploy.JoinPath(p)
	if root == "" {
		root = "/"
	}
	return path.Join(root, rel)
}
