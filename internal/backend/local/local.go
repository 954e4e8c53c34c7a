// Package local provides the backend for deployments to a directory on this machine.
package local

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/vvka-141/atomdeploy/internal/backend/afs"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// Backend is a directory on the local disk with a shell rooted at it.
type Backend struct {
	*afs.Filesystem
	root  string
	shell *Shell
}

var (
	_ atomdeploy.Filesystem    = (*Backend)(nil)
	_ atomdeploy.ShellProvider = (*Backend)(nil)
)

// New creates a backend rooted at root. Relative roots are made absolute
// against the working directory. The root must be an existing directory.
func New(root string, logger atomdeploy.Logger) (*Backend, error) {
	if logger == nil {
		panic("logger cannot be nil")
	}
	if root == "" {
		return nil, atomdeploy.NewConfigurationError("path", "local target requires a path")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, atomdeploy.NewConfigurationError("path", "cannot resolve %q: %v", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, atomdeploy.NewFilesystemError("open", abs, fmt.Errorf("%w: %v", atomdeploy.ErrNotFound, err))
	}
	if !info.IsDir() {
		return nil, atomdeploy.NewConfigurationError("path", "%s is not a directory", abs)
	}

	return &Backend{
		Filesystem: afs.New(afero.NewBasePathFs(afero.NewOsFs(), abs)),
		root:       abs,
		shell:      NewShell(abs, logger),
	}, nil
}

// Root returns the absolute directory the backend is rooted at.
func (b *Backend) Root() string {
	return b.root
}

// Shell returns the process shell rooted at the backend directory.
func (b *Backend) Shell() (atomdeploy.Shell, error) {
	return b.shell, nil
}

func (b *Backend) String() string {
	return "local:" + b.root
}
