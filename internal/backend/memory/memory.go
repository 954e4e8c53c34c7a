// Package memory provides an in-memory backend used by dry runs and tests.
// It has no shell, so it cannot be a deployment destination.
package memory

import (
	"github.com/spf13/afero"
	"github.com/vvka-141/atomdeploy/internal/backend/afs"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// Backend is an empty tree held in memory.
type Backend struct {
	*afs.Filesystem
}

var _ atomdeploy.Filesystem = (*Backend)(nil)

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{Filesystem: afs.New(afero.NewMemMapFs())}
}

func (b *Backend) String() string {
	return "memory"
}
