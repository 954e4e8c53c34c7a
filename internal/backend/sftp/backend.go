package sftp

import (
	"context"
	"path"

	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// Backend is a remote directory reached over SSH, with both a filesystem and a shell.
type Backend struct {
	*Filesystem
	conn   *Connection
	logger atomdeploy.Logger
}

var (
	_ atomdeploy.Filesystem    = (*Backend)(nil)
	_ atomdeploy.ShellProvider = (*Backend)(nil)
)

// New validates cfg and returns a backend that connects on first use.
func New(cfg Config, logger atomdeploy.Logger) (*Backend, error) {
	if logger == nil {
		panic("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn := NewConnection(cfg, logger)
	return &Backend{
		Filesystem: NewFilesystem(conn),
		conn:       conn,
		logger:     logger,
	}, nil
}

// Shell resolves the remote root, connecting if it is relative, and returns
// a shell bound to it.
func (b *Backend) Shell() (atomdeploy.Shell, error) {
	root, err := b.conn.Root(context.Background())
	if err != nil {
		return nil, err
	}
	return NewShell(b.conn, root, b.logger), nil
}

// Copy duplicates src to dst with a remote cp, avoiding a download and upload.
func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	srcRel, err := atomdeploy.NormalizePath(src)
	if err != nil {
		return atomdeploy.NewFilesystemError("copy", src, err)
	}
	dstRel, err := atomdeploy.NormalizePath(dst)
	if err != nil {
		return atomdeploy.NewFilesystemError("copy", dst, err)
	}

	sh, err := b.Shell()
	if err != nil {
		return err
	}
	if err := b.CreateDir(ctx, path.Dir(dstRel)); err != nil {
		return err
	}
	if _, err := sh.Exec(ctx, "cp -p", []string{sh.ResolvePath(srcRel), sh.ResolvePath(dstRel)}, ""); err != nil {
		return atomdeploy.NewFilesystemError("copy", srcRel, err)
	}
	return nil
}

// Close releases the SSH connection.
func (b *Backend) Close() error {
	return b.conn.Close()
}

func (b *Backend) String() string {
	return "sftp:" + b.conn.cfg.Username + "@" + b.conn.cfg.Address() + ":" + b.conn.cfg.Root
}
