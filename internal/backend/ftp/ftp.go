// Package ftp provides a filesystem-only backend over FTP. It has no shell,
// so it can receive transfers but cannot host atomic deployments.
package ftp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/vvka-141/atomdeploy/internal/retry"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// FTP reply codes for "file unavailable" style failures.
const (
	codeFileUnavailable = 550
	codeFileNameInvalid = 553
)

// Config describes how to reach an FTP server.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// Root is the directory every backend path is relative to. A relative
	// root is resolved against the login directory.
	Root string

	ExplicitTLS bool
	DisableEPSV bool
	DialTimeout time.Duration
}

// Validate checks that the configuration can be used to dial.
func (c Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, atomdeploy.NewConfigurationError("host", "is required"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, atomdeploy.NewConfigurationError("port", "%d is out of range", c.Port))
	}
	return errors.Join(errs...)
}

// Address returns host:port, defaulting to the FTP port.
func (c Config) Address() string {
	port := c.Port
	if port == 0 {
		port = atomdeploy.DefaultFTPPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Backend implements atomdeploy.Filesystem on one FTP control connection.
// Commands are serialized; an open ReadStream holds the connection until closed.
type Backend struct {
	cfg    Config
	logger atomdeploy.Logger
	dialer *retry.Executor

	mu   sync.Mutex
	conn *ftp.ServerConn
	root string
}

var _ atomdeploy.Filesystem = (*Backend)(nil)

// New validates cfg and returns a backend that connects on first use.
func New(cfg Config, logger atomdeploy.Logger) (*Backend, error) {
	if logger == nil {
		panic("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Username == "" {
		cfg.Username = "anonymous"
		cfg.Password = "anonymous"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = atomdeploy.DefaultDialTimeout
	}
	return &Backend{
		cfg:    cfg,
		logger: logger,
		dialer: retry.NewDialExecutor(logger, cfg.Address()),
	}, nil
}

func (b *Backend) String() string {
	return "ftp:" + b.cfg.Username + "@" + b.cfg.Address() + ":" + b.cfg.Root
}

// Close ends the FTP session.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Quit()
	b.conn = nil
	return err
}

func (b *Backend) connectLocked(ctx context.Context) error {
	if b.conn != nil {
		return nil
	}

	addr := b.cfg.Address()
	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(b.cfg.DialTimeout),
		ftp.DialWithDisabledEPSV(b.cfg.DisableEPSV),
	}
	if b.cfg.ExplicitTLS {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: b.cfg.Host, MinVersion: tls.VersionTLS12}))
	}

	b.logger.Verbose("Connecting to ftp://%s@%s", b.cfg.Username, addr)
	var conn *ftp.ServerConn
	err := b.dialer.Execute(ctx, func(ctx context.Context) error {
		c, err := ftp.Dial(addr, opts...)
		if err != nil {
			return err
		}
		if err := c.Login(b.cfg.Username, b.cfg.Password); err != nil {
			_ = c.Quit()
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: ftp %s: %w", atomdeploy.ErrConnectionFailed, addr, err)
	}

	root := b.cfg.Root
	if !path.IsAbs(root) {
		cwd, err := conn.CurrentDir()
		if err != nil {
			_ = conn.Quit()
			return fmt.Errorf("%w: resolve login directory: %w", atomdeploy.ErrConnectionFailed, err)
		}
		root = path.Join(cwd, root)
	}
	b.root = path.Clean(root)
	b.conn = conn
	return nil
}

// lock connects if needed and returns the normalized and remote forms of p.
// The caller must unlock b.mu.
func (b *Backend) lock(ctx context.Context, op, p string) (string, string, error) {
	rel, err := atomdeploy.NormalizePath(p)
	if err != nil {
		return "", "", atomdeploy.NewFilesystemError(op, p, err)
	}
	b.mu.Lock()
	if err := b.connectLocked(ctx); err != nil {
		b.mu.Unlock()
		return "", "", err
	}
	return rel, path.Join(b.root, rel), nil
}

// statLocked finds the entry for rel by listing its parent; the root always exists.
func (b *Backend) statLocked(rel string) (atomdeploy.FileEntry, bool, error) {
	if rel == "" {
		return atomdeploy.FileEntry{Type: atomdeploy.EntryDir}, true, nil
	}
	parent := path.Join(b.root, path.Dir(rel))
	entries, err := b.conn.List(parent)
	if err != nil {
		if isUnavailable(err) {
			return atomdeploy.FileEntry{}, false, nil
		}
		return atomdeploy.FileEntry{}, false, err
	}
	name := path.Base(rel)
	for _, e := range entries {
		if e.Name == name {
			return b.entryLocked(rel, e), true, nil
		}
	}
	return atomdeploy.FileEntry{}, false, nil
}

func (b *Backend) entryLocked(rel string, e *ftp.Entry) atomdeploy.FileEntry {
	switch e.Type {
	case ftp.EntryTypeFolder:
		return atomdeploy.FileEntry{Type: atomdeploy.EntryDir, Path: rel}
	case ftp.EntryTypeFile:
		return atomdeploy.FileEntry{Type: atomdeploy.EntryFile, Path: rel, Size: atomdeploy.SizePtr(int64(e.Size))}
	case ftp.EntryTypeLink:
		remote := path.Join(b.root, rel)
		if size, err := b.conn.FileSize(remote); err == nil {
			return atomdeploy.FileEntry{Type: atomdeploy.EntryFile, Path: rel, Size: atomdeploy.SizePtr(size), Link: true}
		}
		if _, err := b.conn.List(remote); err == nil {
			return atomdeploy.FileEntry{Type: atomdeploy.EntryDir, Path: rel, Link: true}
		}
		return atomdeploy.FileEntry{Type: atomdeploy.EntryOther, Path: rel, Link: true}
	}
	return atomdeploy.FileEntry{Type: atomdeploy.EntryOther, Path: rel}
}

func (b *Backend) Has(ctx context.Context, p string) (bool, error) {
	rel, _, err := b.lock(ctx, "has", p)
	if err != nil {
		return false, err
	}
	defer b.mu.Unlock()

	_, ok, err := b.statLocked(rel)
	if err != nil {
		return false, atomdeploy.NewFilesystemError("has", rel, err)
	}
	return ok, nil
}

func (b *Backend) ListContents(ctx context.Context, p string, recursive bool) ([]atomdeploy.FileEntry, error) {
	rel, _, err := b.lock(ctx, "list", p)
	if err != nil {
		return nil, err
	}
	defer b.mu.Unlock()

	entry, ok, err := b.statLocked(rel)
	if err != nil {
		return nil, atomdeploy.NewFilesystemError("list", rel, err)
	}
	if !ok {
		return nil, atomdeploy.NewFilesystemError("list", rel, atomdeploy.ErrNotFound)
	}
	if !entry.IsDir() {
		return nil, atomdeploy.NewFilesystemError("list", rel, fmt.Errorf("not a directory"))
	}

	var out []atomdeploy.FileEntry
	if err := b.listLocked(ctx, rel, recursive, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backend) listLocked(ctx context.Context, rel string, recursive bool, out *[]atomdeploy.FileEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := b.conn.List(path.Join(b.root, rel))
	if err != nil {
		return atomdeploy.NewFilesystemError("list", rel, translate(err))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		childRel := atomdeploy.JoinPath(rel, e.Name)
		entry := b.entryLocked(childRel, e)
		*out = append(*out, entry)
		if recursive && entry.IsDir() && !entry.Link {
			if err := b.listLocked(ctx, childRel, recursive, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Backend) GetMetadata(ctx context.Context, p string) (atomdeploy.FileEntry, error) {
	rel, _, err := b.lock(ctx, "metadata", p)
	if err != nil {
		return atomdeploy.FileEntry{}, err
	}
	defer b.mu.Unlock()

	entry, ok, err := b.statLocked(rel)
	if err != nil {
		return atomdeploy.FileEntry{}, atomdeploy.NewFilesystemError("metadata", rel, err)
	}
	if !ok {
		return atomdeploy.FileEntry{}, atomdeploy.NewFilesystemError("metadata", rel, atomdeploy.ErrNotFound)
	}
	return entry, nil
}

func (b *Backend) CreateDir(ctx context.Context, p string) error {
	rel, _, err := b.lock(ctx, "createDir", p)
	if err != nil {
		return err
	}
	defer b.mu.Unlock()
	return b.mkdirAllLocked(rel)
}

// mkdirAllLocked creates every missing segment of rel.
func (b *Backend) mkdirAllLocked(rel string) error {
	if rel == "" || rel == "." {
		return nil
	}
	entry, ok, err := b.statLocked(rel)
	if err != nil {
		return atomdeploy.NewFilesystemError("createDir", rel, err)
	}
	if ok {
		if !entry.IsDir() {
			return atomdeploy.NewFilesystemError("createDir", rel, atomdeploy.ErrExists)
		}
		return nil
	}
	if err := b.mkdirAllLocked(path.Dir(rel)); err != nil {
		return err
	}
	if err := b.conn.MakeDir(path.Join(b.root, rel)); err != nil {
		return atomdeploy.NewFilesystemError("createDir", rel, translate(err))
	}
	return nil
}

func (b *Backend) Write(ctx context.Context, p string, data []byte) error {
	return b.WriteStream(ctx, p, bytes.NewReader(data), true)
}

func (b *Backend) Delete(ctx context.Context, p string) error {
	rel, remote, err := b.lock(ctx, "delete", p)
	if err != nil {
		return err
	}
	defer b.mu.Unlock()

	if err := b.conn.Delete(remote); err != nil {
		return atomdeploy.NewFilesystemError("delete", rel, translate(err))
	}
	return nil
}

// Copy spools src to a temporary local file and uploads it to dst. FTP has
// no server-side copy and the control connection cannot read and write at once.
func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	r, err := b.ReadStream(ctx, src)
	if err != nil {
		return err
	}
	spool, err := os.CreateTemp("", "atomdeploy-ftp-*")
	if err != nil {
		r.Close()
		return atomdeploy.NewFilesystemError("copy", src, err)
	}
	defer os.Remove(spool.Name())
	defer spool.Close()

	_, copyErr := io.Copy(spool, r)
	if err := r.Close(); err != nil && copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		return atomdeploy.NewFilesystemError("copy", src, copyErr)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return atomdeploy.NewFilesystemError("copy", src, err)
	}
	return b.WriteStream(ctx, dst, spool, true)
}

// streamReader releases the connection when the transfer is closed.
type streamReader struct {
	resp *ftp.Response
	once sync.Once
	mu   *sync.Mutex
}

func (s *streamReader) Read(p []byte) (int, error) {
	return s.resp.Read(p)
}

func (s *streamReader) Close() error {
	err := s.resp.Close()
	s.once.Do(s.mu.Unlock)
	return err
}

func (b *Backend) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	rel, remote, err := b.lock(ctx, "read", p)
	if err != nil {
		return nil, err
	}
	resp, err := b.conn.Retr(remote)
	if err != nil {
		b.mu.Unlock()
		return nil, atomdeploy.NewFilesystemError("read", rel, translate(err))
	}
	return &streamReader{resp: resp, mu: &b.mu}, nil
}

func (b *Backend) WriteStream(ctx context.Context, p string, r io.Reader, overwrite bool) error {
	rel, remote, err := b.lock(ctx, "write", p)
	if err != nil {
		return err
	}
	defer b.mu.Unlock()

	if !overwrite {
		_, ok, err := b.statLocked(rel)
		if err != nil {
			return atomdeploy.NewFilesystemError("write", rel, err)
		}
		if ok {
			return atomdeploy.NewFilesystemError("write", rel, atomdeploy.ErrExists)
		}
	}
	if err := b.mkdirAllLocked(path.Dir(rel)); err != nil {
		return err
	}
	if err := b.conn.Stor(remote, r); err != nil {
		return atomdeploy.NewFilesystemError("write", rel, translate(err))
	}
	return nil
}

func isUnavailable(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && (protoErr.Code == codeFileUnavailable || protoErr.Code == codeFileNameInvalid)
}

func translate(err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%w: %v", atomdeploy.ErrNotFound, err)
	}
	return err
}
