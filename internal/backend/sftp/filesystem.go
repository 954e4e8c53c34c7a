package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/pkg/sftp"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// Filesystem implements atomdeploy.Filesystem over the SFTP subsystem.
type Filesystem struct {
	conn *Connection
}

var _ atomdeploy.Filesystem = (*Filesystem)(nil)

// NewFilesystem creates a Filesystem on conn.
func NewFilesystem(conn *Connection) *Filesystem {
	if conn == nil {
		panic("connection cannot be nil")
	}
	return &Filesystem{conn: conn}
}

// open returns the client together with the normalized and remote forms of p.
func (f *Filesystem) open(ctx context.Context, op, p string) (*sftp.Client, string, string, error) {
	rel, err := atomdeploy.NormalizePath(p)
	if err != nil {
		return nil, "", "", atomdeploy.NewFilesystemError(op, p, err)
	}
	client, err := f.conn.SFTP(ctx)
	if err != nil {
		return nil, "", "", err
	}
	root, err := f.conn.Root(ctx)
	if err != nil {
		return nil, "", "", err
	}
	return client, rel, resolve(root, rel), nil
}

func (f *Filesystem) Has(ctx context.Context, p string) (bool, error) {
	client, rel, remote, err := f.open(ctx, "has", p)
	if err != nil {
		return false, err
	}
	if _, err := client.Stat(remote); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, atomdeploy.NewFilesystemError("has", rel, err)
	}
	return true, nil
}

func (f *Filesystem) ListContents(ctx context.Context, p string, recursive bool) ([]atomdeploy.FileEntry, error) {
	client, rel, remote, err := f.open(ctx, "list", p)
	if err != nil {
		return nil, err
	}
	info, err := client.Stat(remote)
	if err != nil {
		return nil, atomdeploy.NewFilesystemError("list", rel, translate(err))
	}
	if !info.IsDir() {
		return nil, atomdeploy.NewFilesystemError("list", rel, fmt.Errorf("not a directory"))
	}

	var entries []atomdeploy.FileEntry
	if err := f.list(ctx, client, rel, remote, recursive, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (f *Filesystem) list(ctx context.Context, client *sftp.Client, rel, remote string, recursive bool, out *[]atomdeploy.FileEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	infos, err := client.ReadDir(remote)
	if err != nil {
		return atomdeploy.NewFilesystemError("list", rel, translate(err))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	for _, info := range infos {
		childRel := atomdeploy.JoinPath(rel, info.Name())
		childRemote := path.Join(remote, info.Name())
		entry := entryFor(client, childRel, childRemote, info)
		*out = append(*out, entry)
		if recursive && entry.IsDir() && !entry.Link {
			if err := f.list(ctx, client, childRel, childRemote, recursive, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func entryFor(client *sftp.Client, rel, remote string, info os.FileInfo) atomdeploy.FileEntry {
	link := info.Mode()&os.ModeSymlink != 0
	if link {
		target, err := client.Stat(remote)
		if err != nil {
			return atomdeploy.FileEntry{Type: atomdeploy.EntryOther, Path: rel, Link: true}
		}
		info = target
	}
	entry := atomdeploy.FileEntry{Type: atomdeploy.EntryOther, Path: rel, Link: link}
	switch {
	case info.IsDir():
		entry.Type = atomdeploy.EntryDir
	case info.Mode().IsRegular():
		entry.Type = atomdeploy.EntryFile
		entry.Size = atomdeploy.SizePtr(info.Size())
	}
	return entry
}

func (f *Filesystem) GetMetadata(ctx context.Context, p string) (atomdeploy.FileEntry, error) {
	client, rel, remote, err := f.open(ctx, "metadata", p)
	if err != nil {
		return atomdeploy.FileEntry{}, err
	}
	info, err := client.Stat(remote)
	if err != nil {
		return atomdeploy.FileEntry{}, atomdeploy.NewFilesystemError("metadata", rel, translate(err))
	}
	return entryFor(client, rel, remote, info), nil
}

func (f *Filesystem) CreateDir(ctx context.Context, p string) error {
	client, rel, remote, err := f.open(ctx, "createDir", p)
	if err != nil {
		return err
	}
	if err := client.MkdirAll(remote); err != nil {
		return atomdeploy.NewFilesystemError("createDir", rel, translate(err))
	}
	return nil
}

func (f *Filesystem) Write(ctx context.Context, p string, data []byte) error {
	client, rel, remote, err := f.open(ctx, "write", p)
	if err != nil {
		return err
	}
	if err := client.MkdirAll(path.Dir(remote)); err != nil {
		return atomdeploy.NewFilesystemError("write", rel, translate(err))
	}
	file, err := client.Create(remote)
	if err != nil {
		return atomdeploy.NewFilesystemError("write", rel, translate(err))
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return atomdeploy.NewFilesystemError("write", rel, err)
	}
	if err := file.Close(); err != nil {
		return atomdeploy.NewFilesystemError("write", rel, err)
	}
	return nil
}

func (f *Filesystem) Delete(ctx context.Context, p string) error {
	client, rel, remote, err := f.open(ctx, "delete", p)
	if err != nil {
		return err
	}
	if err := client.Remove(remote); err != nil {
		return atomdeploy.NewFilesystemError("delete", rel, translate(err))
	}
	return nil
}

// Copy downloads src and uploads it to dst over the same session.
func (f *Filesystem) Copy(ctx context.Context, src, dst string) error {
	r, err := f.ReadStream(ctx, src)
	if err != nil {
		return err
	}
	defer r.Close()
	return f.WriteStream(ctx, dst, r, true)
}

func (f *Filesystem) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	client, rel, remote, err := f.open(ctx, "read", p)
	if err != nil {
		return nil, err
	}
	file, err := client.Open(remote)
	if err != nil {
		return nil, atomdeploy.NewFilesystemError("read", rel, translate(err))
	}
	return file, nil
}

func (f *Filesystem) WriteStream(ctx context.Context, p string, r io.Reader, overwrite bool) error {
	client, rel, remote, err := f.open(ctx, "write", p)
	if err != nil {
		return err
	}
	if err := client.MkdirAll(path.Dir(remote)); err != nil {
		return atomdeploy.NewFilesystemError("write", rel, translate(err))
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		// Servers report O_EXCL conflicts as a generic failure, so check first.
		if _, err := client.Stat(remote); err == nil {
			return atomdeploy.NewFilesystemError("write", rel, atomdeploy.ErrExists)
		}
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}

	file, err := client.OpenFile(remote, flags)
	if err != nil {
		return atomdeploy.NewFilesystemError("write", rel, translate(err))
	}
	if _, err := file.ReadFrom(r); err != nil {
		file.Close()
		return atomdeploy.NewFilesystemError("write", rel, err)
	}
	if err := file.Close(); err != nil {
		return atomdeploy.NewFilesystemError("write", rel, err)
	}
	return nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", atomdeploy.ErrNotFound, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %v", atomdeploy.ErrExists, err)
	default:
		return err
	}
}
