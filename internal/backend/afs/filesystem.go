// Package afs implements atomdeploy.Filesystem on top of an afero.Fs.
//
// The local backend wraps the OS filesystem in an afero.BasePathFs and the
// memory backend uses an afero.MemMapFs; both share this implementation so
// they behave identically in transfers and tests.
package afs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/spf13/afero"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Filesystem adapts an afero.Fs to atomdeploy.Filesystem.
type Filesystem struct {
	fs afero.Fs
}

var _ atomdeploy.Filesystem = (*Filesystem)(nil)

// New creates a Filesystem over fsys.
// Panics if fsys is nil.
func New(fsys afero.Fs) *Filesystem {
	if fsys == nil {
		panic("fs cannot be nil")
	}
	return &Filesystem{fs: fsys}
}

// Afero exposes the underlying afero.Fs.
func (f *Filesystem) Afero() afero.Fs {
	return f.fs
}

// name converts a backend-relative path into the rooted form afero expects.
func (f *Filesystem) name(op, p string) (string, string, error) {
	rel, err := atomdeploy.NormalizePath(p)
	if err != nil {
		return "", "", atomdeploy.NewFilesystemError(op, p, err)
	}
	return rel, "/" + rel, nil
}

func (f *Filesystem) Has(ctx context.Context, p string) (bool, error) {
	_, name, err := f.name("has", p)
	if err != nil {
		return false, err
	}
	ok, err := afero.Exists(f.fs, name)
	if err != nil {
		return false, atomdeploy.NewFilesystemError("has", p, err)
	}
	return ok, nil
}

func (f *Filesystem) ListContents(ctx context.Context, p string, recursive bool) ([]atomdeploy.FileEntry, error) {
	rel, name, err := f.name("list", p)
	if err != nil {
		return nil, err
	}

	info, err := f.fs.Stat(name)
	if err != nil {
		return nil, atomdeploy.NewFilesystemError("list", rel, translate(err))
	}
	if !info.IsDir() {
		return nil, atomdeploy.NewFilesystemError("list", rel, fmt.Errorf("not a directory"))
	}

	var entries []atomdeploy.FileEntry
	if err := f.list(ctx, rel, recursive, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (f *Filesystem) list(ctx context.Context, rel string, recursive bool, out *[]atomdeploy.FileEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	infos, err := afero.ReadDir(f.fs, "/"+rel)
	if err != nil {
		return atomdeploy.NewFilesystemError("list", rel, translate(err))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	for _, info := range infos {
		child := atomdeploy.JoinPath(rel, info.Name())
		entry := f.entry(child, info)
		*out = append(*out, entry)
		if recursive && entry.IsDir() && !entry.Link {
			if err := f.list(ctx, child, recursive, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// entry classifies info, following symbolic links to their target.
func (f *Filesystem) entry(rel string, info os.FileInfo) atomdeploy.FileEntry {
	link := info.Mode()&os.ModeSymlink != 0
	if link {
		target, err := f.fs.Stat("/" + rel)
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
	rel, name, err := f.name("metadata", p)
	if err != nil {
		return atomdeploy.FileEntry{}, err
	}
	info, err := f.fs.Stat(name)
	if err != nil {
		return atomdeploy.FileEntry{}, atomdeploy.NewFilesystemError("metadata", rel, translate(err))
	}
	return f.entry(rel, info), nil
}

func (f *Filesystem) CreateDir(ctx context.Context, p string) error {
	rel, name, err := f.name("createDir", p)
	if err != nil {
		return err
	}
	if err := f.fs.MkdirAll(name, dirPerm); err != nil {
		return atomdeploy.NewFilesystemError("createDir", rel, translate(err))
	}
	return nil
}

func (f *Filesystem) Write(ctx context.Context, p string, data []byte) error {
	rel, name, err := f.name("write", p)
	if err != nil {
		return err
	}
	if err := f.fs.MkdirAll(path.Dir(name), dirPerm); err != nil {
		return atomdeploy.NewFilesystemError("write", rel, translate(err))
	}
	if err := afero.WriteFile(f.fs, name, data, filePerm); err != nil {
		return atomdeploy.NewFilesystemError("write", rel, translate(err))
	}
	return nil
}

func (f *Filesystem) Delete(ctx context.Context, p string) error {
	rel, name, err := f.name("delete", p)
	if err != nil {
		return err
	}
	if err := f.fs.Remove(name); err != nil {
		return atomdeploy.NewFilesystemError("delete", rel, translate(err))
	}
	return nil
}

func (f *Filesystem) Copy(ctx context.Context, src, dst string) error {
	r, err := f.ReadStream(ctx, src)
	if err != nil {
		return err
	}
	defer r.Close()
	return f.WriteStream(ctx, dst, r, true)
}

func (f *Filesystem) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	rel, name, err := f.name("read", p)
	if err != nil {
		return nil, err
	}
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, atomdeploy.NewFilesystemError("read", rel, translate(err))
	}
	return file, nil
}

func (f *Filesystem) WriteStream(ctx context.Context, p string, r io.Reader, overwrite bool) error {
	rel, name, err := f.name("write", p)
	if err != nil {
		return err
	}
	if err := f.fs.MkdirAll(path.Dir(name), dirPerm); err != nil {
		return atomdeploy.NewFilesystemError("write", rel, translate(err))
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		if exists, err := afero.Exists(f.fs, name); err != nil {
			return atomdeploy.NewFilesystemError("write", rel, translate(err))
		} else if exists {
			return atomdeploy.NewFilesystemError("write", rel, atomdeploy.ErrExists)
		}
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	file, err := f.fs.OpenFile(name, flags, filePerm)
	if err != nil {
		return atomdeploy.NewFilesystemError("write", rel, translate(err))
	}

	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		return atomdeploy.NewFilesystemError("write", rel, err)
	}
	if err := file.Close(); err != nil {
		return atomdeploy.NewFilesystemError("write", rel, err)
	}
	return nil
}

// translate maps afero and os errors onto the atomdeploy sentinels while keeping the cause.
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
