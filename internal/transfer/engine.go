// Package transfer copies filtered file trees between two atomdeploy.Filesystem
// backends and reports weighted progress.
//
// Entries are copied strictly one after another. The first failure aborts the
// transfer; nothing is retried or rolled back, so callers re-run the whole
// transfer, typically into a freshly created deployment directory.
package transfer

import (
	"context"
	"fmt"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/vvka-141/atomdeploy/internal/logging"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// Hooks are optional callbacks around the phases of a transfer.
type Hooks struct {
	BeforeListing func()
	AfterListing  func(entries []atomdeploy.FileEntry, filesTotal int, bytesTotal int64)
	BeforeEntry   func(entry atomdeploy.FileEntry, destination string)
	AfterEntry    func(entry atomdeploy.FileEntry, destination string)
}

// Engine runs transfers. It holds no state between calls.
type Engine struct {
	logger   atomdeploy.Logger
	progress atomdeploy.ProgressFunc
	hooks    Hooks
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for listing summaries and per-entry lines.
func WithLogger(logger atomdeploy.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithProgress sets the callback that receives a snapshot before the first
// entry and after every entry.
func WithProgress(fn atomdeploy.ProgressFunc) Option {
	return func(e *Engine) {
		e.progress = fn
	}
}

// WithHooks sets lifecycle callbacks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) {
		e.hooks = h
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger: logging.NewNullLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Plan lists the entries a transfer of spec would copy: the root entry first,
// then the filtered contents of the root when it is a directory.
func (e *Engine) Plan(ctx context.Context, spec atomdeploy.TransferSpec) ([]atomdeploy.FileEntry, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	filter, err := NewFilter(spec.FilterPatterns, spec.FilterInverse)
	if err != nil {
		return nil, err
	}
	base, _ := atomdeploy.NormalizePath(spec.SourcePath)

	root := atomdeploy.FileEntry{Type: atomdeploy.EntryDir, Path: ""}
	if base != "" {
		root, err = spec.Source.GetMetadata(ctx, base)
		if err != nil {
			return nil, err
		}
	}

	entries := []atomdeploy.FileEntry{root}
	if !root.IsDir() {
		return entries, nil
	}

	// With no patterns the filter decision is the same for every entry.
	if len(spec.FilterPatterns) == 0 {
		if !spec.FilterInverse {
			return entries, nil
		}
		all, err := spec.Source.ListContents(ctx, base, spec.Recursive)
		if err != nil {
			return nil, err
		}
		return append(entries, all...), nil
	}

	if err := e.walk(ctx, spec.Source, filter, base, base, spec.Recursive, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// walk lists dir one level at a time so excluded directories are never
// descended into. Linked directories are listed but not entered.
func (e *Engine) walk(ctx context.Context, src atomdeploy.Filesystem, filter *Filter, base, dir string, recursive bool, out *[]atomdeploy.FileEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	children, err := src.ListContents(ctx, dir, false)
	if err != nil {
		return err
	}
	for _, child := range children {
		rel, err := relative(child.Path, base)
		if err != nil {
			return err
		}
		if !filter.Includes(rel, child.IsDir()) {
			continue
		}
		*out = append(*out, child)
		if recursive && child.IsDir() && !child.Link {
			if err := e.walk(ctx, src, filter, base, child.Path, recursive, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// Transfer copies every planned entry and returns the final progress.
func (e *Engine) Transfer(ctx context.Context, spec atomdeploy.TransferSpec) (atomdeploy.Progress, error) {
	started := e.now()

	e.logger.Info("Locating files to transfer...")
	if e.hooks.BeforeListing != nil {
		e.hooks.BeforeListing()
	}

	entries, err := e.Plan(ctx, spec)
	if err != nil {
		return atomdeploy.Progress{}, err
	}

	var progress atomdeploy.Progress
	progress.FilesTotal = len(entries)
	for _, entry := range entries {
		progress.BytesTotal += entry.SizeOr(0)
	}

	e.logger.Info("Found %d files with a total size of %s.", progress.FilesTotal, FormatSize(progress.BytesTotal))
	if e.hooks.AfterListing != nil {
		e.hooks.AfterListing(entries, progress.FilesTotal, progress.BytesTotal)
	}
	e.emit(progress)

	base, _ := atomdeploy.NormalizePath(spec.SourcePath)
	destBase, _ := atomdeploy.NormalizePath(spec.DestinationPath)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return progress, err
		}

		dest, err := rebase(entry.Path, base, destBase)
		if err != nil {
			return progress, err
		}

		e.logger.Verbose("(%.1f%%) /%s", progress.Fraction()*100, entry.Path)
		if e.hooks.BeforeEntry != nil {
			e.hooks.BeforeEntry(entry, dest)
		}
		if err := e.copyEntry(ctx, spec, entry, dest); err != nil {
			return progress, err
		}
		if e.hooks.AfterEntry != nil {
			e.hooks.AfterEntry(entry, dest)
		}

		progress.FilesTransferred++
		progress.BytesTransferred += entry.SizeOr(0)
		e.emit(progress)
	}

	e.logger.Info("Completed transfer of %d files (%s) in %.1f seconds.",
		progress.FilesTotal, FormatSize(progress.BytesTotal), e.now().Sub(started).Seconds())
	return progress, nil
}

func (e *Engine) emit(p atomdeploy.Progress) {
	if e.progress != nil {
		e.progress(p)
	}
}

func (e *Engine) copyEntry(ctx context.Context, spec atomdeploy.TransferSpec, entry atomdeploy.FileEntry, dest string) error {
	switch entry.Type {
	case atomdeploy.EntryDir:
		return createDirectory(ctx, spec.Destination, dest, spec.OverwriteEmptyDirectories, spec.OverwriteNonEmptyDirectories)
	case atomdeploy.EntryFile:
		return copyFile(ctx, spec.Source, entry.Path, spec.Destination, dest, spec.OverwriteFiles)
	default:
		return atomdeploy.NewFilesystemError("transfer", entry.Path,
			fmt.Errorf("%w: %q", atomdeploy.ErrUnsupportedEntry, entry.Type))
	}
}

// createDirectory applies the directory overwrite policy. The destination
// root always counts as existing.
func createDirectory(ctx context.Context, fsys atomdeploy.Filesystem, dir string, overwriteEmpty, overwriteNonEmpty bool) error {
	isRoot := dir == ""
	exists := isRoot
	if !isRoot {
		ok, err := fsys.Has(ctx, dir)
		if err != nil {
			return err
		}
		exists = ok
	}

	if exists && !overwriteNonEmpty {
		if !overwriteEmpty {
			return atomdeploy.NewFilesystemError("createDir", dir,
				fmt.Errorf("%w: directory already exists", atomdeploy.ErrDestinationNotWritable))
		}
		contents, err := fsys.ListContents(ctx, dir, false)
		if err != nil {
			return err
		}
		if len(contents) > 0 {
			return atomdeploy.NewFilesystemError("createDir", dir,
				fmt.Errorf("%w: directory already exists and is not empty", atomdeploy.ErrDestinationNotWritable))
		}
	}

	if isRoot {
		return nil
	}
	return fsys.CreateDir(ctx, dir)
}

// copyFile uses the backend's own copy when both sides are the same instance
// and streams between backends otherwise.
func copyFile(ctx context.Context, from atomdeploy.Filesystem, fromPath string, to atomdeploy.Filesystem, toPath string, overwrite bool) error {
	if from == to {
		exists, err := to.Has(ctx, toPath)
		if err != nil {
			return err
		}
		if exists {
			if !overwrite {
				return atomdeploy.NewFilesystemError("copy", toPath, atomdeploy.ErrExists)
			}
			if err := to.Delete(ctx, toPath); err != nil {
				return err
			}
		}
		return from.Copy(ctx, fromPath, toPath)
	}

	r, err := from.ReadStream(ctx, fromPath)
	if err != nil {
		return err
	}
	defer r.Close()
	return to.WriteStream(ctx, toPath, r, overwrite)
}

// relative returns p relative to base, failing when p is not below base.
func relative(p, base string) (string, error) {
	if base == "" {
		return p, nil
	}
	if p == base {
		return "", nil
	}
	if !strings.HasPrefix(p, base+"/") {
		return "", atomdeploy.NewFilesystemError("rebase", p,
			fmt.Errorf("%w: %q is not below %q", atomdeploy.ErrPathOutsideBase, p, base))
	}
	return strings.TrimPrefix(p, base+"/"), nil
}

// rebase maps a source path below base onto the same relative path below destBase.
func rebase(p, base, destBase string) (string, error) {
	rel, err := relative(p, base)
	if err != nil {
		return "", err
	}
	return atomdeploy.JoinPath(destBase, rel), nil
}

// FormatSize renders a byte count for humans, e.g. "1.5MB".
func FormatSize(n int64) string {
	return units.HumanSize(float64(n))
}
