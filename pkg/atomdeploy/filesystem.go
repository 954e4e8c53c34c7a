package atomdeploy

import (
	"context"
	"io"
	"path"
	"strings"
)

// EntryType distinguishes files from directories in listings.
type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "dir"

	// EntryOther covers sockets, devices and dangling links. Transfers reject it.
	EntryOther EntryType = "other"
)

// FileEntry is one item of a directory listing.
//
// Path is relative to the backend root, slash separated, with no leading or
// trailing slash. The empty path denotes the root itself. Size is nil for
// directories and for backends that cannot report it. Link marks an entry
// reached through a symbolic link; Type then describes the link target.
type FileEntry struct {
	Type EntryType
	Path string
	Size *int64
	Link bool
}

// IsDir reports whether the entry is a directory.
func (e FileEntry) IsDir() bool { return e.Type == EntryDir }

// SizeOr returns the entry size, or def when the size is unknown.
func (e FileEntry) SizeOr(def int64) int64 {
	if e.Size == nil {
		return def
	}
	return *e.Size
}

// Basename returns the last element of the entry path.
func (e FileEntry) Basename() string {
	if e.Path == "" {
		return ""
	}
	return path.Base(e.Path)
}

// SizePtr returns a pointer to n, for building entries.
func SizePtr(n int64) *int64 { return &n }

// Filesystem is the storage capability every backend provides.
// All paths are interpreted relative to the backend root.
type Filesystem interface {
	// Has reports whether a file or directory exists at path.
	Has(ctx context.Context, path string) (bool, error)

	// ListContents lists the children of path, and their descendants when recursive is set.
	ListContents(ctx context.Context, path string, recursive bool) ([]FileEntry, error)

	// GetMetadata describes the entry at path.
	GetMetadata(ctx context.Context, path string) (FileEntry, error)

	// CreateDir creates path and any missing parents. It succeeds if path is already a directory.
	CreateDir(ctx context.Context, path string) error

	// Write creates or replaces the file at path with data.
	Write(ctx context.Context, path string, data []byte) error

	// Delete removes the file at path.
	Delete(ctx context.Context, path string) error

	// Copy duplicates src to dst within the same backend.
	Copy(ctx context.Context, src, dst string) error

	// ReadStream opens the file at path for reading. The caller closes it.
	ReadStream(ctx context.Context, path string) (io.ReadCloser, error)

	// WriteStream stores r at path. Without overwrite an existing file is an ErrExists failure.
	WriteStream(ctx context.Context, path string, r io.Reader, overwrite bool) error
}

// ExecResult carries the captured output of a command.
type ExecResult struct {
	Stdout string
	Stderr string
}

// Shell runs commands next to a Filesystem.
type Shell interface {
	// ResolvePath maps a backend-relative path to the absolute form the shell understands.
	ResolvePath(path string) string

	// Escape quotes argument as a literal for the backend's command interpreter.
	Escape(argument string) string

	// Exec runs command followed by the escaped args with the working directory set to
	// ResolvePath(cwd). A non-zero exit yields a *ShellExecutionError.
	Exec(ctx context.Context, command string, args []string, cwd string) (ExecResult, error)
}

// CommandLine appends the arguments, escaped by sh, to command. The command
// itself is passed verbatim so it may contain pipes or redirections.
func CommandLine(sh Shell, command string, args []string) string {
	if len(args) == 0 {
		return command
	}
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, command)
	for _, arg := range args {
		parts = append(parts, sh.Escape(arg))
	}
	return strings.Join(parts, " ")
}

// ShellProvider is implemented by backends that can run commands (local and SFTP, not FTP).
type ShellProvider interface {
	Shell() (Shell, error)
}

// NormalizePath cleans p into the canonical backend-relative form: slash separated,
// no leading or trailing slash, "" for the root. Paths that climb above the root
// with ".." fail with ErrPathOutsideBase.
func NormalizePath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" {
		return "", nil
	}
	cleaned := path.Clean("/" + p)
	// Clean resolves ".." against the virtual root, so compare segments first.
	depth := 0
	for _, segment := range strings.Split(p, "/") {
		switch segment {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return "", &FilesystemError{Op: "normalize", Path: p, Err: ErrPathOutsideBase}
			}
		default:
			depth++
		}
	}
	return strings.Trim(cleaned, "/"), nil
}

// JoinPath joins backend-relative path elements and normalizes the result.
func JoinPath(elem ...string) string {
	joined := path.Join(elem...)
	normalized, err := NormalizePath(joined)
	if err != nil {
		return strings.Trim(joined, "/")
	}
	return normalized
}
