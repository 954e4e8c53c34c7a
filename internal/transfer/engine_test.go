package transfer

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vvka-141/atomdeploy/internal/backend/local"
	"github.com/vvka-141/atomdeploy/internal/backend/memory"
	"github.com/vvka-141/atomdeploy/internal/logging"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// seed writes files into a fresh memory backend; keys ending in "/" become directories.
func seed(t *testing.T, files map[string]string) *memory.Backend {
	t.Helper()
	b := memory.New()
	ctx := context.Background()
	for p, content := range files {
		if p[len(p)-1] == '/' {
			require.NoError(t, b.CreateDir(ctx, p))
			continue
		}
		require.NoError(t, b.Write(ctx, p, []byte(content)))
	}
	return b
}

func readAll(t *testing.T, fsys atomdeploy.Filesystem, p string) string {
	t.Helper()
	r, err := fsys.ReadStream(context.Background(), p)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func paths(entries []atomdeploy.FileEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

var project = map[string]string{
	"index.php":             "<?php",
	"src/app.php":           "app",
	"vendor/autoload.php":   "autoload",
	"vendor/lib/helper.php": "helper",
}

func TestPlan_InverseFilterExcludesVendor(t *testing.T) {
	src := seed(t, project)
	spec := atomdeploy.TransferSpec{
		Source:         src,
		Destination:    memory.New(),
		FilterPatterns: []string{`^/vendor/`},
		FilterInverse:  true,
		Recursive:      true,
	}

	entries, err := New().Plan(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "index.php", "src", "src/app.php"}, paths(entries))
}

func TestPlan_IncludeFilterKeepsOnlyVendorDirectory(t *testing.T) {
	src := seed(t, project)
	spec := atomdeploy.TransferSpec{
		Source:         src,
		Destination:    memory.New(),
		FilterPatterns: []string{`^/vendor/`},
		Recursive:      true,
	}

	entries, err := New().Plan(context.Background(), spec)
	require.NoError(t, err)
	// Children of vendor are "/vendor/autoload.php", which the pattern also matches.
	assert.Equal(t, []string{"", "vendor", "vendor/autoload.php", "vendor/lib", "vendor/lib/helper.php"}, paths(entries))
}

func TestPlan_NoPatterns(t *testing.T) {
	src := seed(t, project)
	ctx := context.Background()

	entries, err := New().Plan(ctx, atomdeploy.TransferSpec{Source: src, Destination: memory.New(), Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{""}, paths(entries), "include mode without patterns selects nothing but the root")

	entries, err = New().Plan(ctx, atomdeploy.TransferSpec{Source: src, Destination: memory.New(), Recursive: true, FilterInverse: true})
	require.NoError(t, err)
	assert.Len(t, entries, 8)
}

func TestPlan_NonRecursive(t *testing.T) {
	src := seed(t, project)
	entries, err := New().Plan(context.Background(), atomdeploy.TransferSpec{
		Source:         src,
		Destination:    memory.New(),
		FilterPatterns: []string{`^/vendor/`},
		FilterInverse:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"", "index.php", "src"}, paths(entries))
}

func TestPlan_SourcePathIsFile(t *testing.T) {
	src := seed(t, project)
	entries, err := New().Plan(context.Background(), atomdeploy.TransferSpec{
		Source:        src,
		SourcePath:    "src/app.php",
		Destination:   memory.New(),
		FilterInverse: true,
		Recursive:     true,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, atomdeploy.EntryFile, entries[0].Type)
}

func TestPlan_MissingSourcePath(t *testing.T) {
	_, err := New().Plan(context.Background(), atomdeploy.TransferSpec{
		Source:      memory.New(),
		SourcePath:  "nope",
		Destination: memory.New(),
	})
	assert.ErrorIs(t, err, atomdeploy.ErrNotFound)
}

func TestPlan_InvalidSpec(t *testing.T) {
	_, err := New().Plan(context.Background(), atomdeploy.TransferSpec{SourcePath: "../up"})
	require.ErrorIs(t, err, atomdeploy.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "source")
	assert.Contains(t, err.Error(), "destination")
}

func TestTransfer_CopiesFilteredTreeBelowDestinationPath(t *testing.T) {
	src := seed(t, project)
	dst := seed(t, map[string]string{"deployments/20240101/": ""})

	var out bytes.Buffer
	engine := New(WithLogger(logging.NewWriterLogger(&out, true)))
	progress, err := engine.Transfer(context.Background(), atomdeploy.TransferSpec{
		Source:                    src,
		Destination:               dst,
		DestinationPath:           "deployments/20240101",
		FilterPatterns:            []string{`^/vendor/`},
		FilterInverse:             true,
		Recursive:                 true,
		OverwriteEmptyDirectories: true,
	})
	require.NoError(t, err)

	ctx := context.Background()
	assert.Equal(t, "<?php", readAll(t, dst, "deployments/20240101/index.php"))
	assert.Equal(t, "app", readAll(t, dst, "deployments/20240101/src/app.php"))
	has, err := dst.Has(ctx, "deployments/20240101/vendor")
	require.NoError(t, err)
	assert.False(t, has)

	assert.True(t, progress.Done())
	assert.Equal(t, 4, progress.FilesTotal)
	assert.Equal(t, int64(len("<?php")+len("app")), progress.BytesTotal)

	log := out.String()
	assert.Contains(t, log, "Locating files to transfer...")
	assert.Contains(t, log, "Found 4 files with a total size of 8B.")
	assert.Contains(t, log, "(0.0%) /")
	assert.Contains(t, log, "/src/app.php")
	assert.Contains(t, log, "Completed transfer of 4 files (8B)")
}

func TestTransfer_ProgressIsMonotonic(t *testing.T) {
	src := seed(t, project)
	var snapshots []atomdeploy.Progress
	engine := New(WithProgress(func(p atomdeploy.Progress) { snapshots = append(snapshots, p) }))

	final, err := engine.Transfer(context.Background(), atomdeploy.TransferSpec{
		Source:                    src,
		Destination:               memory.New(),
		FilterInverse:             true,
		Recursive:                 true,
		OverwriteEmptyDirectories: true,
	})
	require.NoError(t, err)

	require.Len(t, snapshots, final.FilesTotal+1)
	assert.Zero(t, snapshots[0].FilesTransferred)
	for i := 1; i < len(snapshots); i++ {
		assert.GreaterOrEqual(t, snapshots[i].Fraction(), snapshots[i-1].Fraction())
		assert.Equal(t, i, snapshots[i].FilesTransferred)
	}
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, final, last)
	assert.Equal(t, last.FilesTotal, last.FilesTransferred)
	assert.Equal(t, last.BytesTotal, last.BytesTransferred)
	assert.Equal(t, 1.0, last.Fraction())
}

func TestTransfer_HooksSeeEveryEntry(t *testing.T) {
	src := seed(t, map[string]string{"a.txt": "a", "b/c.txt": "cc"})
	var (
		listed       bool
		listedTotal  int
		listedBytes  int64
		before       []string
		after        []string
		destinations []string
	)
	engine := New(WithHooks(Hooks{
		BeforeListing: func() { listed = true },
		AfterListing: func(_ []atomdeploy.FileEntry, files int, bytes int64) {
			listedTotal, listedBytes = files, bytes
		},
		BeforeEntry: func(e atomdeploy.FileEntry, dest string) {
			before = append(before, e.Path)
			destinations = append(destinations, dest)
		},
		AfterEntry: func(e atomdeploy.FileEntry, _ string) { after = append(after, e.Path) },
	}))

	_, err := engine.Transfer(context.Background(), atomdeploy.TransferSpec{
		Source:                    src,
		Destination:               memory.New(),
		DestinationPath:           "out",
		FilterInverse:             true,
		Recursive:                 true,
		OverwriteEmptyDirectories: true,
	})
	require.NoError(t, err)

	assert.True(t, listed)
	assert.Equal(t, 4, listedTotal)
	assert.Equal(t, int64(3), listedBytes)
	assert.Equal(t, []string{"", "a.txt", "b", "b/c.txt"}, before)
	assert.Equal(t, before, after)
	assert.Equal(t, []string{"out", "out/a.txt", "out/b", "out/b/c.txt"}, destinations)
}

func TestTransfer_DirectoryOverwritePolicy(t *testing.T) {
	src := seed(t, map[string]string{"site/index.html": "new"})

	tests := []struct {
		name              string
		existing          map[string]string
		overwriteEmpty    bool
		overwriteNonEmpty bool
		wantErr           bool
	}{
		{"missing directory is created", map[string]string{"keep.txt": "x"}, false, false, false},
		{"existing empty directory refused", map[string]string{"site/": ""}, false, false, true},
		{"existing empty directory allowed", map[string]string{"site/": ""}, true, false, false},
		{"existing non-empty directory refused", map[string]string{"site/old.html": "old"}, true, false, true},
		{"existing non-empty directory allowed", map[string]string{"site/old.html": "old"}, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := seed(t, tt.existing)
			_, err := New().Transfer(context.Background(), atomdeploy.TransferSpec{
				Source:                       src,
				SourcePath:                   "site",
				Destination:                  dst,
				DestinationPath:              "site",
				FilterInverse:                true,
				Recursive:                    true,
				OverwriteEmptyDirectories:    tt.overwriteEmpty,
				OverwriteNonEmptyDirectories: tt.overwriteNonEmpty,
			})
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "new", readAll(t, dst, "site/index.html"))
				return
			}
			require.ErrorIs(t, err, atomdeploy.ErrDestinationNotWritable)
			assert.ErrorIs(t, err, atomdeploy.ErrFilesystem)
			has, herr := dst.Has(context.Background(), "site/index.html")
			require.NoError(t, herr)
			assert.False(t, has, "a refused transfer leaves the destination untouched")
		})
	}
}

func TestTransfer_RootDestinationCountsAsExisting(t *testing.T) {
	src := seed(t, map[string]string{"a.txt": "a"})
	_, err := New().Transfer(context.Background(), atomdeploy.TransferSpec{
		Source:        src,
		Destination:   memory.New(),
		FilterInverse: true,
		Recursive:     true,
	})
	assert.ErrorIs(t, err, atomdeploy.ErrDestinationNotWritable)
}

func TestTransfer_ExistingFileWithoutOverwrite(t *testing.T) {
	src := seed(t, map[string]string{"a.txt": "new"})
	dst := seed(t, map[string]string{"a.txt": "old"})

	_, err := New().Transfer(context.Background(), atomdeploy.TransferSpec{
		Source:                       src,
		Destination:                  dst,
		FilterInverse:                true,
		Recursive:                    true,
		OverwriteNonEmptyDirectories: true,
	})
	require.ErrorIs(t, err, atomdeploy.ErrExists)
	assert.Equal(t, "old", readAll(t, dst, "a.txt"))

	_, err = New().Transfer(context.Background(), atomdeploy.TransferSpec{
		Source:                       src,
		Destination:                  dst,
		FilterInverse:                true,
		Recursive:                    true,
		OverwriteFiles:               true,
		OverwriteNonEmptyDirectories: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "new", readAll(t, dst, "a.txt"))
}

func TestTransfer_SameInstanceUsesBackendCopy(t *testing.T) {
	b := seed(t, map[string]string{"release/app.php": "v2", "current/app.php": "v1"})
	spec := atomdeploy.TransferSpec{
		Source:                       b,
		SourcePath:                   "release",
		Destination:                  b,
		DestinationPath:              "current",
		FilterInverse:                true,
		Recursive:                    true,
		OverwriteNonEmptyDirectories: true,
	}

	_, err := New().Transfer(context.Background(), spec)
	require.ErrorIs(t, err, atomdeploy.ErrExists)

	spec.OverwriteFiles = true
	_, err = New().Transfer(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "v2", readAll(t, b, "current/app.php"))
	assert.Equal(t, "v2", readAll(t, b, "release/app.php"))
}

func TestTransfer_LocalToMemoryAndBack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "nested", "deep.txt"), []byte("deep"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "top.txt"), []byte("top"), 0o644))

	src, err := local.New(dir, logging.NewNullLogger())
	require.NoError(t, err)
	mem := memory.New()

	_, err = New().Transfer(context.Background(), atomdeploy.TransferSpec{
		Source:          src,
		SourcePath:      "src",
		Destination:     mem,
		DestinationPath: "copy",
		FilterInverse:   true,
		Recursive:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, "deep", readAll(t, mem, "copy/nested/deep.txt"))

	_, err = New().Transfer(context.Background(), atomdeploy.TransferSpec{
		Source:          mem,
		SourcePath:      "copy",
		Destination:     src,
		DestinationPath: "back",
		FilterInverse:   true,
		Recursive:       true,
	})
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "back", "top.txt"))
	require.NoError(t, err)
	assert.Equal(t, "top", string(data))
}

func TestPlan_LinkedDirectoryIsNotEntered(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.Symlink(".", filepath.Join(dir, "self")))

	src, err := local.New(dir, logging.NewNullLogger())
	require.NoError(t, err)

	spec := atomdeploy.TransferSpec{
		Source:        src,
		Destination:   memory.New(),
		FilterInverse: true,
		Recursive:     true,
	}
	unfiltered, err := New().Plan(context.Background(), spec)
	require.NoError(t, err)

	spec.FilterPatterns = []string{`^/vendor/`}
	filtered, err := New().Plan(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, []string{"", "a.txt", "self"}, paths(unfiltered))
	assert.Equal(t, paths(unfiltered), paths(filtered))
	assert.True(t, filtered[2].Link)
}

func TestTransfer_CancelledContext(t *testing.T) {
	src := seed(t, project)
	dst := memory.New()
	ctx, cancel := context.WithCancel(context.Background())

	engine := New(WithHooks(Hooks{
		AfterEntry: func(e atomdeploy.FileEntry, _ string) {
			if e.Path == "index.php" {
				cancel()
			}
		},
	}))
	progress, err := engine.Transfer(ctx, atomdeploy.TransferSpec{
		Source:                    src,
		Destination:               dst,
		FilterInverse:             true,
		Recursive:                 true,
		OverwriteEmptyDirectories: true,
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, progress.FilesTransferred)
	assert.False(t, progress.Done())
}

func TestTransfer_RejectsUnsupportedEntries(t *testing.T) {
	err := New().copyEntry(context.Background(), atomdeploy.TransferSpec{Destination: memory.New()},
		atomdeploy.FileEntry{Type: atomdeploy.EntryOther, Path: "socket"}, "socket")
	assert.ErrorIs(t, err, atomdeploy.ErrUnsupportedEntry)
}

func TestRebase(t *testing.T) {
	got, err := rebase("src/a/b.txt", "src", "deployments/x")
	require.NoError(t, err)
	assert.Equal(t, "deployments/x/a/b.txt", got)

	got, err = rebase("src", "src", "")
	require.NoError(t, err)
	assert.Equal(t, "", got)

	_, err = rebase("other/b.txt", "src", "dst")
	assert.ErrorIs(t, err, atomdeploy.ErrPathOutsideBase)

	_, err = rebase("srcfoo/b.txt", "src", "dst")
	assert.ErrorIs(t, err, atomdeploy.ErrPathOutsideBase)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0B", FormatSize(0))
	assert.Equal(t, "1.5kB", FormatSize(1500))
}
