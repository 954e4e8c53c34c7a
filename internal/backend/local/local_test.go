package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vvka-141/atomdeploy/internal/backend/local"
	"github.com/vvka-141/atomdeploy/internal/logging"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

func newBackend(t *testing.T) (*local.Backend, atomdeploy.Shell) {
	t.Helper()
	b, err := local.New(t.TempDir(), logging.NewNullLogger())
	require.NoError(t, err)
	sh, err := b.Shell()
	require.NoError(t, err)
	return b, sh
}

func TestNew_Validation(t *testing.T) {
	_, err := local.New("", logging.NewNullLogger())
	assert.ErrorIs(t, err, atomdeploy.ErrInvalidConfig)

	_, err = local.New(filepath.Join(t.TempDir(), "missing"), logging.NewNullLogger())
	assert.ErrorIs(t, err, atomdeploy.ErrNotFound)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = local.New(file, logging.NewNullLogger())
	assert.ErrorIs(t, err, atomdeploy.ErrInvalidConfig)
}

func TestNew_PanicsOnNilLogger(t *testing.T) {
	assert.Panics(t, func() { _, _ = local.New(t.TempDir(), nil) })
}

func TestBackend_WritesUnderRoot(t *testing.T) {
	b, _ := newBackend(t)
	require.NoError(t, b.Write(context.Background(), "deployments/x/a.txt", []byte("hi")))

	data, err := os.ReadFile(filepath.Join(b.Root(), "deployments", "x", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestShell_ResolvePath(t *testing.T) {
	b, sh := newBackend(t)
	assert.Equal(t, b.Root(), sh.ResolvePath(""))
	assert.Equal(t, b.Root(), sh.ResolvePath("/"))
	assert.Equal(t, filepath.Join(b.Root(), "deployments", "x"), sh.ResolvePath("/deployments/x/"))
}

func TestShell_Escape(t *testing.T) {
	_, sh := newBackend(t)
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"", "''"},
		{"with space", "'with space'"},
		{"it's", `'it'"'"'s'`},
		{"$(rm -rf /)", "'$(rm -rf /)'"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sh.Escape(tt.in))
		})
	}
}

func TestShell_ExecCapturesOutputInCwd(t *testing.T) {
	b, sh := newBackend(t)
	require.NoError(t, b.CreateDir(context.Background(), "work"))

	result, err := sh.Exec(context.Background(), "pwd && printf %s", []string{"a b"}, "work")
	require.NoError(t, err)

	wd, err := filepath.EvalSymlinks(filepath.Join(b.Root(), "work"))
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(firstLine(result.Stdout))
	require.NoError(t, err)
	assert.Equal(t, wd, got)
	assert.Contains(t, result.Stdout, "a b")
}

func TestShell_ExecReportsExitCode(t *testing.T) {
	_, sh := newBackend(t)

	result, err := sh.Exec(context.Background(), "echo oops >&2; exit 3", nil, "")
	require.Error(t, err)

	var shErr *atomdeploy.ShellExecutionError
	require.ErrorAs(t, err, &shErr)
	assert.Equal(t, 3, shErr.ExitCode)
	assert.Equal(t, "oops\n", shErr.Stderr)
	assert.Equal(t, "oops\n", result.Stderr)
}

func TestShell_ExecArgumentsAreLiteral(t *testing.T) {
	b, sh := newBackend(t)

	_, err := sh.Exec(context.Background(), "touch", []string{"$(echo injected)"}, "")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(b.Root(), "$(echo injected)"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(b.Root(), "injected"))
	assert.True(t, os.IsNotExist(err))
}

func TestShell_ExecMissingCwd(t *testing.T) {
	_, sh := newBackend(t)
	_, err := sh.Exec(context.Background(), "true", nil, "nope")
	assert.ErrorIs(t, err, atomdeploy.ErrShellExecution)
}

func TestShell_ExecHonoursCancelledContext(t *testing.T) {
	_, sh := newBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sh.Exec(ctx, "true", nil, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShell_SymlinkSwap(t *testing.T) {
	b, sh := newBackend(t)
	ctx := context.Background()
	require.NoError(t, b.CreateDir(ctx, "r1"))
	require.NoError(t, b.CreateDir(ctx, "r2"))

	for _, target := range []string{"r1", "r2"} {
		_, err := sh.Exec(ctx, "ln -snf", []string{sh.ResolvePath(target), sh.ResolvePath("current")}, "")
		require.NoError(t, err)
	}

	dest, err := os.Readlink(filepath.Join(b.Root(), "current"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(b.Root(), "r2"), dest)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
