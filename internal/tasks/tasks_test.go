package tasks

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vvka-141/atomdeploy/internal/atomic"
	"github.com/vvka-141/atomdeploy/internal/backend"
	"github.com/vvka-141/atomdeploy/internal/config"
	"github.com/vvka-141/atomdeploy/internal/logging"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

type stubApprover struct {
	approve bool
	asked   []string
}

func (a *stubApprover) RequestApproval(_ context.Context, destination string) (bool, error) {
	a.asked = append(a.asked, destination)
	return a.approve, nil
}

type recordingProgress struct {
	updates  int
	finished int
	last     atomdeploy.Progress
}

func (r *recordingProgress) Update(p atomdeploy.Progress) { r.updates++; r.last = p }
func (r *recordingProgress) Finish()                      { r.finished++ }

type recordingLogger struct {
	mu   sync.Mutex
	info []string
}

func (l *recordingLogger) Verbose(string, ...interface{}) {}
func (l *recordingLogger) Error(string, ...interface{})   {}

func (l *recordingLogger) Info(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.info = append(l.info, fmt.Sprintf(format, args...))
}

func sequence() atomic.NameGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("2024.01.01-00.00.%02d-test", n)
	}
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

type fixture struct {
	env        *Env
	projectDir string
	destDir    string
	out        *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	projectDir := t.TempDir()
	destDir := t.TempDir()
	writeTree(t, projectDir, map[string]string{
		"index.php":             "<?php echo 'hi';",
		"public/index.html":     "hello",
		"vendor/autoload.php":   "autoload",
		"storage/uploads/a.png": "png",
	})

	cfg := &config.Config{
		Targets: map[string]config.Target{
			"project": {Type: config.TargetLocal, Path: projectDir},
			"remote":  {Type: config.TargetLocal, Path: destDir},
			"scratch": {Type: config.TargetMemory},
		},
		Transfers: map[string]config.Transfer{
			"project": {
				Source:         "project",
				Destination:    "remote",
				FilterPatterns: []string{`^/vendor/`, `^/storage/`},
				FilterInverse:  true,
			},
			"uploads": {Source: "project", SourcePath: "storage", Destination: "remote", FilterInverse: true},
			"preview": {Source: "project", Destination: "scratch", FilterInverse: true, OverwriteEmptyDirectories: true},
		},
		Deployment: config.Deployment{
			Destination:    "remote",
			Directory:      atomdeploy.DefaultDirectory,
			CurrentLink:    atomdeploy.DefaultCurrentLink,
			SuccessFile:    atomdeploy.DefaultSuccessFile,
			KeepSuccessful: atomdeploy.KeepCount(1),
			KeepFailed:     atomdeploy.KeepCount(1),
			Transfer:       "project",
			Shared:         []config.SharedDir{{Path: "storage", Transfer: "uploads"}},
			Commands:       []config.Command{{Command: "touch", Args: []string{"built marker"}}},
			Links:          []config.Link{{Link: "public_html", Target: "public"}},
		},
		Tasks: map[string]config.Task{
			"default": {Type: config.TaskDeploy},
			"preview": {Type: config.TaskTransfer, Transfer: "preview"},
			"show":    {Type: config.TaskExec, Target: "remote", Command: "cat", Args: []string{"index.php"}, Cwd: "current"},
			"prune":   {Type: config.TaskCleanup},
		},
	}

	logger := logging.NewNullLogger()
	out := &bytes.Buffer{}
	f := &fixture{
		env: &Env{
			Config:   cfg,
			Backends: backend.NewSet(cfg.Targets, logger),
			Logger:   logger,
			Out:      out,
			Names:    sequence(),
		},
		projectDir: projectDir,
		destDir:    destDir,
		out:        out,
	}
	t.Cleanup(func() { f.env.Backends.Close() })
	return f
}

func TestDeploy_FullPipeline(t *testing.T) {
	f := newFixture(t)
	progress := &recordingProgress{}
	f.env.Progress = progress

	name, err := Deploy(context.Background(), f.env)
	require.NoError(t, err)
	assert.Equal(t, "2024.01.01-00.00.01-test", name)

	current := filepath.Join(f.destDir, "current")
	data, err := os.ReadFile(filepath.Join(current, "index.php"))
	require.NoError(t, err)
	assert.Equal(t, "<?php echo 'hi';", string(data))
	assert.NoDirExists(t, filepath.Join(current, "vendor"))
	assert.FileExists(t, filepath.Join(current, "built marker"))
	assert.FileExists(t, filepath.Join(current, atomdeploy.DefaultSuccessFile))

	storage, err := os.Readlink(filepath.Join(f.destDir, "deployments", name, "storage"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.destDir, "shared", "storage"), storage)
	assert.FileExists(t, filepath.Join(current, "storage", "uploads", "a.png"))

	public, err := os.Readlink(filepath.Join(f.destDir, "public_html"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.destDir, "deployments", name, "public"), public)

	assert.Equal(t, 2, progress.finished, "one progress run per transfer")
	assert.True(t, progress.last.Done())
}

func TestDeploy_SecondDeploymentReplacesFirst(t *testing.T) {
	f := newFixture(t)
	f.env.Config.Deployment.KeepSuccessful = atomdeploy.KeepCount(0)
	ctx := context.Background()

	first, err := Deploy(ctx, f.env)
	require.NoError(t, err)

	writeTree(t, f.projectDir, map[string]string{"storage/uploads/b.png": "png2"})
	second, err := Deploy(ctx, f.env)
	require.NoError(t, err)

	assert.NoDirExists(t, filepath.Join(f.destDir, "deployments", first))
	assert.FileExists(t, filepath.Join(f.destDir, "current", "storage", "uploads", "b.png"))

	list, err := List(ctx, f.env)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, atomic.Deployment{Name: second, Path: "deployments/" + second, Successful: true, Current: true}, list[0])
}

func TestDeploy_LogsPublishAndCleanup(t *testing.T) {
	f := newFixture(t)
	f.env.Config.Deployment.KeepSuccessful = atomdeploy.KeepCount(0)
	logger := &recordingLogger{}
	f.env.Logger = logger
	ctx := context.Background()

	first, err := Deploy(ctx, f.env)
	require.NoError(t, err)
	assert.Contains(t, logger.info, "Published "+first)
	assert.NotContains(t, logger.info, "Removed 1 old deployment(s)")

	second, err := Deploy(ctx, f.env)
	require.NoError(t, err)
	assert.Contains(t, logger.info, "Published "+second)
	assert.Contains(t, logger.info, "Removed 1 old deployment(s)")
}

func TestDeploy_FailedCommandKeepsPreviousDeploymentLive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := Deploy(ctx, f.env)
	require.NoError(t, err)

	f.env.Config.Deployment.Commands = []config.Command{{Command: "exit 3"}}
	failed, err := Deploy(ctx, f.env)
	require.ErrorIs(t, err, atomdeploy.ErrShellExecution)
	assert.Contains(t, err.Error(), failed)

	var shellErr *atomdeploy.ShellExecutionError
	require.ErrorAs(t, err, &shellErr)
	assert.Equal(t, 3, shellErr.ExitCode)

	target, err := os.Readlink(filepath.Join(f.destDir, "current"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.destDir, "deployments", first), target)
	assert.NoFileExists(t, filepath.Join(f.destDir, "deployments", failed, atomdeploy.DefaultSuccessFile))
}

func TestDeploy_Approval(t *testing.T) {
	f := newFixture(t)
	f.env.Config.Deployment.Confirm = true

	_, err := Deploy(context.Background(), f.env)
	require.ErrorIs(t, err, atomdeploy.ErrInvalidConfig, "confirm without an approver")

	approver := &stubApprover{approve: false}
	f.env.Approver = approver
	_, err = Deploy(context.Background(), f.env)
	require.ErrorIs(t, err, atomdeploy.ErrApprovalDenied)
	assert.Equal(t, []string{"remote"}, approver.asked)
	assert.NoDirExists(t, filepath.Join(f.destDir, "deployments"))

	approver.approve = true
	_, err = Deploy(context.Background(), f.env)
	require.NoError(t, err)
}

func TestRun_Tasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, Run(ctx, f.env, "default"))
	require.NoError(t, Run(ctx, f.env, "show"))
	assert.Equal(t, "<?php echo 'hi';", f.out.String())
	require.NoError(t, Run(ctx, f.env, "prune"))

	require.NoError(t, Run(ctx, f.env, "preview"))
	scratch, err := f.env.Backends.Get("scratch")
	require.NoError(t, err)
	has, err := scratch.Has(ctx, "vendor/autoload.php")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestRun_UnknownTask(t *testing.T) {
	f := newFixture(t)
	err := Run(context.Background(), f.env, "nope")
	require.ErrorIs(t, err, atomdeploy.ErrTaskNotFound)
	assert.Contains(t, err.Error(), "default")

	f.env.Config.Tasks["odd"] = config.Task{Type: "reflect"}
	err = Run(context.Background(), f.env, "odd")
	assert.ErrorIs(t, err, atomdeploy.ErrTaskNotFound)
}

func TestTransfer_DryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.env.DryRun = true

	p, err := Transfer(context.Background(), f.env, "project")
	require.NoError(t, err)
	assert.Equal(t, 4, p.FilesTotal, "root, index.php, public, public/index.html")
	assert.Zero(t, p.FilesTransferred)

	entries, err := os.ReadDir(f.destDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCleanup_KeepsCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.env.Config.Deployment.KeepSuccessful = atomdeploy.KeepAll()
	f.env.Config.Deployment.KeepFailed = atomdeploy.KeepAll()

	_, err := Deploy(ctx, f.env)
	require.NoError(t, err)
	second, err := Deploy(ctx, f.env)
	require.NoError(t, err)

	f.env.Config.Deployment.KeepSuccessful = atomdeploy.KeepCount(0)
	require.NoError(t, Cleanup(ctx, f.env))

	list, err := List(ctx, f.env)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second, list[0].Name)
}

func TestKinds(t *testing.T) {
	assert.Equal(t, []string{"cleanup", "deploy", "exec", "transfer"}, Kinds())
}

func TestRun_PanicsWithoutLogger(t *testing.T) {
	assert.Panics(t, func() {
		_ = Run(context.Background(), &Env{Config: &config.Config{}, Backends: backend.NewSet(nil, logging.NewNullLogger())}, "x")
	})
}
