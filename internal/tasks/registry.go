// Package tasks runs the named tasks of a configuration: deployments,
// transfers, remote commands and cleanups.
package tasks

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/vvka-141/atomdeploy/internal/atomic"
	"github.com/vvka-141/atomdeploy/internal/backend"
	"github.com/vvka-141/atomdeploy/internal/config"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// Env carries everything a task needs. Config, Backends and Logger are required.
type Env struct {
	Config   *config.Config
	Backends *backend.Set
	Logger   atomdeploy.Logger

	// Approver confirms deployments to destinations with confirm set.
	Approver atomdeploy.Approver

	// Progress receives transfer progress; Finish is called after each transfer.
	Progress ProgressReporter

	// Out receives command output of exec tasks.
	Out io.Writer

	// DryRun lists what transfers would copy without writing anything.
	DryRun bool

	// Names overrides the deployment name generator.
	Names atomic.NameGenerator
}

// ProgressReporter renders transfer progress.
type ProgressReporter interface {
	Update(atomdeploy.Progress)
	Finish()
}

// Handler runs one task of its kind.
type Handler func(ctx context.Context, env *Env, name string, task config.Task) error

var handlers = map[string]Handler{
	config.TaskDeploy:   runDeploy,
	config.TaskTransfer: runTransfer,
	config.TaskExec:     runExec,
	config.TaskCleanup:  runCleanup,
}

// Kinds lists the registered task types.
func Kinds() []string {
	kinds := make([]string, 0, len(handlers))
	for k := range handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Names lists the configured task names.
func Names(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Tasks))
	for name := range cfg.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes the configured task called name.
func Run(ctx context.Context, env *Env, name string) error {
	validateEnv(env)

	task, ok := env.Config.Tasks[name]
	if !ok {
		return fmt.Errorf("%w: %q (available: %v)", atomdeploy.ErrTaskNotFound, name, Names(env.Config))
	}
	handler, ok := handlers[task.Type]
	if !ok {
		return fmt.Errorf("%w: task %q has unknown type %q", atomdeploy.ErrTaskNotFound, name, task.Type)
	}

	env.Logger.Verbose("Running task %s (%s)", name, task.Type)
	return handler(ctx, env, name, task)
}

func validateEnv(env *Env) {
	if env == nil || env.Config == nil {
		panic("config cannot be nil")
	}
	if env.Backends == nil {
		panic("backends cannot be nil")
	}
	if env.Logger == nil {
		panic("logger cannot be nil")
	}
}

func runDeploy(ctx context.Context, env *Env, _ string, _ config.Task) error {
	_, err := Deploy(ctx, env)
	return err
}

func runTransfer(ctx context.Context, env *Env, _ string, task config.Task) error {
	_, err := Transfer(ctx, env, task.Transfer)
	return err
}

func runCleanup(ctx context.Context, env *Env, _ string, _ config.Task) error {
	return Cleanup(ctx, env)
}

func runExec(ctx context.Context, env *Env, name string, task config.Task) error {
	h, err := env.Backends.Get(task.Target)
	if err != nil {
		return err
	}
	sh, err := h.Shell()
	if err != nil {
		return err
	}

	env.Logger.Info("Running %s on %s...", name, task.Target)
	res, err := sh.Exec(ctx, task.Command, task.Args, task.Cwd)
	if env.Out != nil {
		io.WriteString(env.Out, res.Stdout)
	}
	if res.Stderr != "" {
		env.Logger.Verbose("%s", res.Stderr)
	}
	return err
}
