package tasks

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/vvka-141/atomdeploy/internal/atomic"
	"github.com/vvka-141/atomdeploy/internal/backend"
	"github.com/vvka-141/atomdeploy/internal/config"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// Coordinator opens the deployment destination and builds its coordinator.
func Coordinator(env *Env) (*atomic.Coordinator, *backend.Handle, error) {
	validateEnv(env)
	d := env.Config.Deployment
	if d.Destination == "" {
		return nil, nil, atomdeploy.NewConfigurationError("deployment.destination", "is required")
	}

	dest, err := env.Backends.Get(d.Destination)
	if err != nil {
		return nil, nil, err
	}
	sh, err := dest.Shell()
	if err != nil {
		return nil, nil, err
	}

	c, err := atomic.New(dest, sh,
		atomic.WithDirectory(d.Directory),
		atomic.WithCurrentLink(d.CurrentLink),
		atomic.WithSuccessFile(d.SuccessFile),
		atomic.WithRetention(d.Retention()),
		atomic.WithNameGenerator(env.Names),
		atomic.WithLogger(env.Logger),
		atomic.WithEvents(logEvent(env.Logger)),
	)
	if err != nil {
		return nil, nil, err
	}
	return c, dest, nil
}

// logEvent reports the publish and cleanup steps at Info level.
func logEvent(logger atomdeploy.Logger) func(atomic.Event) {
	return func(e atomic.Event) {
		switch e.Kind {
		case atomic.EventPublished:
			logger.Info("Published %s", e.Name)
		case atomic.EventCleaned:
			if len(e.Removed) > 0 {
				logger.Info("Removed %d old deployment(s)", len(e.Removed))
			}
		}
	}
}

// Deploy runs the deployment pipeline and returns the new deployment name.
//
// The new deployment is filled with the deployment transfer, gets its shared
// directories linked in and runs the configured commands. It is then published
// and the configured links are swapped to point into it.
func Deploy(ctx context.Context, env *Env) (string, error) {
	c, dest, err := Coordinator(env)
	if err != nil {
		return "", err
	}
	d := env.Config.Deployment

	if d.Confirm {
		if env.Approver == nil {
			return "", atomdeploy.NewConfigurationError("deployment.confirm", "confirmation requested but no approver is available")
		}
		approved, err := env.Approver.RequestApproval(ctx, d.Destination)
		if err != nil {
			return "", fmt.Errorf("approval failed: %w", err)
		}
		if !approved {
			return "", fmt.Errorf("%w: deployment to %s", atomdeploy.ErrApprovalDenied, d.Destination)
		}
	}

	sh, err := dest.Shell()
	if err != nil {
		return "", err
	}

	prepare := func(ctx context.Context, deploymentPath string) error {
		if d.Transfer != "" {
			env.Logger.Info("Transferring %s into %s...", d.Transfer, deploymentPath)
			if err := runTransferInto(ctx, env, d.Transfer, dest, func(spec *atomdeploy.TransferSpec) {
				spec.DestinationPath = atomdeploy.JoinPath(deploymentPath, spec.DestinationPath)
				// The coordinator has just created the deployment directory.
				spec.OverwriteEmptyDirectories = true
			}); err != nil {
				return err
			}
		}

		for _, shared := range d.Shared {
			if err := linkShared(ctx, env, c, dest, sh, deploymentPath, shared); err != nil {
				return err
			}
		}

		for _, cmd := range d.Commands {
			cwd := atomdeploy.JoinPath(deploymentPath, cmd.Cwd)
			env.Logger.Info("$ %s", atomdeploy.CommandLine(sh, cmd.Command, cmd.Args))
			res, err := sh.Exec(ctx, cmd.Command, cmd.Args, cwd)
			if out := strings.TrimSpace(res.Stdout); out != "" {
				env.Logger.Verbose("%s", out)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}

	var finalize atomic.Hook
	if len(d.Links) > 0 {
		finalize = func(ctx context.Context, deploymentPath string) error {
			var errs []error
			for _, l := range d.Links {
				target := atomdeploy.JoinPath(deploymentPath, l.Target)
				env.Logger.Info("Linking %s -> %s", l.Link, target)
				if err := c.AtomicSymlink(ctx, l.Link, target); err != nil {
					errs = append(errs, fmt.Errorf("link %s: %w", l.Link, err))
				}
			}
			return errors.Join(errs...)
		}
	}

	name, err := c.Deploy(ctx, prepare, finalize)
	if err != nil {
		if name != "" {
			return name, fmt.Errorf("deployment %s failed: %w", name, err)
		}
		return "", err
	}
	env.Logger.Info("Deployed %s to %s", name, d.Destination)
	return name, nil
}

// linkShared fills the persistent directory <container>/<path> and links
// <deployment>/<path> to it, replacing whatever the transfer put there.
func linkShared(ctx context.Context, env *Env, c *atomic.Coordinator, dest *backend.Handle, sh atomdeploy.Shell, deploymentPath string, shared config.SharedDir) error {
	sharedPath := atomdeploy.JoinPath(shared.ContainerOrDefault(), shared.Path)
	linkPath := atomdeploy.JoinPath(deploymentPath, shared.Path)

	if shared.Transfer != "" {
		env.Logger.Info("Updating shared %s from %s...", shared.Path, shared.Transfer)
		if err := runTransferInto(ctx, env, shared.Transfer, dest, func(spec *atomdeploy.TransferSpec) {
			spec.DestinationPath = atomdeploy.JoinPath(sharedPath, spec.DestinationPath)
			spec.OverwriteFiles = true
			spec.OverwriteEmptyDirectories = true
			spec.OverwriteNonEmptyDirectories = true
		}); err != nil {
			return err
		}
	} else if err := dest.CreateDir(ctx, sharedPath); err != nil {
		return err
	}

	if _, err := sh.Exec(ctx, "rm -rf", []string{sh.ResolvePath(linkPath)}, ""); err != nil {
		return err
	}
	if err := dest.CreateDir(ctx, path.Dir(linkPath)); err != nil {
		return err
	}
	return c.AtomicSymlink(ctx, linkPath, sharedPath)
}

// Cleanup applies the retention policy, keeping the deployment the current
// link points to.
func Cleanup(ctx context.Context, env *Env) error {
	c, _, err := Coordinator(env)
	if err != nil {
		return err
	}
	current, err := c.Current(ctx)
	if err != nil {
		return err
	}
	if current == "" {
		env.Logger.Info("No current deployment found.")
	}
	return c.CleanupExcept(ctx, current)
}

// List returns the deployments on the destination, newest first.
func List(ctx context.Context, env *Env) ([]atomic.Deployment, error) {
	c, _, err := Coordinator(env)
	if err != nil {
		return nil, err
	}
	return c.List(ctx)
}
