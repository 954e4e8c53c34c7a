package tasks

import (
	"context"

	"github.com/vvka-141/atomdeploy/internal/backend"
	"github.com/vvka-141/atomdeploy/internal/transfer"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// Transfer runs the configured transfer called name. With DryRun set the
// planned entries are logged and nothing is written.
func Transfer(ctx context.Context, env *Env, name string) (atomdeploy.Progress, error) {
	validateEnv(env)
	spec, err := transferSpec(env, name, nil, nil)
	if err != nil {
		return atomdeploy.Progress{}, err
	}
	if !env.DryRun {
		return runSpec(ctx, env, spec)
	}

	entries, err := transfer.New(transfer.WithLogger(env.Logger)).Plan(ctx, spec)
	if err != nil {
		return atomdeploy.Progress{}, err
	}
	var p atomdeploy.Progress
	p.FilesTotal = len(entries)
	for _, e := range entries {
		p.BytesTotal += e.SizeOr(0)
		env.Logger.Info("would copy /%s", e.Path)
	}
	env.Logger.Info("Dry run: %d files with a total size of %s.", p.FilesTotal, transfer.FormatSize(p.BytesTotal))
	return p, nil
}

// transferSpec opens both ends of the named transfer. dest replaces the
// configured destination when set; adjust may tweak the resulting TransferSpec.
func transferSpec(env *Env, name string, dest *backend.Handle, adjust func(*atomdeploy.TransferSpec)) (atomdeploy.TransferSpec, error) {
	tr, ok := env.Config.Transfers[name]
	if !ok {
		return atomdeploy.TransferSpec{}, atomdeploy.NewConfigurationError("transfers", "unknown transfer %q", name)
	}

	src, err := env.Backends.Get(tr.Source)
	if err != nil {
		return atomdeploy.TransferSpec{}, err
	}
	if dest == nil {
		if tr.Destination == "" {
			return atomdeploy.TransferSpec{}, atomdeploy.NewConfigurationError("transfers."+name+".destination", "is required")
		}
		if dest, err = env.Backends.Get(tr.Destination); err != nil {
			return atomdeploy.TransferSpec{}, err
		}
	}

	spec := tr.Spec(src, dest)
	if adjust != nil {
		adjust(&spec)
	}
	return spec, nil
}

// runSpec copies spec, reporting progress to env.Progress.
func runSpec(ctx context.Context, env *Env, spec atomdeploy.TransferSpec) (atomdeploy.Progress, error) {
	opts := []transfer.Option{transfer.WithLogger(env.Logger)}
	if env.Progress != nil {
		opts = append(opts, transfer.WithProgress(env.Progress.Update))
		defer env.Progress.Finish()
	}
	return transfer.New(opts...).Transfer(ctx, spec)
}

// runTransferInto runs the named transfer with dest as its destination.
func runTransferInto(ctx context.Context, env *Env, name string, dest *backend.Handle, adjust func(*atomdeploy.TransferSpec)) error {
	spec, err := transferSpec(env, name, dest, adjust)
	if err != nil {
		return err
	}
	_, err = runSpec(ctx, env, spec)
	return err
}
