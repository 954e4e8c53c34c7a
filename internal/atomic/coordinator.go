// Package atomic publishes versioned deployment directories by swapping a
// symlink, and removes old deployments according to a retention policy.
//
// Layout on the destination:
//
//	<directory>/<name>/...            one directory per deployment
//	<directory>/<name>/<successFile>  written once the deployment is prepared
//	<currentLink> -> <directory>/<name>
//
// Publishing runs `ln -sfn` and `mv -fT` through the destination shell. The
// -T flag of mv is a GNU coreutils and BusyBox extension; BSD and macOS mv
// lack it, so destinations must provide a GNU or BusyBox userland.
//
// Thread-Safety: NOT safe for concurrent use. Two processes deploying to the
// same destination race on the link swap and on cleanup.
package atomic

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vvka-141/atomdeploy/internal/logging"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// Hook receives the backend-relative path of the deployment being built.
type Hook func(ctx context.Context, deploymentPath string) error

// NameGenerator returns a new deployment name. Names must sort
// lexicographically in creation order; cleanup relies on it.
type NameGenerator func() string

// DefaultName is a UTC timestamp followed by a version 7 UUID. The UUID is
// time-ordered and monotonic within the process, so names created in the
// same second still sort in creation order.
func DefaultName() string {
	id := uuid.Must(uuid.NewV7())
	return time.Now().UTC().Format(atomdeploy.DeploymentNameTimeFormat) + "-" + id.String()
}

// Deployment is one directory below the deployments directory.
type Deployment struct {
	Name       string
	Path       string
	Successful bool
	Current    bool
}

// Coordinator runs atomic deployments against one destination.
type Coordinator struct {
	fs    atomdeploy.Filesystem
	shell atomdeploy.Shell

	directory   string
	currentLink string
	successFile string
	retention   atomdeploy.RetentionPolicy

	generateName NameGenerator
	logger       atomdeploy.Logger
	events       func(Event)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDirectory sets the directory holding deployments. Default "deployments".
func WithDirectory(name string) Option {
	return func(c *Coordinator) { c.directory = name }
}

// WithCurrentLink sets the name of the published link. Default "current".
func WithCurrentLink(name string) Option {
	return func(c *Coordinator) { c.currentLink = name }
}

// WithSuccessFile sets the marker written into prepared deployments.
func WithSuccessFile(name string) Option {
	return func(c *Coordinator) { c.successFile = name }
}

// WithRetention sets how many old deployments cleanup keeps. Default keeps all.
func WithRetention(p atomdeploy.RetentionPolicy) Option {
	return func(c *Coordinator) { c.retention = p }
}

// WithNameGenerator replaces DefaultName.
func WithNameGenerator(fn NameGenerator) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.generateName = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger atomdeploy.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEvents registers a callback for lifecycle events.
func WithEvents(fn func(Event)) Option {
	return func(c *Coordinator) { c.events = fn }
}

// New creates a Coordinator writing through fs and publishing through sh.
func New(fs atomdeploy.Filesystem, sh atomdeploy.Shell, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		fs:           fs,
		shell:        sh,
		directory:    atomdeploy.DefaultDirectory,
		currentLink:  atomdeploy.DefaultCurrentLink,
		successFile:  atomdeploy.DefaultSuccessFile,
		retention:    atomdeploy.RetentionPolicy{Successful: atomdeploy.KeepAll(), Failed: atomdeploy.KeepAll()},
		generateName: DefaultName,
		logger:       logging.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	var errs []error
	if fs == nil {
		errs = append(errs, atomdeploy.NewConfigurationError("filesystem", "is required"))
	}
	if sh == nil {
		errs = append(errs, atomdeploy.NewConfigurationError("shell", "is required; the destination must support commands"))
	}
	for _, opt := range []struct {
		field string
		value *string
	}{
		{"directory", &c.directory},
		{"current_link", &c.currentLink},
		{"success_file", &c.successFile},
	} {
		name, err := simpleName(opt.field, *opt.value)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*opt.value = name
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// simpleName normalizes name and rejects empty names and nested paths.
func simpleName(field, name string) (string, error) {
	normalized, err := atomdeploy.NormalizePath(name)
	if err != nil {
		return "", atomdeploy.NewConfigurationError(field, "%v", err)
	}
	if normalized == "" {
		return "", atomdeploy.NewConfigurationError(field, "must not be empty")
	}
	if strings.Contains(normalized, "/") {
		return "", atomdeploy.NewConfigurationError(field, "%q may not contain slashes", name)
	}
	return normalized, nil
}

// Directory returns the deployments directory.
func (c *Coordinator) Directory() string { return c.directory }

// CurrentLink returns the name of the published link.
func (c *Coordinator) CurrentLink() string { return c.currentLink }

// Deploy creates a new deployment directory, lets prepare fill it, marks it
// successful, points the current link at it, runs finalize and cleans up.
//
// The deployment name is returned whenever the directory was created, also
// on failure. A prepare failure leaves the directory unmarked and the link
// untouched. A finalize failure is returned after the deployment is already
// published; cleanup is skipped in that case.
func (c *Coordinator) Deploy(ctx context.Context, prepare, finalize Hook) (string, error) {
	name, err := simpleName("deployment name", c.generateName())
	if err != nil {
		return "", err
	}
	deploymentPath := atomdeploy.JoinPath(c.directory, name)

	c.logger.Info("Starting atomic deployment: %s", name)
	c.emit(Event{Kind: EventStarted, Name: name, Path: deploymentPath})

	if err := c.fs.CreateDir(ctx, deploymentPath); err != nil {
		return "", fmt.Errorf("failed to create deployment directory: %w", err)
	}

	if prepare != nil {
		if err := prepare(ctx, deploymentPath); err != nil {
			return name, err
		}
	}
	if err := ctx.Err(); err != nil {
		return name, err
	}

	c.logger.Info("Publishing deployment...")
	if err := c.fs.Write(ctx, path.Join(deploymentPath, c.successFile), nil); err != nil {
		return name, fmt.Errorf("failed to write success marker: %w", err)
	}
	if err := c.AtomicSymlink(ctx, c.currentLink, deploymentPath); err != nil {
		return name, fmt.Errorf("failed to publish deployment: %w", err)
	}
	c.logger.Info("Deployment published!")
	c.emit(Event{Kind: EventPublished, Name: name, Path: deploymentPath})

	if finalize != nil {
		if err := finalize(ctx, deploymentPath); err != nil {
			return name, err
		}
	}
	c.emit(Event{Kind: EventFinalized, Name: name, Path: deploymentPath})

	if err := c.CleanupExcept(ctx, name); err != nil {
		return name, fmt.Errorf("cleanup failed: %w", err)
	}
	return name, nil
}

// AtomicSymlink points linkName at targetPath, both relative to the backend
// root. The new link is created under a temporary name and renamed over the
// old one, so linkName never disappears.
func (c *Coordinator) AtomicSymlink(ctx context.Context, linkName, targetPath string) error {
	link, err := atomdeploy.NormalizePath(linkName)
	if err != nil {
		return atomdeploy.NewFilesystemError("symlink", linkName, err)
	}
	if link == "" {
		return atomdeploy.NewFilesystemError("symlink", linkName, fmt.Errorf("%w: link name is empty", atomdeploy.ErrPathOutsideBase))
	}
	tmp := path.Join(path.Dir(link), "."+path.Base(link)+".tmp")

	target := c.shell.Escape(c.shell.ResolvePath(targetPath))
	resolvedTmp := c.shell.Escape(c.shell.ResolvePath(tmp))
	resolvedLink := c.shell.Escape(c.shell.ResolvePath(link))

	c.logger.Verbose("Linking %s -> %s", link, targetPath)
	line := fmt.Sprintf("ln -sfn %s %s && mv -fT %s %s", target, resolvedTmp, resolvedTmp, resolvedLink)
	_, err = c.shell.Exec(ctx, line, nil, "")
	return err
}

// Current returns the name of the deployment the current link points to, or
// "" when there is no link or it points outside the deployments directory.
func (c *Coordinator) Current(ctx context.Context) (string, error) {
	link := c.shell.Escape(c.shell.ResolvePath(c.currentLink))
	res, err := c.shell.Exec(ctx, fmt.Sprintf("if [ -L %s ]; then readlink %s; fi", link, link), nil, "")
	if err != nil {
		return "", err
	}

	target := strings.TrimRight(strings.TrimSpace(res.Stdout), "/")
	if target == "" {
		return "", nil
	}
	dir := strings.TrimRight(c.shell.ResolvePath(c.directory), "/")
	if path.Dir(target) != dir {
		c.logger.Verbose("%s points to %s, outside %s", c.currentLink, target, dir)
		return "", nil
	}
	return path.Base(target), nil
}

// List returns every deployment, newest first.
func (c *Coordinator) List(ctx context.Context) ([]Deployment, error) {
	deployments, err := c.scan(ctx)
	if err != nil {
		return nil, err
	}
	current, err := c.Current(ctx)
	if err != nil {
		return nil, err
	}
	for i := range deployments {
		deployments[i].Current = deployments[i].Name == current
	}
	return deployments, nil
}

// scan lists deployment directories newest first and checks their markers.
// A missing deployments directory yields an empty list.
func (c *Coordinator) scan(ctx context.Context) ([]Deployment, error) {
	entries, err := c.fs.ListContents(ctx, c.directory, false)
	if errors.Is(err, atomdeploy.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}

	var deployments []Deployment
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ok, err := c.fs.Has(ctx, path.Join(entry.Path, c.successFile))
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, Deployment{Name: entry.Basename(), Path: entry.Path, Successful: ok})
	}

	sort.Slice(deployments, func(i, j int) bool {
		return deployments[i].Name > deployments[j].Name
	})
	return deployments, nil
}

// CleanupExcept removes old deployments beyond the retention counts. The
// deployment named current is never removed.
func (c *Coordinator) CleanupExcept(ctx context.Context, current string) error {
	if c.retention.KeepEverything() {
		c.logger.Verbose("Retention keeps all deployments, skipping cleanup")
		return nil
	}

	c.logger.Info("Locating old deployments...")
	deployments, err := c.scan(ctx)
	if err != nil {
		return err
	}

	var successful, failed []Deployment
	for _, d := range deployments {
		switch {
		case d.Name == current:
		case d.Successful:
			successful = append(successful, d)
		default:
			failed = append(failed, d)
		}
	}
	c.logger.Info("Found %d old deployments and %d failed deployments.", len(successful), len(failed))

	var removed []string
	for _, class := range []struct {
		label string
		keep  atomdeploy.Keep
		list  []Deployment
	}{
		{"failed", c.retention.Failed, failed},
		{"succeeded", c.retention.Successful, successful},
	} {
		excess := Excess(class.list, class.keep)
		if class.keep.All() {
			continue
		}
		c.logger.Info("Keeping %d recently %s deployment(s) and removing %d.",
			len(class.list)-len(excess), class.label, len(excess))
		for _, d := range excess {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.remove(ctx, d); err != nil {
				return err
			}
			removed = append(removed, d.Name)
		}
	}

	c.emit(Event{Kind: EventCleaned, Name: current, Removed: removed})
	return nil
}

// Excess returns the deployments beyond the newest keep.Count() of list,
// which must be sorted newest first.
func Excess(list []Deployment, keep atomdeploy.Keep) []Deployment {
	if keep.All() || keep.Count() >= len(list) {
		return nil
	}
	return list[keep.Count():]
}

// remove deletes a whole deployment in one shell round trip.
func (c *Coordinator) remove(ctx context.Context, d Deployment) error {
	c.logger.Info("Removing deployment: %s", d.Name)
	_, err := c.shell.Exec(ctx, "rm -rf", []string{c.shell.ResolvePath(d.Path)}, "")
	return err
}

func (c *Coordinator) emit(e Event) {
	switch e.Kind {
	case EventCleaned:
		c.logger.Verbose("deployment %s: %s (removed %d)", e.Name, e.Kind, len(e.Removed))
	default:
		c.logger.Verbose("deployment %s: %s", e.Name, e.Kind)
	}
	if c.events != nil {
		c.events(e)
	}
}
