// Package backend opens the configured targets.
//
// Each target name is opened at most once per Set, so transfers between two
// paths of the same target see the same Filesystem instance and can use its
// native copy, and a remote target shares one connection across all callers.
package backend

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/vvka-141/atomdeploy/internal/backend/ftp"
	"github.com/vvka-141/atomdeploy/internal/backend/local"
	"github.com/vvka-141/atomdeploy/internal/backend/memory"
	"github.com/vvka-141/atomdeploy/internal/backend/sftp"
	"github.com/vvka-141/atomdeploy/internal/config"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// Handle is an opened target.
type Handle struct {
	Name string
	Type string
	atomdeploy.Filesystem
}

// Shell returns the target's shell, or a ConfigurationError when the backend
// cannot run commands.
func (h *Handle) Shell() (atomdeploy.Shell, error) {
	provider, ok := h.Filesystem.(atomdeploy.ShellProvider)
	if !ok {
		return nil, atomdeploy.NewConfigurationError("targets."+h.Name, "%s targets cannot run commands", h.Type)
	}
	return provider.Shell()
}

// Close releases the backend's connection, if it holds one.
func (h *Handle) Close() error {
	if c, ok := h.Filesystem.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (h *Handle) String() string {
	if s, ok := h.Filesystem.(fmt.Stringer); ok {
		return h.Name + " (" + s.String() + ")"
	}
	return h.Name
}

// Open creates the backend for one target. Remote backends connect lazily.
func Open(name string, t config.Target, logger atomdeploy.Logger) (*Handle, error) {
	var (
		fs  atomdeploy.Filesystem
		err error
	)
	switch t.Type {
	case config.TargetLocal:
		fs, err = local.New(t.Path, logger)
	case config.TargetSFTP:
		fs, err = sftp.New(sftp.Config{
			Host:           t.Host,
			Port:           t.Port,
			Username:       t.Username,
			Password:       t.Password,
			PrivateKeyFile: t.PrivateKeyFile,
			Passphrase:     t.Passphrase,
			KnownHostsFile: t.KnownHostsFile,
			Root:           t.Path,
			DialTimeout:    t.DialTimeout,
		}, logger)
	case config.TargetFTP:
		fs, err = ftp.New(ftp.Config{
			Host:        t.Host,
			Port:        t.Port,
			Username:    t.Username,
			Password:    t.Password,
			Root:        t.Path,
			ExplicitTLS: t.ExplicitTLS,
			DisableEPSV: t.DisableEPSV,
			DialTimeout: t.DialTimeout,
		}, logger)
	case config.TargetMemory:
		fs = memory.New()
	default:
		return nil, atomdeploy.NewConfigurationError("targets."+name+".type", "unknown target type %q", t.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", name, err)
	}
	return &Handle{Name: name, Type: t.Type, Filesystem: fs}, nil
}

// Set opens targets on demand and closes them together.
// Not safe for concurrent use.
type Set struct {
	targets map[string]config.Target
	logger  atomdeploy.Logger
	opened  map[string]*Handle
}

// NewSet creates a Set over the configured targets.
// Panics if logger is nil.
func NewSet(targets map[string]config.Target, logger atomdeploy.Logger) *Set {
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &Set{targets: targets, logger: logger, opened: make(map[string]*Handle)}
}

// Get returns the handle for name, opening it on first use.
func (s *Set) Get(name string) (*Handle, error) {
	if h, ok := s.opened[name]; ok {
		return h, nil
	}
	t, ok := s.targets[name]
	if !ok {
		return nil, atomdeploy.NewConfigurationError("targets", "unknown target %q", name)
	}
	h, err := Open(name, t, s.logger)
	if err != nil {
		return nil, err
	}
	s.opened[name] = h
	return h, nil
}

// Close closes every opened handle and returns the joined errors.
func (s *Set) Close() error {
	names := make([]string, 0, len(s.opened))
	for name := range s.opened {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := s.opened[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	s.opened = make(map[string]*Handle)
	return errors.Join(errs...)
}
