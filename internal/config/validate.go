package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// Validate checks the whole configuration and returns every problem found,
// joined with errors.Join.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, atomdeploy.NewConfigurationError(field, format, args...))
	}

	for _, name := range sortedKeys(c.Targets) {
		t := c.Targets[name]
		field := "targets." + name
		switch t.Type {
		case TargetLocal:
			if t.Path == "" {
				add(field+".path", "is required for local targets")
			}
		case TargetSFTP:
			if t.Host == "" {
				add(field+".host", "is required for sftp targets")
			}
			if t.Username == "" {
				add(field+".username", "is required for sftp targets")
			}
			if t.Password == "" && t.PrivateKeyFile == "" {
				add(field, "sftp targets need a password or private_key_file")
			}
		case TargetFTP:
			if t.Host == "" {
				add(field+".host", "is required for ftp targets")
			}
		case TargetMemory:
		case "":
			add(field+".type", "is required")
		default:
			add(field+".type", "unknown target type %q", t.Type)
		}
		if t.Port < 0 || t.Port > 65535 {
			add(field+".port", "%d is out of range", t.Port)
		}
	}

	for _, name := range sortedKeys(c.Transfers) {
		tr := c.Transfers[name]
		field := "transfers." + name
		c.requireTarget(&errs, field+".source", tr.Source)
		if tr.Destination != "" {
			c.requireTarget(&errs, field+".destination", tr.Destination)
		}
		for i, pattern := range tr.FilterPatterns {
			if _, err := regexp.Compile(pattern); err != nil {
				add(fmt.Sprintf("%s.filter_patterns[%d]", field, i), "%v", err)
			}
		}
		if _, err := atomdeploy.NormalizePath(tr.SourcePath); err != nil {
			add(field+".source_path", "%v", err)
		}
		if _, err := atomdeploy.NormalizePath(tr.DestinationPath); err != nil {
			add(field+".destination_path", "%v", err)
		}
	}

	if c.Deployment.Destination != "" {
		errs = append(errs, c.validateDeployment()...)
	}

	for _, name := range sortedKeys(c.Tasks) {
		errs = append(errs, c.validateTask(name, c.Tasks[name])...)
	}

	return errors.Join(errs...)
}

func (c *Config) validateDeployment() []error {
	var errs []error
	d := c.Deployment

	if c.requireTarget(&errs, "deployment.destination", d.Destination) {
		if t := c.Targets[d.Destination]; !t.HasShell() {
			errs = append(errs, atomdeploy.NewConfigurationError("deployment.destination",
				"%s targets cannot host deployments; symlinks need a shell (use local or sftp)", t.Type))
		}
	}

	for field, name := range map[string]string{
		"deployment.directory":    d.Directory,
		"deployment.current_link": d.CurrentLink,
		"deployment.success_file": d.SuccessFile,
	} {
		if err := SimpleName(name); err != nil {
			errs = append(errs, atomdeploy.NewConfigurationError(field, "%v", err))
		}
	}

	if d.Transfer != "" {
		c.requireTransfer(&errs, "deployment.transfer", d.Transfer)
		errs = append(errs, c.sameDestination("deployment.transfer", d.Transfer)...)
	}
	for i, s := range d.Shared {
		field := fmt.Sprintf("deployment.shared[%d]", i)
		if _, err := atomdeploy.NormalizePath(s.Path); err != nil || strings.Trim(s.Path, "/") == "" {
			errs = append(errs, atomdeploy.NewConfigurationError(field+".path", "must be a non-empty path inside the deployment"))
		}
		if err := SimpleName(s.ContainerOrDefault()); err != nil {
			errs = append(errs, atomdeploy.NewConfigurationError(field+".container", "%v", err))
		}
		if s.Transfer != "" {
			c.requireTransfer(&errs, field+".transfer", s.Transfer)
			errs = append(errs, c.sameDestination(field+".transfer", s.Transfer)...)
		}
	}
	for i, cmd := range d.Commands {
		if strings.TrimSpace(cmd.Command) == "" {
			errs = append(errs, atomdeploy.NewConfigurationError(fmt.Sprintf("deployment.commands[%d].command", i), "is required"))
		}
	}
	for i, l := range d.Links {
		if strings.Trim(l.Link, "/") == "" {
			errs = append(errs, atomdeploy.NewConfigurationError(fmt.Sprintf("deployment.links[%d].link", i), "is required"))
		}
	}
	return errs
}

// sameDestination rejects deployment transfers that write somewhere other
// than the deployment destination.
func (c *Config) sameDestination(field, transfer string) []error {
	tr, ok := c.Transfers[transfer]
	if !ok || tr.Destination == "" || tr.Destination == c.Deployment.Destination {
		return nil
	}
	return []error{atomdeploy.NewConfigurationError(field,
		"transfer %q writes to %q, not the deployment destination %q", transfer, tr.Destination, c.Deployment.Destination)}
}

func (c *Config) validateTask(name string, t Task) []error {
	var errs []error
	field := "tasks." + name
	switch t.Type {
	case TaskDeploy, TaskCleanup:
		if c.Deployment.Destination == "" {
			errs = append(errs, atomdeploy.NewConfigurationError(field, "%s tasks need a deployment section", t.Type))
		}
	case TaskTransfer:
		c.requireTransfer(&errs, field+".transfer", t.Transfer)
		if tr, ok := c.Transfers[t.Transfer]; ok && tr.Destination == "" {
			errs = append(errs, atomdeploy.NewConfigurationError(field+".transfer", "transfer %q has no destination", t.Transfer))
		}
	case TaskExec:
		if c.requireTarget(&errs, field+".target", t.Target) && !c.Targets[t.Target].HasShell() {
			errs = append(errs, atomdeploy.NewConfigurationError(field+".target", "%q has no shell", t.Target))
		}
		if strings.TrimSpace(t.Command) == "" {
			errs = append(errs, atomdeploy.NewConfigurationError(field+".command", "is required"))
		}
	case "":
		errs = append(errs, atomdeploy.NewConfigurationError(field+".type", "is required"))
	default:
		errs = append(errs, atomdeploy.NewConfigurationError(field+".type", "unknown task type %q", t.Type))
	}
	return errs
}

func (c *Config) requireTarget(errs *[]error, field, name string) bool {
	if name == "" {
		*errs = append(*errs, atomdeploy.NewConfigurationError(field, "is required"))
		return false
	}
	if _, ok := c.Targets[name]; !ok {
		*errs = append(*errs, atomdeploy.NewConfigurationError(field, "unknown target %q", name))
		return false
	}
	return true
}

func (c *Config) requireTransfer(errs *[]error, field, name string) {
	if name == "" {
		*errs = append(*errs, atomdeploy.NewConfigurationError(field, "is required"))
		return
	}
	if _, ok := c.Transfers[name]; !ok {
		*errs = append(*errs, atomdeploy.NewConfigurationError(field, "unknown transfer %q", name))
	}
}

// SimpleName rejects empty names and names containing a path separator.
func SimpleName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("must not be empty")
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%q must not contain a path separator", name)
	case name == "." || name == "..":
		return fmt.Errorf("%q is not a valid name", name)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
