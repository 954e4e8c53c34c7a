package config

import (
	"errors"
	"time"

	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// ErrConfigNotFound is returned when the config file does not exist.
// Callers can check for this with errors.Is(err, config.ErrConfigNotFound).
var ErrConfigNotFound = errors.New("config file not found")

// ConfigFileName is the file looked up in the working directory when no --config is given.
const ConfigFileName = "atomdeploy.yaml"

// EnvPrefix prefixes environment variables that override configuration keys,
// e.g. ATOMDEPLOY_TARGETS_REMOTE_PASSWORD.
const EnvPrefix = "ATOMDEPLOY"

// Target types.
const (
	TargetLocal  = "local"
	TargetSFTP   = "sftp"
	TargetFTP    = "ftp"
	TargetMemory = "memory"
)

// Task types.
const (
	TaskDeploy   = "deploy"
	TaskTransfer = "transfer"
	TaskExec     = "exec"
	TaskCleanup  = "cleanup"
)

// DefaultTaskName is run when no task is named on the command line.
const DefaultTaskName = "default"

// DefaultSharedContainer holds persistent directories next to the deployments.
const DefaultSharedContainer = "shared"

// Config is the whole project configuration.
type Config struct {
	Targets    map[string]Target   `mapstructure:"targets" yaml:"targets"`
	Transfers  map[string]Transfer `mapstructure:"transfers" yaml:"transfers"`
	Deployment Deployment          `mapstructure:"deployment" yaml:"deployment"`
	Tasks      map[string]Task     `mapstructure:"tasks" yaml:"tasks"`

	// BaseDir is the directory of the first config file. Relative local
	// target paths are resolved against it.
	BaseDir string `mapstructure:"-" yaml:"-"`

	// Files lists the config files that were merged, in order.
	Files []string `mapstructure:"-" yaml:"-"`
}

// Target is one place files live: a local directory or a remote host.
type Target struct {
	Type           string        `mapstructure:"type" yaml:"type"`
	Path           string        `mapstructure:"path" yaml:"path,omitempty"`
	Host           string        `mapstructure:"host" yaml:"host,omitempty"`
	Port           int           `mapstructure:"port" yaml:"port,omitempty"`
	Username       string        `mapstructure:"username" yaml:"username,omitempty"`
	Password       string        `mapstructure:"password" yaml:"password,omitempty"`
	PrivateKeyFile string        `mapstructure:"private_key_file" yaml:"private_key_file,omitempty"`
	Passphrase     string        `mapstructure:"passphrase" yaml:"passphrase,omitempty"`
	KnownHostsFile string        `mapstructure:"known_hosts_file" yaml:"known_hosts_file,omitempty"`
	ExplicitTLS    bool          `mapstructure:"explicit_tls" yaml:"explicit_tls,omitempty"`
	DisableEPSV    bool          `mapstructure:"disable_epsv" yaml:"disable_epsv,omitempty"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout,omitempty"`
}

// targetKeys are bound to environment variables for every configured target.
var targetKeys = []string{
	"type", "path", "host", "port", "username", "password", "private_key_file",
	"passphrase", "known_hosts_file", "explicit_tls", "disable_epsv", "dial_timeout",
}

// HasShell reports whether the target type can run commands.
func (t Target) HasShell() bool {
	return t.Type == TargetLocal || t.Type == TargetSFTP
}

// Transfer copies a tree between two targets.
type Transfer struct {
	Source                       string   `mapstructure:"source" yaml:"source"`
	SourcePath                   string   `mapstructure:"source_path" yaml:"source_path,omitempty"`
	Destination                  string   `mapstructure:"destination" yaml:"destination,omitempty"`
	DestinationPath              string   `mapstructure:"destination_path" yaml:"destination_path,omitempty"`
	FilterPatterns               []string `mapstructure:"filter_patterns" yaml:"filter_patterns,omitempty"`
	FilterInverse                bool     `mapstructure:"filter_inverse" yaml:"filter_inverse"`
	Recursive                    *bool    `mapstructure:"recursive" yaml:"recursive,omitempty"`
	OverwriteFiles               bool     `mapstructure:"overwrite_files" yaml:"overwrite_files"`
	OverwriteEmptyDirectories    bool     `mapstructure:"overwrite_empty_directories" yaml:"overwrite_empty_directories"`
	OverwriteNonEmptyDirectories bool     `mapstructure:"overwrite_non_empty_directories" yaml:"overwrite_non_empty_directories"`
}

// IsRecursive defaults to true when recursive is not set.
func (t Transfer) IsRecursive() bool {
	return t.Recursive == nil || *t.Recursive
}

// Spec builds the transfer spec between two opened filesystems.
func (t Transfer) Spec(source, destination atomdeploy.Filesystem) atomdeploy.TransferSpec {
	return atomdeploy.TransferSpec{
		Source:                       source,
		SourcePath:                   t.SourcePath,
		Destination:                  destination,
		DestinationPath:              t.DestinationPath,
		FilterPatterns:               append([]string(nil), t.FilterPatterns...),
		FilterInverse:                t.FilterInverse,
		Recursive:                    t.IsRecursive(),
		OverwriteFiles:               t.OverwriteFiles,
		OverwriteEmptyDirectories:    t.OverwriteEmptyDirectories,
		OverwriteNonEmptyDirectories: t.OverwriteNonEmptyDirectories,
	}
}

// Deployment configures atomic deployments to one destination.
type Deployment struct {
	Destination    string          `mapstructure:"destination" yaml:"destination"`
	Directory      string          `mapstructure:"directory" yaml:"directory"`
	CurrentLink    string          `mapstructure:"current_link" yaml:"current_link"`
	SuccessFile    string          `mapstructure:"success_file" yaml:"success_file"`
	KeepSuccessful atomdeploy.Keep `mapstructure:"keep_successful" yaml:"keep_successful"`
	KeepFailed     atomdeploy.Keep `mapstructure:"keep_failed" yaml:"keep_failed"`
	Transfer       string          `mapstructure:"transfer" yaml:"transfer,omitempty"`
	Shared         []SharedDir     `mapstructure:"shared" yaml:"shared,omitempty"`
	Commands       []Command       `mapstructure:"commands" yaml:"commands,omitempty"`
	Links          []Link          `mapstructure:"links" yaml:"links,omitempty"`
	Confirm        bool            `mapstructure:"confirm" yaml:"confirm"`
}

// Retention returns the cleanup policy.
func (d Deployment) Retention() atomdeploy.RetentionPolicy {
	return atomdeploy.RetentionPolicy{Successful: d.KeepSuccessful, Failed: d.KeepFailed}
}

// SharedDir is a directory that survives deployments. It lives at
// <container>/<path> and is linked into every new deployment at <path>.
type SharedDir struct {
	Path      string `mapstructure:"path" yaml:"path"`
	Transfer  string `mapstructure:"transfer" yaml:"transfer,omitempty"`
	Container string `mapstructure:"container" yaml:"container,omitempty"`
}

// ContainerOrDefault returns the configured container or "shared".
func (s SharedDir) ContainerOrDefault() string {
	if s.Container == "" {
		return DefaultSharedContainer
	}
	return s.Container
}

// Command runs in the new deployment before it is published.
// Cwd is relative to the deployment directory.
type Command struct {
	Command string   `mapstructure:"command" yaml:"command"`
	Args    []string `mapstructure:"args" yaml:"args,omitempty"`
	Cwd     string   `mapstructure:"cwd" yaml:"cwd,omitempty"`
}

// Link is swapped to point into the new deployment after it is published.
// Link is relative to the destination root, Target to the deployment.
type Link struct {
	Link   string `mapstructure:"link" yaml:"link"`
	Target string `mapstructure:"target" yaml:"target"`
}

// Task is a named entry runnable with `atomdeploy run <name>`.
type Task struct {
	Type     string   `mapstructure:"type" yaml:"type"`
	Transfer string   `mapstructure:"transfer" yaml:"transfer,omitempty"`
	Target   string   `mapstructure:"target" yaml:"target,omitempty"`
	Command  string   `mapstructure:"command" yaml:"command,omitempty"`
	Args     []string `mapstructure:"args" yaml:"args,omitempty"`
	Cwd      string   `mapstructure:"cwd" yaml:"cwd,omitempty"`
}
