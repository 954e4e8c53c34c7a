package config

import (
	"bytes"
	"fmt"

	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
	"gopkg.in/yaml.v3"
)

// Starter returns the configuration written by `atomdeploy init`: the
// project directory deployed to a remote host over SFTP.
func Starter() *Config {
	recursive := true
	return &Config{
		Targets: map[string]Target{
			"project": {Type: TargetLocal, Path: "./"},
			"remote": {
				Type:           TargetSFTP,
				Host:           "example.com",
				Port:           atomdeploy.DefaultSSHPort,
				Username:       "deploy",
				PrivateKeyFile: "~/.ssh/id_ed25519",
				KnownHostsFile: "~/.ssh/known_hosts",
				Path:           "/home/deploy/example.com",
			},
		},
		Transfers: map[string]Transfer{
			"project": {
				Source:                    "project",
				SourcePath:                "/",
				Destination:               "remote",
				FilterPatterns:            []string{`^/\.git/`, `^/node_modules/`, `^/\.env$`, `^/atomdeploy\.yaml$`},
				FilterInverse:             true,
				Recursive:                 &recursive,
				OverwriteEmptyDirectories: true,
			},
		},
		Deployment: Deployment{
			Destination:    "remote",
			Directory:      atomdeploy.DefaultDirectory,
			CurrentLink:    atomdeploy.DefaultCurrentLink,
			SuccessFile:    atomdeploy.DefaultSuccessFile,
			KeepSuccessful: atomdeploy.KeepCount(3),
			KeepFailed:     atomdeploy.KeepCount(1),
			Transfer:       "project",
		},
		Tasks: map[string]Task{
			DefaultTaskName: {Type: TaskDeploy},
		},
	}
}

// Render serializes cfg as YAML.
func Render(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return buf.Bytes(), nil
}
