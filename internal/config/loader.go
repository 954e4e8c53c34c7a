package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// LoadOptions selects what Load reads.
type LoadOptions struct {
	// Files are merged in order; later files override earlier ones.
	// Empty means ConfigFileName in the working directory.
	Files []string

	// EnvFile is loaded into the process environment before the config is
	// read. Empty means ".env" next to the first config file, if present.
	EnvFile string
}

// Load reads, merges and validates the configuration.
func Load(opts LoadOptions) (*Config, error) {
	files := opts.Files
	if len(files) == 0 {
		files = []string{ConfigFileName}
	}

	first, err := filepath.Abs(files[0])
	if err != nil {
		return nil, err
	}
	baseDir := filepath.Dir(first)

	if err := loadEnvFile(opts.EnvFile, baseDir); err != nil {
		return nil, err
	}

	v := newViper()
	for i, file := range files {
		v.SetConfigFile(file)
		if i == 0 {
			err = v.ReadInConfig()
		} else {
			err = v.MergeInConfig()
		}
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, file)
			}
			return nil, atomdeploy.NewConfigurationError("", "read %s: %v", file, err)
		}
	}
	bindEnv(v)

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.BaseDir = baseDir
	cfg.Files = append([]string(nil), files...)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("deployment.directory", atomdeploy.DefaultDirectory)
	v.SetDefault("deployment.current_link", atomdeploy.DefaultCurrentLink)
	v.SetDefault("deployment.success_file", atomdeploy.DefaultSuccessFile)
	v.SetDefault("deployment.keep_successful", "all")
	v.SetDefault("deployment.keep_failed", "all")
	v.SetDefault("deployment.confirm", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// bindEnv makes target keys overridable even when the file omits them,
// so secrets can live only in the environment.
func bindEnv(v *viper.Viper) {
	for name := range v.GetStringMap("targets") {
		for _, key := range targetKeys {
			_ = v.BindEnv("targets." + name + "." + key)
		}
	}
	_ = v.BindEnv("deployment.destination")
	_ = v.BindEnv("deployment.transfer")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		keepHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, atomdeploy.NewConfigurationError("", "decode: %v", err)
	}
	return &cfg, nil
}

var keepType = reflect.TypeOf(atomdeploy.Keep{})

// keepHook decodes retention counts from YAML booleans, integers and strings.
func keepHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != keepType {
		return data, nil
	}
	switch value := data.(type) {
	case atomdeploy.Keep:
		return value, nil
	case bool:
		if value {
			return atomdeploy.KeepAll(), nil
		}
		return atomdeploy.KeepCount(0), nil
	case int:
		return atomdeploy.ParseKeep(fmt.Sprint(value))
	case int64:
		return atomdeploy.ParseKeep(fmt.Sprint(value))
	case uint64:
		return atomdeploy.ParseKeep(fmt.Sprint(value))
	case float64:
		if value != float64(int64(value)) {
			return nil, fmt.Errorf("keep value %v is not a whole number: %w", value, atomdeploy.ErrInvalidConfig)
		}
		return atomdeploy.ParseKeep(fmt.Sprint(int64(value)))
	case string:
		return atomdeploy.ParseKeep(value)
	case nil:
		return atomdeploy.KeepAll(), nil
	default:
		return nil, fmt.Errorf("keep value of type %s is not supported: %w", from, atomdeploy.ErrInvalidConfig)
	}
}

// applyDefaults fills in values that depend on other values.
func (c *Config) applyDefaults() {
	for name, t := range c.Targets {
		t.Type = strings.ToLower(t.Type)
		if t.Type == TargetLocal && t.Path != "" && !filepath.IsAbs(t.Path) {
			t.Path = filepath.Join(c.BaseDir, t.Path)
		}
		c.Targets[name] = t
	}

	if len(c.Tasks) == 0 && c.Deployment.Destination != "" {
		c.Tasks = map[string]Task{DefaultTaskName: {Type: TaskDeploy}}
	}
}

func loadEnvFile(explicit, baseDir string) error {
	if explicit != "" {
		if err := godotenv.Load(explicit); err != nil {
			return atomdeploy.NewConfigurationError("env-file", "load %s: %v", explicit, err)
		}
		return nil
	}

	candidate := filepath.Join(baseDir, ".env")
	if _, err := os.Stat(candidate); err != nil {
		return nil
	}
	if err := godotenv.Load(candidate); err != nil {
		return atomdeploy.NewConfigurationError("env-file", "load %s: %v", candidate, err)
	}
	return nil
}
