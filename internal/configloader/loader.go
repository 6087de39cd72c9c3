// SPDX-License-Identifier: AGPL-3.0-or-later

package configloader

import (
	"fmt"
	"os"
	"strings"

	"github.com/flowd-org/kfpt/internal/paths"
	"github.com/flowd-org/kfpt/internal/types"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ProjectFile is looked up in the working directory.
	ProjectFile = "kfpt.yaml"
	// UserFile is looked up in paths.ConfigDir().
	UserFile  = "config.yaml"
	envPrefix = "KFPT"
)

// Options selects where configuration is read from.
type Options struct {
	// ConfigFile is an explicit file (--config); it must exist.
	ConfigFile string
	// WorkDir is searched for kfpt.yaml; empty means the process working directory.
	WorkDir string
	// Flags maps config keys to command-line flags. Only flags the user
	// actually set take precedence over file and environment values.
	Flags map[string]*pflag.Flag
}

// SetDefaults registers every known key so that environment variables are
// visible to Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("endpoint", "")
	v.SetDefault("iap_client_id", "")
	v.SetDefault("api_namespace", "kubeflow")
	v.SetDefault("other_client_id", "")
	v.SetDefault("other_client_secret", "")
	v.SetDefault("namespace", "")
	v.SetDefault("pipeline_root", "")
	v.SetDefault("service_account", "")
	v.SetDefault("encryption_spec_key_name", "")
	v.SetDefault("project", "")
	v.SetDefault("location", "us-central1")
	v.SetDefault("network", "")
	v.SetDefault("parser.strict", false)
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.keep", 500)
	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "warn")
	v.SetDefault("data_dir", "")
}

// New builds a viper instance layered as defaults < file < KFPT_* env < flags.
// It returns the path of the config file that was read, if any.
func New(opts Options) (*viper.Viper, string, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	file, err := resolveFile(opts)
	if err != nil {
		return nil, "", err
	}
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("read config %s: %w", file, err)
		}
	}

	for key, flag := range opts.Flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, "", fmt.Errorf("bind flag --%s: %w", flag.Name, err)
		}
	}
	return v, file, nil
}

// Load resolves the configuration and pins the data directory when data_dir
// is set.
func Load(opts Options) (*types.Config, error) {
	v, _, err := New(opts)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

// Decode unmarshals and validates a prepared viper instance.
func Decode(v *viper.Viper) (*types.Config, error) {
	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	switch cfg.Log.Format {
	case "", "text", "json":
	default:
		return nil, fmt.Errorf("invalid log.format %q: must be text or json", cfg.Log.Format)
	}
	if cfg.History.Keep < 0 {
		return nil, fmt.Errorf("invalid history.keep %d: must not be negative", cfg.History.Keep)
	}
	if dir := strings.TrimSpace(cfg.DataDir); dir != "" {
		paths.SetDataDirOverride(dir)
	}
	cfg.DataDir = paths.DataDir()
	return &cfg, nil
}

func resolveFile(opts Options) (string, error) {
	if opts.ConfigFile != "" {
		if _, err := os.Stat(opts.ConfigFile); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return opts.ConfigFile, nil
	}

	return paths.FindConfig(opts.WorkDir, ProjectFile, UserFile)
}

// Starter renders a starter kfpt.yaml holding the defaults.
func Starter() ([]byte, error) {
	v := viper.New()
	SetDefaults(v)
	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode defaults: %w", err)
	}
	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("encode starter config: %w", err)
	}
	return out, nil
}
