// Package config provides process-level configuration loading for
// l4proxyd: the web control-plane listen address, the instance
// persistence path, and logging verbosity. Per-instance configuration
// lives in proxycfg and is validated by the registry, not here.
//
// Configuration is loaded with the following priority (highest to
// lowest):
//  1. Command-line flags (not handled here, see cmd/l4proxyd/main.go)
//  2. Environment variables (L4PROXYD_* prefix)
//  3. Hardcoded defaults
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config is the process-level configuration surface.
type Config struct {
	WebListenIP   string
	WebListenPort int
	Verbose       bool
	ConfigPath    string
	APIKey        string
}

// initViper sets up the loader with defaults and env binding.
func initViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("L4PROXYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("web.listen_ip", "127.0.0.1")
	v.SetDefault("web.listen_port", 8080)
	v.SetDefault("verbose", false)
	v.SetDefault("config_path", "instances.toml")
	v.SetDefault("api_key", "")
}

// Load reads defaults and environment variables into a Config.
// Command-line flags are applied afterward by the caller.
func Load() (*Config, error) {
	v := initViper()

	cfg := &Config{
		WebListenIP:   v.GetString("web.listen_ip"),
		WebListenPort: v.GetInt("web.listen_port"),
		Verbose:       v.GetBool("verbose"),
		ConfigPath:    v.GetString("config_path"),
		APIKey:        v.GetString("api_key"),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.WebListenPort <= 0 || cfg.WebListenPort > 65535 {
		return errors.New("web.listen_port must be 1..65535")
	}
	if cfg.ConfigPath == "" {
		return errors.New("config_path must not be empty")
	}
	return nil
}
