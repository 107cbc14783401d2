// Package config loads the runtime configuration from an optional YAML file
// and BINDERY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// EnvPrefix prefixes every environment override, with dots in keys turned
// into underscores: BINDERY_DEPLOY_WATCH overrides deploy.watch.
const EnvPrefix = "BINDERY"

type Config struct {
	// ModulesDir holds the modules installed at boot. Each entry is a
	// directory or a .zip/.jar archive with a module.yaml at its root.
	ModulesDir string       `json:"modules_dir" mapstructure:"modules_dir"`
	Deploy     DeployConfig `json:"deploy" mapstructure:"deploy"`
	// Workers bounds the fan-out of bulk operations.
	Workers         int           `json:"workers" mapstructure:"workers"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	// BootPackages are supplied by the host process and never wired.
	BootPackages []string     `json:"boot_packages" mapstructure:"boot_packages"`
	System       SystemConfig `json:"system" mapstructure:"system"`
	// DefaultStartLevel is assigned to modules that do not declare one.
	DefaultStartLevel int       `json:"default_start_level" mapstructure:"default_start_level"`
	Log               LogConfig `json:"log" mapstructure:"log"`

	MetricsBindAddress     string `json:"metrics_bind_address" mapstructure:"metrics_bind_address"`
	HealthProbeBindAddress string `json:"health_probe_bind_address" mapstructure:"health_probe_bind_address"`
}

type DeployConfig struct {
	Dir   string `json:"dir" mapstructure:"dir"`
	Watch bool   `json:"watch" mapstructure:"watch"`
	// Debounce coalesces bursts of file events for one archive.
	Debounce time.Duration `json:"debounce" mapstructure:"debounce"`
}

// SystemConfig describes the system module the runtime itself provides.
type SystemConfig struct {
	Name    string `json:"name" mapstructure:"name"`
	Version string `json:"version" mapstructure:"version"`
	// Packages are exported by the system module at Version.
	Packages []string `json:"packages" mapstructure:"packages"`
}

type LogConfig struct {
	Level       string `json:"level" mapstructure:"level"`
	Development bool   `json:"development" mapstructure:"development"`
}

func Default() Config {
	return Config{
		ModulesDir:      "modules",
		Deploy:          DeployConfig{Debounce: 500 * time.Millisecond},
		Workers:         8,
		ShutdownTimeout: 30 * time.Second,
		System: SystemConfig{
			Name:    "bindery.system",
			Version: "1.0.0",
		},
		DefaultStartLevel:      1,
		Log:                    LogConfig{Level: "info"},
		MetricsBindAddress:     ":8080",
		HealthProbeBindAddress: ":8081",
	}
}

// Load reads path (if not empty) over the defaults and applies environment
// overrides, then validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("modules_dir", d.ModulesDir)
	v.SetDefault("deploy.dir", d.Deploy.Dir)
	v.SetDefault("deploy.watch", d.Deploy.Watch)
	v.SetDefault("deploy.debounce", d.Deploy.Debounce)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("boot_packages", d.BootPackages)
	v.SetDefault("system.name", d.System.Name)
	v.SetDefault("system.version", d.System.Version)
	v.SetDefault("system.packages", d.System.Packages)
	v.SetDefault("default_start_level", d.DefaultStartLevel)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("metrics_bind_address", d.MetricsBindAddress)
	v.SetDefault("health_probe_bind_address", d.HealthProbeBindAddress)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var ErrInvalid = errors.New("invalid configuration")

// ValidationError lists every problem Validate found.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %v", ErrInvalid, e.Err) }

func (e *ValidationError) Unwrap() error { return ErrInvalid }

func (e *ValidationError) Errors() []error { return multierr.Errors(e.Err) }

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs error
	if c.Workers <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.ShutdownTimeout <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout))
	}
	if c.DefaultStartLevel < 1 {
		errs = multierr.Append(errs, fmt.Errorf("default_start_level must be at least 1, got %d", c.DefaultStartLevel))
	}
	if c.System.Name == "" {
		errs = multierr.Append(errs, errors.New("system.name is required"))
	}
	if c.Deploy.Watch && c.Deploy.Dir == "" {
		errs = multierr.Append(errs, errors.New("deploy.dir is required when deploy.watch is set"))
	}
	if c.Deploy.Debounce < 0 {
		errs = multierr.Append(errs, fmt.Errorf("deploy.debounce must not be negative, got %s", c.Deploy.Debounce))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if errs != nil {
		return &ValidationError{Err: errs}
	}
	return nil
}
