// Package config provides Viper-based configuration management for labctl
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete labctl configuration
type Config struct {
	Cluster ClusterConfig `mapstructure:"cluster"`
	Lab     LabConfig     `mapstructure:"lab"`
	Deploy  DeployConfig  `mapstructure:"deploy"`
	Modules ModulesConfig `mapstructure:"modules"`
	Logging LoggingConfig `mapstructure:"logging"`
	Output  OutputConfig  `mapstructure:"output"`
}

// ClusterConfig contains cluster connection settings
type ClusterConfig struct {
	Kubeconfig string `mapstructure:"kubeconfig"`
	Context    string `mapstructure:"context"`
}

// LabConfig contains lab environment settings
type LabConfig struct {
	Namespace string `mapstructure:"namespace"`
	Domain    string `mapstructure:"domain"`
}

// DeployConfig contains default deployment behavior settings
type DeployConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Wait    bool          `mapstructure:"wait"`
}

// ModulesConfig is a map of module-specific overrides
type ModulesConfig map[string]ModuleOverride

// ModuleOverride contains per-module configuration overrides
type ModuleOverride struct {
	Timeout time.Duration  `mapstructure:"timeout"`
	Values  map[string]any `mapstructure:"values"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// OutputConfig contains output formatting settings
type OutputConfig struct {
	Colors bool `mapstructure:"colors"`
}

// Load reads configuration from file and environment variables
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	// Set config file if specified
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		// Search paths for .labctl.yaml
		v.SetConfigName(".labctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/labctl")
	}

	// Environment variables
	v.SetEnvPrefix("LABCTL")
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	// Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values
func setDefaults(v *viper.Viper) {
	// Cluster defaults: empty kubeconfig/context fall through to the
	// standard clientcmd loading rules (KUBECONFIG, ~/.kube/config)
	v.SetDefault("cluster.kubeconfig", "")
	v.SetDefault("cluster.context", "")

	// Lab defaults
	v.SetDefault("lab.namespace", "lab")
	v.SetDefault("lab.domain", "apps-crc.testing")

	// Deploy defaults
	v.SetDefault("deploy.timeout", 5*time.Minute)
	v.SetDefault("deploy.wait", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Output defaults
	v.SetDefault("output.colors", true)
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.Lab.Namespace == "" {
		return fmt.Errorf("lab namespace must not be empty")
	}

	if cfg.Deploy.Timeout <= 0 {
		return fmt.Errorf("deploy timeout must be positive, got %s", cfg.Deploy.Timeout)
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", cfg.Logging.Level)
	}

	// Validate logging format
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s (must be text or json)", cfg.Logging.Format)
	}

	return nil
}

// ModuleTimeout returns the health timeout for a module: the per-module
// override when set, otherwise the global deploy timeout.
func (c *Config) ModuleTimeout(name string, moduleDefault time.Duration) time.Duration {
	if o, ok := c.Modules[name]; ok && o.Timeout > 0 {
		return o.Timeout
	}
	if moduleDefault > 0 {
		return moduleDefault
	}
	return c.Deploy.Timeout
}

// ModuleValues returns configured value overrides for a module, or nil.
func (c *Config) ModuleValues(name string) map[string]any {
	if o, ok := c.Modules[name]; ok {
		return o.Values
	}
	return nil
}
