// Package config loads qcow2ctl's runtime configuration: physical sector
// size overrides, default cluster size for create, and LUKS recovery
// defaults, layered through Viper (built-in defaults, config file, env).
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is qcow2ctl's configuration surface.
type Config struct {
	ClusterBits   uint32 `mapstructure:"cluster_bits"`
	SectorSize    uint32 `mapstructure:"sector_size"`
	RecoveryHash  string `mapstructure:"recovery_hash"`
	VerboseChecks bool   `mapstructure:"verbose_checks"`
}

// Load reads qcow2ctl's configuration from (in increasing priority) its
// built-in defaults, a qcow2ctl.yaml found on the search path, and the
// QCOW2CTL_-prefixed environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("qcow2ctl")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.qcow2ctl")
	v.AddConfigPath("/etc/qcow2ctl")

	v.SetDefault("cluster_bits", 16)
	v.SetDefault("sector_size", 0) // 0 means: ask the device
	v.SetDefault("recovery_hash", "sha256")
	v.SetDefault("verbose_checks", false)

	v.SetEnvPrefix("QCOW2CTL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading qcow2ctl.yaml: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}
	return &cfg, nil
}
