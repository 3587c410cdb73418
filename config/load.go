package config

import (
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/limnc/flaked/errors"
)

// configType derives the viper config type from the file extension.
// Anything that is not TOML is read as YAML.
func configType(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}

// newViper initializes Viper for one configuration file with defaults and
// environment overrides (FLAKED_SETTINGS_ATTEMPTS, FLAKED_SFTP_PASSWORD, ...)
func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(configType(path))

	v.SetEnvPrefix("FLAKED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)
	SetDefaults(v)
	return v
}

// LoadFromFile reads and validates the configuration file at path.
func LoadFromFile(path string) (*Config, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}

	cfg, err := LoadWithViper(v)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load config from %s", path)
	}
	return cfg, nil
}

// LoadWithViper unmarshals and validates configuration from a prepared Viper
// instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if cfg.Instruments == nil {
		cfg.Instruments = []Instrument{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
