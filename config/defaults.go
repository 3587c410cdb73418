package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/limnc/flaked/errors"
)

// Default values written to a fresh configuration file.
const (
	DefaultSFTPHost     = "sftp.datalakes.org"
	DefaultSFTPPort     = 22
	DefaultSFTPPrefix   = "data"
	DefaultSFTPUser     = "user"
	DefaultSFTPPassword = "changeme"
	DefaultLogLevel     = "INFO"
	DefaultAttempts     = 3
	DefaultWaitSeconds  = 5
)

// EnvConfigPath overrides the configuration file location.
const EnvConfigPath = "FLAKED_CONFIG"

// SetDefaults configures default values for every settings key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("settings.transfer", string(TransferSFTP))

	// SFTP destination
	v.SetDefault("settings.sftp.port", DefaultSFTPPort)
	v.SetDefault("settings.sftp.prefix", DefaultSFTPPrefix)

	// Logging
	v.SetDefault("settings.logs.level", DefaultLogLevel)

	// Upload retry policy
	v.SetDefault("settings.attempts", DefaultAttempts)
	v.SetDefault("settings.wait", DefaultWaitSeconds)
}

// BindSensitiveEnvVars binds credentials to environment variables so they can
// stay out of the configuration file.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("settings.sftp.password", "FLAKED_SFTP_PASSWORD")
	v.BindEnv("settings.sftp.username", "FLAKED_SFTP_USERNAME")
	v.BindEnv("settings.s3.access_key", "FLAKED_S3_ACCESS_KEY")
	v.BindEnv("settings.s3.secret_key", "FLAKED_S3_SECRET_KEY")
}

// Default returns the configuration written on first start. Logs go to
// <dataDir>/logs.
func Default(dataDir string) *Config {
	return &Config{
		Settings: Settings{
			Transfer: TransferSFTP,
			SFTP: SFTPConfig{
				Host:     DefaultSFTPHost,
				Port:     DefaultSFTPPort,
				Prefix:   DefaultSFTPPrefix,
				Username: DefaultSFTPUser,
				Password: DefaultSFTPPassword,
			},
			Logs: LogsConfig{
				Path:  filepath.Join(dataDir, "logs"),
				Level: DefaultLogLevel,
			},
			Attempts: DefaultAttempts,
			Wait:     DefaultWaitSeconds,
		},
		Instruments: []Instrument{},
	}
}

// DefaultPath returns the configuration file location:
// $FLAKED_CONFIG, else <user config dir>/flaked/config.yml.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.WithHint(
			errors.Wrap(err, "could not determine user config directory"),
			"pass --config or set "+EnvConfigPath)
	}
	return filepath.Join(dir, "flaked", "config.yml"), nil
}
