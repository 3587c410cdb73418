package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/limnc/flaked/errors"
	"github.com/limnc/flaked/logger"
)

// backupSuffixes in rotation order, newest first.
var backupSuffixes = []string{".back1", ".back2", ".back3"}

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	// Rotate backups: .back3 -> delete, .back2 -> .back3, .back1 -> .back2, current -> .back1
	oldest := configPath + backupSuffixes[len(backupSuffixes)-1]
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		logger.Warnw("Failed to delete old config backup", logger.FieldFile, oldest, logger.FieldError, err)
	}
	for i := len(backupSuffixes) - 1; i > 0; i-- {
		from := configPath + backupSuffixes[i-1]
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, configPath+backupSuffixes[i]); err != nil {
				return errors.Wrapf(err, "failed to rotate %s", from)
			}
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(configPath+backupSuffixes[0], content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}

// isBackupFile checks if the file is a config backup (.back1, .back2, .back3)
func isBackupFile(path string) bool {
	for _, suffix := range backupSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// Marshal encodes cfg in the format matching path's extension.
func Marshal(path string, cfg *Config) ([]byte, error) {
	if configType(path) == "toml" {
		data, err := toml.Marshal(cfg)
		return data, errors.Wrap(err, "failed to marshal config as TOML")
	}
	data, err := yaml.Marshal(cfg)
	return data, errors.Wrap(err, "failed to marshal config as YAML")
}

// Save writes cfg to path after rotating backups of the previous content.
func Save(path string, cfg *Config) error {
	data, err := Marshal(path, cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	if err := createBackup(path); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}
	if err := os.WriteFile(path, data, DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write config %s", path)
	}
	return nil
}

// EnsureFile writes the default configuration to path when nothing exists
// there yet. It reports whether a file was created.
func EnsureFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, errors.Wrapf(err, "failed to stat config %s", path)
	}

	if err := Save(path, Default(filepath.Dir(path))); err != nil {
		return false, err
	}
	return true, nil
}
