// Package config holds the flaked configuration model: global settings plus
// the list of instruments whose files are transferred on a schedule.
package config

import (
	"time"

	"github.com/limnc/flaked/errors"
)

// Config is the root of the configuration file.
type Config struct {
	Settings    Settings     `mapstructure:"settings" yaml:"settings" toml:"settings" json:"settings"`
	Instruments []Instrument `mapstructure:"instruments" yaml:"instruments" toml:"instruments" json:"instruments"`
}

// TransferKind selects the remote backend files are uploaded to.
type TransferKind string

const (
	TransferSFTP TransferKind = "sftp"
	TransferS3   TransferKind = "s3"
)

// Settings are shared by every instrument.
type Settings struct {
	Transfer TransferKind `mapstructure:"transfer" yaml:"transfer,omitempty" toml:"transfer,omitempty" json:"transfer,omitempty"`
	SFTP     SFTPConfig   `mapstructure:"sftp" yaml:"sftp" toml:"sftp" json:"sftp"`
	S3       *S3Config    `mapstructure:"s3" yaml:"s3,omitempty" toml:"s3,omitempty" json:"s3,omitempty"`
	Logs     LogsConfig   `mapstructure:"logs" yaml:"logs" toml:"logs" json:"logs"`
	Input    string       `mapstructure:"input" yaml:"input,omitempty" toml:"input,omitempty" json:"input,omitempty"`    // base for relative input paths
	Output   string       `mapstructure:"output" yaml:"output,omitempty" toml:"output,omitempty" json:"output,omitempty"` // base for relative output paths
	Attempts int          `mapstructure:"attempts" yaml:"attempts" toml:"attempts" json:"attempts"`                      // upload attempts per run (total)
	Wait     int          `mapstructure:"wait" yaml:"wait" toml:"wait" json:"wait"`                                      // seconds between upload attempts
}

// SFTPConfig is the SFTP destination.
type SFTPConfig struct {
	Host       string `mapstructure:"host" yaml:"host" toml:"host" json:"host"`
	Port       int    `mapstructure:"port" yaml:"port" toml:"port" json:"port"`
	Prefix     string `mapstructure:"prefix" yaml:"prefix" toml:"prefix" json:"prefix"` // remote directory holding one folder per instrument
	Username   string `mapstructure:"username" yaml:"username" toml:"username" json:"username"`
	Password   string `mapstructure:"password" yaml:"password" toml:"password" json:"password"`
	KeyFile    string `mapstructure:"key_file" yaml:"key_file,omitempty" toml:"key_file,omitempty" json:"key_file,omitempty"`          // private key, used instead of the password when set
	KnownHosts string `mapstructure:"known_hosts" yaml:"known_hosts,omitempty" toml:"known_hosts,omitempty" json:"known_hosts,omitempty"` // empty accepts any host key
}

// S3Config is an S3-compatible object store destination.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket" toml:"bucket" json:"bucket"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key" toml:"access_key" json:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key" toml:"secret_key" json:"secret_key"`
	Region    string `mapstructure:"region" yaml:"region,omitempty" toml:"region,omitempty" json:"region,omitempty"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl" toml:"use_ssl" json:"use_ssl"`
}

// LogsConfig locates log files and sets their level.
type LogsConfig struct {
	Path  string `mapstructure:"path" yaml:"path" toml:"path" json:"path"`
	Level string `mapstructure:"level" yaml:"level" toml:"level" json:"level"`
}

// TimeUnit is the unit of an Interval.
type TimeUnit string

const (
	UnitMinutes TimeUnit = "minutes"
	UnitHours   TimeUnit = "hours"
	UnitDays    TimeUnit = "days"
	UnitWeeks   TimeUnit = "weeks"
)

// Duration returns the length of one unit.
func (u TimeUnit) Duration() (time.Duration, error) {
	switch u {
	case UnitMinutes:
		return time.Minute, nil
	case UnitHours:
		return time.Hour, nil
	case UnitDays:
		return 24 * time.Hour, nil
	case UnitWeeks:
		return 7 * 24 * time.Hour, nil
	}
	return 0, errors.Newf("unknown time unit %q", string(u))
}

// Interval is a value and a unit, e.g. 15 minutes.
type Interval struct {
	Value int      `mapstructure:"value" yaml:"value" toml:"value" json:"value"`
	Unit  TimeUnit `mapstructure:"unit" yaml:"unit" toml:"unit" json:"unit"`
}

// Duration converts the interval to a time.Duration.
func (i Interval) Duration() (time.Duration, error) {
	unit, err := i.Unit.Duration()
	if err != nil {
		return 0, err
	}
	if i.Value <= 0 {
		return 0, errors.Newf("interval value must be > 0, got %d", i.Value)
	}
	return time.Duration(i.Value) * unit, nil
}

// ScheduleConfig holds the triggers of an instrument. Both may be set.
type ScheduleConfig struct {
	Cron     string    `mapstructure:"cron" yaml:"cron,omitempty" toml:"cron,omitempty" json:"cron,omitempty"`
	Interval *Interval `mapstructure:"interval" yaml:"interval,omitempty" toml:"interval,omitempty" json:"interval,omitempty"`
}

// CommandConfig is an external command run before or after a transfer.
type CommandConfig struct {
	Command string   `mapstructure:"command" yaml:"command" toml:"command" json:"command"`
	Args    []string `mapstructure:"args" yaml:"args,omitempty" toml:"args,omitempty" json:"args,omitempty"`
	Timeout int      `mapstructure:"timeout" yaml:"timeout,omitempty" toml:"timeout,omitempty" json:"timeout,omitempty"` // seconds, 0 waits forever
}

// DefaultFilterRegex selects every file.
const DefaultFilterRegex = ".*"

// FileFilter narrows the files picked up from an input folder.
type FileFilter struct {
	Regex  string    `mapstructure:"regex" yaml:"regex,omitempty" toml:"regex,omitempty" json:"regex,omitempty"`    // matched against the start of the file name
	Skip   int       `mapstructure:"skip" yaml:"skip,omitempty" toml:"skip,omitempty" json:"skip,omitempty"`        // newest files left in place
	MinAge *Interval `mapstructure:"minAge" yaml:"minAge,omitempty" toml:"minAge,omitempty" json:"minAge,omitempty"` // reserved, not evaluated
}

// Pattern returns the configured regex or DefaultFilterRegex.
func (f *FileFilter) Pattern() string {
	if f == nil || f.Regex == "" {
		return DefaultFilterRegex
	}
	return f.Regex
}

// SkipCount returns the skip count, 0 for a nil filter.
func (f *FileFilter) SkipCount() int {
	if f == nil {
		return 0
	}
	return f.Skip
}

// InputConfig is the folder instrument files are read from.
type InputConfig struct {
	Path   string      `mapstructure:"path" yaml:"path" toml:"path" json:"path"`
	Filter *FileFilter `mapstructure:"filter" yaml:"filter,omitempty" toml:"filter,omitempty" json:"filter,omitempty"`
}

// OutputConfig is the folder files are moved to once uploaded.
type OutputConfig struct {
	Path string `mapstructure:"path" yaml:"path" toml:"path" json:"path"`
}

// Instrument is one source of files with its own schedule.
type Instrument struct {
	Name        string         `mapstructure:"name" yaml:"name" toml:"name" json:"name"`
	Schedule    ScheduleConfig `mapstructure:"schedule" yaml:"schedule" toml:"schedule" json:"schedule"`
	Preprocess  *CommandConfig `mapstructure:"preprocess" yaml:"preprocess,omitempty" toml:"preprocess,omitempty" json:"preprocess,omitempty"`
	Postprocess *CommandConfig `mapstructure:"postprocess" yaml:"postprocess,omitempty" toml:"postprocess,omitempty" json:"postprocess,omitempty"`
	Input       InputConfig    `mapstructure:"input" yaml:"input" toml:"input" json:"input"`
	Output      OutputConfig   `mapstructure:"output" yaml:"output" toml:"output" json:"output"`
	Logs        *LogsConfig    `mapstructure:"logs" yaml:"logs,omitempty" toml:"logs,omitempty" json:"logs,omitempty"`
}

// LogTarget returns the log folder and level of the instrument, falling back
// to the global settings for anything the instrument leaves empty.
func (i Instrument) LogTarget(s Settings) (dir, level string) {
	dir, level = s.Logs.Path, s.Logs.Level
	if i.Logs != nil {
		if i.Logs.Path != "" {
			dir = i.Logs.Path
		}
		if i.Logs.Level != "" {
			level = i.Logs.Level
		}
	}
	return dir, level
}

// Clone returns a deep copy; callers may mutate it freely.
func (i Instrument) Clone() Instrument {
	out := i
	if i.Schedule.Interval != nil {
		iv := *i.Schedule.Interval
		out.Schedule.Interval = &iv
	}
	out.Preprocess = i.Preprocess.clone()
	out.Postprocess = i.Postprocess.clone()
	if i.Input.Filter != nil {
		f := *i.Input.Filter
		if f.MinAge != nil {
			age := *f.MinAge
			f.MinAge = &age
		}
		out.Input.Filter = &f
	}
	if i.Logs != nil {
		l := *i.Logs
		out.Logs = &l
	}
	return out
}

func (c *CommandConfig) clone() *CommandConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Args = append([]string(nil), c.Args...)
	return &out
}

// Clone returns a deep copy of the settings.
func (s Settings) Clone() Settings {
	out := s
	if s.S3 != nil {
		s3 := *s.S3
		out.S3 = &s3
	}
	return out
}

// Redacted returns a copy with credentials masked, for display.
func (s Settings) Redacted() Settings {
	out := s.Clone()
	if out.SFTP.Password != "" {
		out.SFTP.Password = redactedSecret
	}
	if out.S3 != nil && out.S3.SecretKey != "" {
		out.S3.SecretKey = redactedSecret
	}
	return out
}

const redactedSecret = "********"

// Clone returns a deep copy of the whole configuration.
func (c *Config) Clone() *Config {
	out := &Config{Settings: c.Settings.Clone()}
	out.Instruments = make([]Instrument, len(c.Instruments))
	for i, inst := range c.Instruments {
		out.Instruments[i] = inst.Clone()
	}
	return out
}

// Instrument returns the instrument with the given name.
func (c *Config) Instrument(name string) (Instrument, bool) {
	for _, inst := range c.Instruments {
		if inst.Name == name {
			return inst, true
		}
	}
	return Instrument{}, false
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
