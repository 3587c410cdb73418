package config

import (
	"regexp"

	"github.com/robfig/cron/v3"

	"github.com/limnc/flaked/errors"
)

// instrumentName is also a log file name and the first half of a job ID.
var instrumentName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if err := c.Settings.Validate(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Instruments))
	for i := range c.Instruments {
		inst := &c.Instruments[i]
		if err := inst.Validate(); err != nil {
			return errors.Wrapf(err, "instruments[%d]", i)
		}
		if seen[inst.Name] {
			return errors.NewInvalidRequestError("duplicate instrument name %q", inst.Name)
		}
		seen[inst.Name] = true
	}
	return nil
}

// Validate checks the global settings.
func (s *Settings) Validate() error {
	// Attempts: at least the first try
	if s.Attempts < 1 {
		return errors.NewInvalidRequestError("settings.attempts must be >= 1, got %d", s.Attempts)
	}
	if s.Wait < 0 {
		return errors.NewInvalidRequestError("settings.wait must be >= 0, got %d", s.Wait)
	}

	switch s.Transfer {
	case "", TransferSFTP:
		if s.SFTP.Host == "" {
			return errors.NewInvalidRequestError("settings.sftp.host cannot be empty")
		}
		if s.SFTP.Port <= 0 || s.SFTP.Port > 65535 {
			return errors.NewInvalidRequestError("settings.sftp.port must be in 1..65535, got %d", s.SFTP.Port)
		}
	case TransferS3:
		if s.S3 == nil || s.S3.Endpoint == "" || s.S3.Bucket == "" {
			return errors.WithHint(
				errors.NewInvalidRequestError("settings.s3 needs endpoint and bucket when settings.transfer is s3"),
				"add a settings.s3 section or set settings.transfer to sftp")
		}
	default:
		return errors.NewInvalidRequestError("settings.transfer must be sftp or s3, got %q", string(s.Transfer))
	}
	return nil
}

// Validate checks one instrument. The cron expression and filter regex are
// compiled so that a broken instrument is rejected before it is scheduled.
func (i *Instrument) Validate() error {
	if !instrumentName.MatchString(i.Name) {
		return errors.WithHint(
			errors.NewInvalidRequestError("invalid instrument name %q", i.Name),
			"use letters, digits, '.', '_' or '-'")
	}
	if i.Schedule.Interval != nil {
		if _, err := i.Schedule.Interval.Duration(); err != nil {
			return errors.WrapInvalidRequest(err, "instrument "+i.Name+" schedule.interval")
		}
	}
	if i.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(i.Schedule.Cron); err != nil {
			return errors.WithHint(
				errors.WrapInvalidRequest(err, "instrument "+i.Name+" schedule.cron"),
				"use five fields: minute hour day-of-month month day-of-week")
		}
	}
	if i.Input.Path == "" {
		return errors.NewInvalidRequestError("instrument %s input.path cannot be empty", i.Name)
	}
	if i.Output.Path == "" {
		return errors.NewInvalidRequestError("instrument %s output.path cannot be empty", i.Name)
	}
	if f := i.Input.Filter; f != nil {
		if _, err := regexp.Compile(f.Pattern()); err != nil {
			return errors.WrapInvalidRequest(err, "instrument "+i.Name+" input.filter.regex")
		}
		if f.Skip < 0 {
			return errors.NewInvalidRequestError("instrument %s input.filter.skip must be >= 0, got %d", i.Name, f.Skip)
		}
		if f.MinAge != nil {
			if _, err := f.MinAge.Duration(); err != nil {
				return errors.WrapInvalidRequest(err, "instrument "+i.Name+" input.filter.minAge")
			}
		}
	}
	for _, c := range []*CommandConfig{i.Preprocess, i.Postprocess} {
		if c == nil {
			continue
		}
		if c.Command == "" {
			return errors.NewInvalidRequestError("instrument %s has a process hook without command", i.Name)
		}
		if c.Timeout < 0 {
			return errors.NewInvalidRequestError("instrument %s hook timeout must be >= 0, got %d", i.Name, c.Timeout)
		}
	}
	return nil
}
