package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `settings:
  sftp:
    host: sftp.example.org
    username: lake
    password: secret
  logs:
    path: /var/log/flaked
  input: /data/in
  output: /data/out
instruments:
  - name: inst1
    schedule:
      cron: "0 0 * * *"
      interval:
        value: 1
        unit: minutes
    preprocess:
      command: /usr/bin/collect
      args: ["--fast"]
    input:
      path: inst1
      filter:
        regex: "^a"
        skip: 2
        minAge:
          value: 10
          unit: minutes
    output:
      path: done/inst1
    logs:
      path: /var/log/inst1
      level: DEBUG
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFile_InstrumentWithoutSchedule(t *testing.T) {
	const content = `instruments:
  - name: manual
    input:
      path: /data/manual
    output:
      path: /data/manual-done
  - name: inst1
    schedule:
      cron: "0 0 * * *"
    input:
      path: /data/inst1
    output:
      path: /data/inst1-done
`
	cfg, err := LoadFromFile(writeFile(t, "config.yml", content))
	require.NoError(t, err)
	require.Len(t, cfg.Instruments, 2)

	manual, ok := cfg.Instrument("manual")
	require.True(t, ok)
	assert.Empty(t, manual.Schedule.Cron)
	assert.Nil(t, manual.Schedule.Interval)
}

func TestLoadFromFile_YAML(t *testing.T) {
	cfg, err := LoadFromFile(writeFile(t, "config.yml", sampleYAML))
	require.NoError(t, err)

	s := cfg.Settings
	assert.Equal(t, TransferSFTP, s.Transfer)
	assert.Equal(t, "sftp.example.org", s.SFTP.Host)
	assert.Equal(t, DefaultSFTPPort, s.SFTP.Port)
	assert.Equal(t, DefaultSFTPPrefix, s.SFTP.Prefix)
	assert.Equal(t, DefaultLogLevel, s.Logs.Level)
	assert.Equal(t, DefaultAttempts, s.Attempts)
	assert.Equal(t, DefaultWaitSeconds, s.Wait)

	require.Len(t, cfg.Instruments, 1)
	inst := cfg.Instruments[0]
	assert.Equal(t, "inst1", inst.Name)
	assert.Equal(t, "0 0 * * *", inst.Schedule.Cron)
	require.NotNil(t, inst.Schedule.Interval)
	assert.Equal(t, Interval{Value: 1, Unit: UnitMinutes}, *inst.Schedule.Interval)
	require.NotNil(t, inst.Preprocess)
	assert.Equal(t, []string{"--fast"}, inst.Preprocess.Args)
	require.NotNil(t, inst.Input.Filter)
	assert.Equal(t, "^a", inst.Input.Filter.Pattern())
	assert.Equal(t, 2, inst.Input.Filter.SkipCount())
	require.NotNil(t, inst.Input.Filter.MinAge)
	assert.Nil(t, inst.Postprocess)

	dir, level := inst.LogTarget(s)
	assert.Equal(t, "/var/log/inst1", dir)
	assert.Equal(t, "DEBUG", level)
}

func TestLoadFromFile_TOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
[settings]
attempts = 5
wait = 0

[settings.sftp]
host = "sftp.example.org"
port = 2222

[settings.logs]
path = "logs"

[[instruments]]
name = "inst2"
[instruments.schedule]
cron = "*/5 * * * *"
[instruments.input]
path = "/in"
[instruments.output]
path = "/out"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Settings.Attempts)
	assert.Equal(t, 0, cfg.Settings.Wait)
	assert.Equal(t, 2222, cfg.Settings.SFTP.Port)
	require.Len(t, cfg.Instruments, 1)
	assert.Equal(t, "*/5 * * * *", cfg.Instruments[0].Schedule.Cron)
	assert.Nil(t, cfg.Instruments[0].Schedule.Interval)
}

func TestLoadFromFile_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("FLAKED_SFTP_PASSWORD", "from-env")

	cfg, err := LoadFromFile(writeFile(t, "config.yml", sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Settings.SFTP.Password)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

func TestInterval_Duration(t *testing.T) {
	d, err := Interval{Value: 2, Unit: UnitHours}.Duration()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, d)

	d, err = Interval{Value: 1, Unit: UnitWeeks}.Duration()
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, d)

	_, err = Interval{Value: 1, Unit: "fortnights"}.Duration()
	assert.Error(t, err)
	_, err = Interval{Value: 0, Unit: UnitMinutes}.Duration()
	assert.Error(t, err)
}

func TestInstrument_CloneIsDeep(t *testing.T) {
	cfg, err := LoadFromFile(writeFile(t, "config.yml", sampleYAML))
	require.NoError(t, err)

	orig := cfg.Instruments[0]
	cp := orig.Clone()
	cp.Schedule.Interval.Value = 99
	cp.Preprocess.Args[0] = "--slow"
	cp.Input.Filter.Skip = 7
	cp.Logs.Level = "ERROR"

	assert.Equal(t, 1, orig.Schedule.Interval.Value)
	assert.Equal(t, "--fast", orig.Preprocess.Args[0])
	assert.Equal(t, 2, orig.Input.Filter.Skip)
	assert.Equal(t, "DEBUG", orig.Logs.Level)
}

func TestSettings_Redacted(t *testing.T) {
	s := Default(t.TempDir()).Settings
	s.S3 = &S3Config{Endpoint: "minio:9000", Bucket: "b", SecretKey: "k"}

	r := s.Redacted()
	assert.Equal(t, redactedSecret, r.SFTP.Password)
	assert.Equal(t, redactedSecret, r.S3.SecretKey)
	assert.Equal(t, DefaultSFTPPassword, s.SFTP.Password)
	assert.Equal(t, "k", s.S3.SecretKey)
}

func TestDefaultPath_Env(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/flaked/config.yml")
	p, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "/etc/flaked/config.yml", p)
}
