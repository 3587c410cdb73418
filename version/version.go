// Package version carries the build information of the flaked binary.
package version

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
)

// Build information. These variables are set at build time via ldflags.
var (
	// CommitHash is the git commit hash when the binary was built
	CommitHash = "dev"

	// BuildTime is when the binary was built
	BuildTime = "unknown"

	// Version is the semantic version (if tagged)
	Version = "dev"
)

// Info contains version and build information
type Info struct {
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	Version    string `json:"version"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
	Release    bool   `json:"release"`
}

// Get returns the current version information
func Get() Info {
	info := Info{
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		Version:    Version,
		GoVersion:  runtime.Version(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	info.Release = info.IsRelease()
	return info
}

// Semver parses Version. Development builds have no semantic version.
func (i Info) Semver() (*semver.Version, error) {
	return semver.NewVersion(i.Version)
}

// IsRelease reports whether the binary was built from a release tag: a valid
// semantic version without a prerelease suffix.
func (i Info) IsRelease() bool {
	v, err := i.Semver()
	if err != nil {
		return false
	}
	return v.Prerelease() == ""
}

// String returns a human-readable version string
func (i Info) String() string {
	if v, err := i.Semver(); err == nil {
		return fmt.Sprintf("flaked v%s (commit %s, built %s)", v.String(), i.Short(), i.BuildTime)
	}
	return fmt.Sprintf("flaked dev (commit %s, built %s)", i.Short(), i.BuildTime)
}

// Short returns a short version string with just the commit hash
func (i Info) Short() string {
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}
