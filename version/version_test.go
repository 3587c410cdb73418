package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo_IsRelease(t *testing.T) {
	cases := map[string]bool{
		"dev":          false,
		"1.4.0":        true,
		"v2.0.1":       true,
		"1.5.0-rc.1":   false,
		"not-a-semver": false,
	}
	for v, want := range cases {
		assert.Equal(t, want, Info{Version: v}.IsRelease(), v)
	}
}

func TestInfo_String(t *testing.T) {
	info := Info{Version: "v1.2.3", CommitHash: "0123456789abcdef", BuildTime: "2024-05-01"}
	assert.Equal(t, "flaked v1.2.3 (commit 0123456, built 2024-05-01)", info.String())

	dev := Info{Version: "dev", CommitHash: "dev", BuildTime: "unknown"}
	assert.Equal(t, "flaked dev (commit dev, built unknown)", dev.String())
}

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
	assert.False(t, info.Release)
}
