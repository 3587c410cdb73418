package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRelocate_CreatesDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("a"), 0644))
	dest := filepath.Join(dir, "nested", "out")

	moved, err := Relocate([]string{src}, dest, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dest, "a.txt")}, moved)
	assert.NoFileExists(t, src)
	assert.FileExists(t, filepath.Join(dest, "a.txt"))
}

func TestRelocate_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a.txt"), []byte("old"), 0644))
	src := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0644))

	_, err := Relocate([]string{src}, dest, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestRelocate_StopsOnFailedMove(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(first, []byte("a"), 0644))
	missing := filepath.Join(dir, "gone.txt")
	dest := filepath.Join(dir, "out")

	moved, err := Relocate([]string{first, missing}, dest, zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone.txt")
	assert.Equal(t, []string{filepath.Join(dest, "a.txt")}, moved)
}
