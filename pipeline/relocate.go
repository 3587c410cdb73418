package pipeline

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/limnc/flaked/config"
	"github.com/limnc/flaked/errors"
	"github.com/limnc/flaked/logger"
)

// Relocate moves files into destination, keeping their base names, and
// returns the new paths. The destination is created when missing. When it
// exists but is not a directory nothing is moved and no error is returned.
// A failed move stops the relocation and is returned along with the files
// already moved.
func Relocate(files []string, destination string, log *zap.SugaredLogger) ([]string, error) {
	info, err := os.Stat(destination)
	switch {
	case err == nil && !info.IsDir():
		log.Errorw("MOVE_FILES: destination is not a directory, files left in place",
			logger.FieldDestination, destination,
			logger.FieldCount, len(files))
		return nil, nil
	case os.IsNotExist(err):
		if err := os.MkdirAll(destination, config.DefaultDirPermissions); err != nil {
			return nil, errors.Wrapf(err, "failed to create destination %s", destination)
		}
	case err != nil:
		return nil, errors.Wrapf(err, "failed to stat destination %s", destination)
	}

	moved := make([]string, 0, len(files))
	for _, src := range files {
		target := filepath.Join(destination, filepath.Base(src))
		if err := os.Rename(src, target); err != nil {
			return moved, errors.Wrapf(err, "failed to move %s to %s", src, destination)
		}
		moved = append(moved, target)
	}

	log.Infow("MOVE_FILES: files moved", logger.FieldDestination, destination, logger.FieldCount, len(moved))
	return moved, nil
}
