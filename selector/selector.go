// Package selector lists the files of an instrument's input folder that are
// ready for transfer.
package selector

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/limnc/flaked/errors"
	"github.com/limnc/flaked/logger"
)

// File is one candidate file.
type File struct {
	Path    string // absolute path
	Name    string // base name
	ModTime time.Time
	Size    int64
}

// Filter narrows and trims the listing.
type Filter struct {
	pattern *regexp.Regexp
	skip    int
}

// NewFilter compiles pattern. The pattern must match at the start of the base
// name but need not consume all of it: "^a", "a" and "a.*" all select
// "abc.txt". An empty pattern selects everything. skip drops that many of the
// newest files.
func NewFilter(pattern string, skip int) (Filter, error) {
	if pattern == "" {
		pattern = ".*"
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return Filter{}, errors.Wrapf(err, "invalid file filter regex %q", pattern)
	}
	if skip < 0 {
		return Filter{}, errors.Newf("skip must be >= 0, got %d", skip)
	}
	return Filter{pattern: re, skip: skip}, nil
}

// Match reports whether a base name passes the filter.
func (f Filter) Match(name string) bool {
	if f.pattern == nil {
		return true
	}
	return f.pattern.MatchString(name)
}

// Resolve makes path absolute. Relative paths are joined to base, or to the
// working directory when base is empty.
func Resolve(path, base string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", errors.Wrap(err, "failed to get working directory")
		}
		base = wd
	}
	return filepath.Abs(filepath.Join(base, path))
}

// Select lists the regular files directly inside source that pass filter,
// newest first (ties by name), with the filter's skip applied to the sorted
// list. A missing source, or one that is not a directory, yields no files.
func Select(source string, filter Filter, log *zap.SugaredLogger) ([]File, error) {
	info, err := os.Stat(source)
	if os.IsNotExist(err) {
		log.Infow("READ_INPUT_FILES: source folder does not exist", logger.FieldSource, source)
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat source %s", source)
	}
	if !info.IsDir() {
		log.Errorw("READ_INPUT_FILES: source folder is not a directory", logger.FieldSource, source)
		return nil, nil
	}

	entries, err := os.ReadDir(source)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list source %s", source)
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if !filter.Match(entry.Name()) {
			continue
		}
		path := filepath.Join(source, entry.Name())
		// Stat follows symlinks, so a link to a regular file is picked up
		fi, err := os.Stat(path)
		if os.IsNotExist(err) {
			continue // removed since listing, or a dangling link
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to stat %s", path)
		}
		if !fi.Mode().IsRegular() {
			continue
		}
		files = append(files, File{
			Path:    path,
			Name:    entry.Name(),
			ModTime: fi.ModTime(),
			Size:    fi.Size(),
		})
	}

	Sort(files)
	files = Skip(files, filter.skip)

	log.Infow("READ_INPUT_FILES: source files selected", logger.FieldSource, source, logger.FieldCount, len(files))
	return files, nil
}

// Sort orders files newest first, breaking ties by name.
func Sort(files []File) {
	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].ModTime.After(files[j].ModTime)
		}
		return files[i].Name < files[j].Name
	})
}

// Skip drops the first n entries of an already sorted list.
func Skip(files []File, n int) []File {
	if n <= 0 {
		return files
	}
	if n >= len(files) {
		return []File{}
	}
	return files[n:]
}

// Paths returns the paths of files in order.
func Paths(files []File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}
