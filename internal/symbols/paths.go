// Package symbols resolves module paths recorded in trace data to
// actual files on disk.
package symbols

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrModuleNotFound is returned when a module referenced by trace data
// cannot be located in any search path.
var ErrModuleNotFound = errors.New("module could not be located")

// GuessTargetPath resolves a module path from trace data to an
// absolute path on the local filesystem. The recorded path is tried
// as-is first; guest paths rarely exist on the host, so each search
// path is then walked for a regular file with a matching base name.
// The first hit wins.
func GuessTargetPath(searchPaths []string, module string) (string, error) {
	if fi, err := os.Stat(module); err == nil && fi.Mode().IsRegular() {
		return filepath.Abs(module)
	}

	base := filepath.Base(module)
	for _, dir := range searchPaths {
		var found string
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Unreadable entries are skipped, not fatal.
				return nil
			}
			if !d.IsDir() && d.Name() == base {
				found = path
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("search %s: %w", dir, err)
		}
		if found != "" {
			return filepath.Abs(found)
		}
	}

	return "", fmt.Errorf("%w: %s (searched %d paths)", ErrModuleNotFound, module, len(searchPaths))
}
