package vfs

import (
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// EnsureDir creates dir (and parents) if it does not already exist.
func EnsureDir(fs afero.Fs, dir string) error {
	return fs.MkdirAll(dir, 0o755)
}

// ListFiles returns the base names of regular files directly inside dir
// whose name matches the given glob pattern, sorted lexically.
func ListFiles(fs afero.Fs, dir, pattern string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := filepath.Match(pattern, e.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
