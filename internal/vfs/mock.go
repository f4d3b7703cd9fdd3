package vfs

import "github.com/spf13/afero"

// NewMockFs returns an in-memory afero.Fs for the "mock" mode tests use in
// place of a real disk (spec.md §4.1).
func NewMockFs() afero.Fs {
	return afero.NewMemMapFs()
}
