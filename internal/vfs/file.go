// Package vfs implements the file abstraction every on-disk component in
// the engine builds on: append-only, random-write and read-only file modes,
// plus a crash-safe replace protocol, over an afero.Fs so tests can swap in
// an in-memory filesystem without touching a real disk.
package vfs

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/afero"
)

// Mode constrains how a File may be used; it is checked on every operation
// rather than relied on as documentation only.
type Mode uint8

const (
	// ModeAppendOnly rejects WriteAt: Write always appends, while Clear and
	// SafeReplace may still truncate and rewrite the file. Write, like every
	// other operation, holds the File's mutex.
	ModeAppendOnly Mode = iota + 1
	// ModeRandom permits WriteAt in addition to Read and Write.
	ModeRandom
	// ModeReadOnly permits only Read and ReadAll.
	ModeReadOnly
)

var (
	ErrReadOnly    = errors.New("vfs: file is read-only")
	ErrAppendOnly  = errors.New("vfs: file is append-only")
	ErrClosed      = errors.New("vfs: file is closed")
	ErrNotOpen     = errors.New("vfs: file has not been opened")
)

const safeSuffix = ".safe"

// File wraps a single path on an afero.Fs with the mode-checked operation
// set the rest of the engine uses instead of talking to afero directly.
type File struct {
	fs   afero.Fs
	path string
	mode Mode

	mu     sync.Mutex
	handle afero.File
	closed bool
}

// Open opens path in the given mode. If a `.safe` sibling exists (left
// behind by a SafeReplace interrupted mid-rewrite), it is copied over the
// primary path first, completing the crash recovery before anything reads
// the file.
func Open(fs afero.Fs, path string, mode Mode) (*File, error) {
	if err := recoverSafeSibling(fs, path); err != nil {
		return nil, fmt.Errorf("vfs: recovering %s: %w", path, err)
	}

	h, err := openForMode(fs, path, mode)
	if err != nil {
		return nil, err
	}
	return &File{fs: fs, path: path, mode: mode, handle: h}, nil
}

func openForMode(fs afero.Fs, path string, mode Mode) (afero.File, error) {
	switch mode {
	case ModeAppendOnly:
		return fs.OpenFile(path, osAppendFlags, 0o644)
	case ModeRandom:
		return fs.OpenFile(path, osRandomFlags, 0o644)
	case ModeReadOnly:
		return fs.Open(path)
	default:
		return nil, fmt.Errorf("vfs: unknown mode %d", mode)
	}
}

// Path returns the file's primary path on the underlying filesystem.
func (f *File) Path() string { return f.path }

// Write appends b to the file. In ModeRandom it also appends (use WriteAt
// for positioned writes); it is disallowed in ModeReadOnly.
func (f *File) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	if f.mode == ModeReadOnly {
		return 0, ErrReadOnly
	}
	if f.mode == ModeRandom {
		if _, err := f.handle.Seek(0, io.SeekEnd); err != nil {
			return 0, err
		}
	}
	return f.handle.Write(b)
}

// WriteAt writes b at the given offset; only valid in ModeRandom.
func (f *File) WriteAt(b []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	if f.mode != ModeRandom {
		return 0, ErrAppendOnly
	}
	return f.handle.WriteAt(b, off)
}

// Read reads len(b) bytes starting at off.
func (f *File) Read(b []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	return f.handle.ReadAt(b, off)
}

// ReadAll reads the file's entire contents from the start.
func (f *File) ReadAll() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	if _, err := f.handle.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f.handle)
}

// Size returns the current file size in bytes.
func (f *File) Size() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	info, err := f.handle.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Clear truncates the file back to zero length.
func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.mode == ModeReadOnly {
		return ErrReadOnly
	}
	if err := f.handle.Truncate(0); err != nil {
		return err
	}
	_, err := f.handle.Seek(0, io.SeekStart)
	return err
}

// Fsync forces the file's buffered writes to stable storage.
func (f *File) Fsync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	return f.handle.Sync()
}

// Close releases the underlying handle. It does not delete the file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.handle.Close()
}

// Delete closes and removes the file from the filesystem.
func (f *File) Delete() error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		_ = f.handle.Close()
	}
	f.mu.Unlock()
	return f.fs.Remove(f.path)
}

// SafeReplace atomically rewrites the file's contents to b: it first copies
// the current contents to a `.safe` sibling, truncates and writes the new
// contents, fsyncs, then deletes the backup. A crash between the truncate
// and the backup's deletion leaves the `.safe` sibling in place, which Open
// detects and recovers from on the next startup.
func (f *File) SafeReplace(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.mode == ModeReadOnly {
		return ErrReadOnly
	}

	safePath := f.path + safeSuffix
	current, err := io.ReadAll(io.NewSectionReader(toReaderAt(f.handle), 0, sizeOrZero(f.handle)))
	if err != nil {
		return fmt.Errorf("vfs: reading current contents of %s: %w", f.path, err)
	}
	if err := afero.WriteFile(f.fs, safePath, current, 0o644); err != nil {
		return fmt.Errorf("vfs: writing backup %s: %w", safePath, err)
	}

	if err := f.handle.Truncate(0); err != nil {
		return err
	}
	if _, err := f.handle.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := f.handle.Write(b); err != nil {
		return err
	}
	if err := f.handle.Sync(); err != nil {
		return err
	}
	return f.fs.Remove(safePath)
}

func recoverSafeSibling(fs afero.Fs, path string) error {
	safePath := path + safeSuffix
	exists, err := afero.Exists(fs, safePath)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	backup, err := afero.ReadFile(fs, safePath)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(fs, path, backup, 0o644); err != nil {
		return err
	}
	return fs.Remove(safePath)
}

func sizeOrZero(h afero.File) int64 {
	info, err := h.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

func toReaderAt(h afero.File) io.ReaderAt {
	return h
}
