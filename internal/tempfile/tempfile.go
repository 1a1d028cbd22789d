// Package tempfile provides scoped temporary files. Every file acquired here
// must be released on all exit paths of the code that created it; Scope and
// With make that structural instead of manual.
package tempfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
)

const pattern = "vidsum-*"

// File is an owned temporary file path. Exactly one owner releases it.
type File struct {
	mu       sync.Mutex
	path     string
	extras   []string
	released bool
}

// Acquire creates a uniquely named, empty file in dir (os.TempDir if empty).
// suffix is appended verbatim, e.g. ".mp3".
func Acquire(dir, suffix string) (*File, error) {
	if suffix != "" && !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	f, err := os.CreateTemp(dir, pattern+suffix)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	return &File{path: path}, nil
}

// Own takes ownership of a path created by someone else, typically an
// external tool writing next to a reserved name. The path need not exist yet.
func Own(path string) *File {
	return &File{path: path}
}

// Path returns the file path. It stays valid after Release but no longer
// refers to a live file.
func (f *File) Path() string { return f.path }

// Exists reports whether the file is still on disk.
func (f *File) Exists() bool {
	f.mu.Lock()
	released := f.released
	f.mu.Unlock()
	if released {
		return false
	}
	_, err := os.Stat(f.path)
	return err == nil
}

// Size returns the current size in bytes, or 0 if the file is gone.
func (f *File) Size() int64 {
	fi, err := os.Stat(f.path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// Track attaches sibling paths (intermediates written by external tools)
// that are removed together with the file.
func (f *File) Track(paths ...string) {
	f.mu.Lock()
	f.extras = append(f.extras, paths...)
	f.mu.Unlock()
}

// Absorb takes over ownership of o: its path and tracked siblings are
// released with f, and o.Release becomes a no-op.
func (f *File) Absorb(o *File) {
	if o == nil || o == f {
		return
	}
	o.mu.Lock()
	paths := append([]string{o.path}, o.extras...)
	o.extras = nil
	o.released = true
	o.mu.Unlock()
	f.Track(paths...)
}

// Release deletes the file and any tracked siblings. Safe to call more than
// once and when the files are already gone.
func (f *File) Release() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	if f.released {
		f.mu.Unlock()
		return nil
	}
	paths := append([]string{f.path}, f.extras...)
	f.extras = nil
	f.released = true
	f.mu.Unlock()

	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// With acquires a file, runs fn with it, and releases it afterwards even if
// fn returns an error or panics.
func With(dir, suffix string, fn func(*File) error) error {
	f, err := Acquire(dir, suffix)
	if err != nil {
		return err
	}
	defer f.Release()
	return fn(f)
}

// Scope groups files so a single deferred Close releases all of them.
type Scope struct {
	dir   string
	mu    sync.Mutex
	files []*File
}

// NewScope returns a scope creating files in dir.
func NewScope(dir string) *Scope {
	return &Scope{dir: dir}
}

// Acquire creates a file owned by the scope.
func (s *Scope) Acquire(suffix string) (*File, error) {
	f, err := Acquire(s.dir, suffix)
	if err != nil {
		return nil, err
	}
	s.Adopt(f)
	return f, nil
}

// Adopt transfers ownership of f to the scope.
func (s *Scope) Adopt(f *File) {
	s.mu.Lock()
	s.files = append(s.files, f)
	s.mu.Unlock()
}

// Close releases every file in the scope. Idempotent.
func (s *Scope) Close() error {
	s.mu.Lock()
	files := s.files
	s.files = nil
	s.mu.Unlock()

	var errs []error
	for _, f := range files {
		if err := f.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
