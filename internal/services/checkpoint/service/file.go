package service

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/services/checkpoint/domain"

	"gopkg.in/yaml.v3"
)

// File is the on-disk mirror of stage completion. It is read once at start
// and rewritten after every transition via write-then-rename
type File struct {
	path string

	mu      sync.Mutex
	entries map[string]domain.FileEntry
}

// OpenFile loads path; a missing file is an empty checkpoint set. An empty
// path disables the file
func OpenFile(path string) (*File, error) {
	f := &File{path: path, entries: map[string]domain.FileEntry{}}
	if path == "" {
		return f, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "read checkpoint file %s", path)
	}
	if err := yaml.Unmarshal(b, &f.entries); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeValidation, "parse checkpoint file %s", path)
	}
	if f.entries == nil {
		f.entries = map[string]domain.FileEntry{}
	}
	return f, nil
}

// Path returns the file location
func (f *File) Path() string { return f.path }

// Completed reports whether the file marks stage completed
func (f *File) Completed(stage string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[stage].Completed
}

// Entries returns a copy of the current entries
func (f *File) Entries() map[string]domain.FileEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.FileEntry, len(f.entries))
	for k, v := range f.entries {
		out[k] = v
	}
	return out
}

// Set records an entry and rewrites the file
func (f *File) Set(stage string, e domain.FileEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[stage] = e
	return f.flushLocked()
}

// Delete drops an entry and rewrites the file
func (f *File) Delete(stage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, stage)
	return f.flushLocked()
}

// Clear removes every entry and the file itself
func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = map[string]domain.FileEntry{}
	if f.path == "" {
		return nil
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "remove checkpoint file %s", f.path)
	}
	return nil
}

func (f *File) flushLocked() error {
	if f.path == "" {
		return nil
	}
	b, err := yaml.Marshal(f.entries)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnknown, "encode checkpoint file")
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "checkpoint file temp in %s", dir)
	}
	name := tmp.Name()
	defer os.Remove(name) // no-op after a successful rename

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "write checkpoint file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "sync checkpoint file")
	}
	if err := tmp.Close(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "close checkpoint file")
	}
	if err := os.Rename(name, f.path); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "replace checkpoint file %s", f.path)
	}
	return nil
}
