package filereg

import (
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"
)

// FileSystem reports the existence and last write time of a path. It is the
// only way the registry reaches the real filesystem.
type FileSystem interface {
	WriteTime(path string) (t time.Time, exists bool, err error)
}

// OSFileSystem probes the host filesystem with os.Stat.
type OSFileSystem struct{}

// WriteTime implements FileSystem. A path that does not exist is reported
// with exists=false and no error.
func (OSFileSystem) WriteTime(path string) (time.Time, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return info.ModTime(), true, nil
}

// MemFileSystem is an in-memory FileSystem whose write times are set
// explicitly. Tests and dry runs use it in place of the host filesystem.
type MemFileSystem struct {
	mu     sync.Mutex
	files  map[string]time.Time
	errs   map[string]error
	probes int
}

// NewMemFileSystem returns an empty MemFileSystem.
func NewMemFileSystem() *MemFileSystem {
	return &MemFileSystem{
		files: make(map[string]time.Time),
		errs:  make(map[string]error),
	}
}

// Touch records path as existing with write time t.
func (m *MemFileSystem) Touch(path string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = t
}

// Remove forgets path.
func (m *MemFileSystem) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
}

// FailWith makes every probe of path return err.
func (m *MemFileSystem) FailWith(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[path] = err
}

// Probes returns how many WriteTime calls have been served.
func (m *MemFileSystem) Probes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probes
}

// WriteTime implements FileSystem.
func (m *MemFileSystem) WriteTime(path string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes++
	if err, ok := m.errs[path]; ok {
		return time.Time{}, false, err
	}
	t, ok := m.files[path]
	return t, ok, nil
}
