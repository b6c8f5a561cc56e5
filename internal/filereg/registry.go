// Package filereg interns file paths to small integer identifiers and caches
// each file's last write time. FileIDs are the unit of file identity used by
// the operation graph, the execution history and the persisted stores.
package filereg

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileID identifies a path within one Registry. IDs are never reused.
type FileID uint32

// WriteTime is the probed state of a file. Exists is false when the file is
// missing or could not be probed.
type WriteTime struct {
	Time   time.Time
	Exists bool
}

// Missing is the WriteTime of a file that does not exist.
var Missing = WriteTime{}

// At returns the WriteTime of an existing file last written at t.
func At(t time.Time) WriteTime {
	return WriteTime{Time: t, Exists: true}
}

// Entry is one row of the id to path table.
type Entry struct {
	ID   FileID
	Path string
}

// Registry maps absolute paths to FileIDs and holds a lazily populated
// write-time cache. It is safe for concurrent use.
type Registry struct {
	fs     FileSystem
	logger *slog.Logger

	mu         sync.RWMutex
	maxID      FileID
	paths      map[FileID]string
	ids        map[string]FileID
	writeTimes map[FileID]WriteTime
}

// New creates an empty registry that probes fs. A nil fs uses OSFileSystem
// and a nil logger uses slog.Default().
func New(fs FileSystem, logger *slog.Logger) *Registry {
	if fs == nil {
		fs = OSFileSystem{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		fs:         fs,
		logger:     logger,
		paths:      make(map[FileID]string),
		ids:        make(map[string]FileID),
		writeTimes: make(map[FileID]WriteTime),
	}
}

// Intern resolves path against workingDir when it is relative and returns its
// FileID, allocating maxID+1 the first time the path is seen.
func (r *Registry) Intern(path, workingDir string) FileID {
	abs := Resolve(path, workingDir)

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[abs]; ok {
		return id
	}
	if r.maxID == ^FileID(0) {
		panic("filereg: file id space exhausted")
	}
	r.maxID++
	r.paths[r.maxID] = abs
	r.ids[abs] = r.maxID
	return r.maxID
}

// Resolve returns the cleaned absolute form of path, joining it with
// workingDir when path is relative.
func Resolve(path, workingDir string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(workingDir, path)
	}
	return filepath.Clean(path)
}

// Adopt inserts a known id/path pair, as read back from a persisted store.
// It returns true when the pair already exists or was inserted, and false
// when either the id or the path is bound to something else.
func (r *Registry) Adopt(id FileID, path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.canAdopt(id, path) {
		return false
	}
	r.paths[id] = path
	r.ids[path] = id
	if id > r.maxID {
		r.maxID = id
	}
	return true
}

// CanAdopt reports whether Adopt(id, path) would succeed.
func (r *Registry) CanAdopt(id FileID, path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.canAdopt(id, path)
}

func (r *Registry) canAdopt(id FileID, path string) bool {
	existingPath, idKnown := r.paths[id]
	existingID, pathKnown := r.ids[path]
	switch {
	case idKnown && pathKnown:
		return existingPath == path && existingID == id
	case idKnown || pathKnown:
		return false
	}
	return id != 0
}

// Path returns the absolute path interned as id.
func (r *Registry) Path(id FileID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.paths[id]
	return p, ok
}

// MustPath is Path for ids known to be interned. Unknown ids render as a
// placeholder so log lines stay readable.
func (r *Registry) MustPath(id FileID) string {
	if p, ok := r.Path(id); ok {
		return p
	}
	return fmt.Sprintf("<file %d>", id)
}

// Lookup returns the FileID for an absolute path, if interned.
func (r *Registry) Lookup(path string) (FileID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[filepath.Clean(path)]
	return id, ok
}

// MaxID returns the highest id ever allocated.
func (r *Registry) MaxID() FileID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxID
}

// Len returns the number of interned paths.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.paths)
}

// Entries returns the id to path table sorted by id.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]Entry, 0, len(r.paths))
	for id, p := range r.paths {
		entries = append(entries, Entry{ID: id, Path: p})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// ProbeWriteTimes queries the filesystem for every id and overwrites the
// cached value. Probe errors are logged and cached as Missing.
func (r *Registry) ProbeWriteTimes(ids []FileID) {
	for _, id := range ids {
		path, ok := r.Path(id)
		if !ok {
			r.logger.Warn("probe of unknown file id", slog.Uint64("file_id", uint64(id)))
			continue
		}
		wt := r.probe(path)
		r.mu.Lock()
		r.writeTimes[id] = wt
		r.mu.Unlock()
	}
}

// EnsureWriteTimes probes only the ids that have no cached value yet.
func (r *Registry) EnsureWriteTimes(ids []FileID) {
	var missing []FileID
	r.mu.RLock()
	for _, id := range ids {
		if _, ok := r.writeTimes[id]; !ok {
			missing = append(missing, id)
		}
	}
	r.mu.RUnlock()
	if len(missing) > 0 {
		r.ProbeWriteTimes(missing)
	}
}

// CachedWriteTime returns the cached write time for id. The second result is
// false when the id has never been probed.
func (r *Registry) CachedWriteTime(id FileID) (WriteTime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wt, ok := r.writeTimes[id]
	return wt, ok
}

// SetWriteTime stores a known write time without touching the filesystem.
func (r *Registry) SetWriteTime(id FileID, wt WriteTime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeTimes[id] = wt
}

// InvalidateWriteTimes drops cached values so the next Ensure re-probes.
func (r *Registry) InvalidateWriteTimes(ids []FileID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.writeTimes, id)
	}
}

func (r *Registry) probe(path string) WriteTime {
	t, exists, err := r.fs.WriteTime(path)
	if err != nil {
		r.logger.Warn("file probe failed, treating as missing",
			slog.String("path", path),
			slog.Any("error", err),
		)
		return Missing
	}
	if !exists {
		return Missing
	}
	return At(t)
}
