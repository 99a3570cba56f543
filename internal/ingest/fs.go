package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ry-ht/cortex/internal/logging"
)

// FileSystem is the filesystem capability the pipeline consumes. Production
// uses the real filesystem; tests inject an in-memory tree.
type FileSystem interface {
	Walk(root string, fn func(path string, isDir bool) error) error
	ReadFile(path string) ([]byte, error)
}

// OSFileSystem reads the real filesystem.
type OSFileSystem struct{}

// Walk traverses root, skipping unreadable entries so one bad directory
// doesn't abort a run.
func (OSFileSystem) Walk(root string, fn func(path string, isDir bool) error) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.IngestDebug("Walk error at %s: %v (skipping)", p, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		return fn(p, d.IsDir())
	})
}

// ReadFile reads a file's bytes.
func (OSFileSystem) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// MemFS is an in-memory FileSystem for tests. Paths are slash-separated;
// directories are implied by file paths.
type MemFS struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemFS creates an empty in-memory filesystem.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

// WriteFile stores a file, creating implied parents.
func (m *MemFS) WriteFile(p string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path.Clean(p)] = content
}

// Remove deletes a file.
func (m *MemFS) Remove(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path.Clean(p))
}

// ReadFile returns a file's bytes.
func (m *MemFS) ReadFile(p string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.files[path.Clean(p)]
	if !ok {
		return nil, os.ErrNotExist
	}
	return content, nil
}

// Walk visits the files (and implied directories) under root in sorted
// order. SkipDir from a directory callback prunes everything beneath it.
func (m *MemFS) Walk(root string, fn func(path string, isDir bool) error) error {
	m.mu.RLock()
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	m.mu.RUnlock()
	sort.Strings(paths)

	root = path.Clean(root)
	seenDirs := map[string]bool{}
	skipped := map[string]bool{}

	underSkipped := func(p string) bool {
		for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
			if skipped[dir] {
				return true
			}
		}
		return false
	}

	if err := fn(root, true); err != nil {
		if err == filepath.SkipDir {
			return nil
		}
		return err
	}

	for _, p := range paths {
		if root != "." && p != root && !strings.HasPrefix(p, root+"/") {
			continue
		}
		if underSkipped(p) {
			continue
		}

		// Emit every ancestor directory below root, outermost first.
		var ancestors []string
		for dir := path.Dir(p); dir != "." && dir != "/" && dir != root; dir = path.Dir(dir) {
			ancestors = append([]string{dir}, ancestors...)
		}
		pruned := false
		for _, dir := range ancestors {
			if skipped[dir] {
				pruned = true
				break
			}
			if seenDirs[dir] {
				continue
			}
			seenDirs[dir] = true
			if err := fn(dir, true); err != nil {
				if err == filepath.SkipDir {
					skipped[dir] = true
					pruned = true
					break
				}
				return err
			}
		}
		if pruned {
			continue
		}

		if err := fn(p, false); err != nil {
			if err == filepath.SkipDir {
				continue
			}
			return err
		}
	}
	return nil
}

// HashContent computes the lowercase hex SHA-256 of content, the key of the
// content-addressed blob store.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
