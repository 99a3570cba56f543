package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/parser"
	"github.com/ry-ht/cortex/internal/types"
)

// watchDebounce coalesces editor write bursts into one re-ingest.
const watchDebounce = 500 * time.Millisecond

// Watcher re-ingests files as they change on disk. Events are debounced per
// path; directories created under the root are added to the watch set.
type Watcher struct {
	ingestor *Ingestor
	root     string
	wsID     types.WorkspaceID

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates a watcher bound to one workspace.
func NewWatcher(ingestor *Ingestor, root string, wsID types.WorkspaceID) *Watcher {
	return &Watcher{
		ingestor: ingestor,
		root:     root,
		wsID:     wsID,
		pending:  make(map[string]*time.Timer),
	}
}

// Watch blocks until the context ends, re-ingesting changed files.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return types.Internal("failed to create filesystem watcher", err)
	}
	defer fw.Close()

	// Watch the root and every non-ignored directory below it.
	if err := w.addRecursive(fw, w.root); err != nil {
		return err
	}

	logging.Ingest("Watching %s for changes", w.root)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fw, event)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryIngest).Warn("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) addRecursive(fw *fsnotify.Watcher, root string) error {
	return OSFileSystem{}.Walk(root, func(p string, isDir bool) error {
		if !isDir {
			return nil
		}
		if ShouldIgnoreDir(p) {
			return filepath.SkipDir
		}
		if err := fw.Add(p); err != nil {
			logging.IngestDebug("Failed to watch %s: %v", p, err)
		}
		return nil
	})
}

func (w *Watcher) handleEvent(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	// New directories join the watch set.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !ShouldIgnoreDir(event.Name) {
				_ = fw.Add(event.Name)
			}
			return
		}
	}

	if ShouldIgnoreFile(event.Name) {
		return
	}
	if _, supported := parser.LanguageForPath(event.Name); !supported && !IsDocumentationFile(event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[event.Name]; ok {
		timer.Stop()
	}
	path := event.Name
	w.pending[path] = time.AfterFunc(watchDebounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		rel := relPath(w.root, path)
		if outcome, err := w.ingestor.IngestFile(ctx, path, w.wsID); err != nil {
			logging.Get(logging.CategoryIngest).Warn("Re-ingest of %s failed: %v", rel, err)
		} else {
			logging.IngestDebug("Re-ingested %s: %s", rel, outcome.Status)
		}
	})
}
