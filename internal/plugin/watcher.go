package plugin

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gookit/event"
	"github.com/idleonweb/idleonweb/internal/eventType"
	logutil "github.com/idleonweb/idleonweb/internal/log"
)

// DefaultDebounce batches rapid saves of the same script.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports changes to script plugins under a directory. Once writes
// settle for the debounce interval it fires eventType.PluginsChanged with
// the changed files.
type Watcher struct {
	dir      string
	debounce time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	pending map[string]time.Time
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// OnChange is called from the watcher goroutine in addition to the event.
	OnChange func(files []string)
}

func NewWatcher(dir string) *Watcher {
	return &Watcher{
		dir:      dir,
		debounce: DefaultDebounce,
		log:      logutil.Group("PLUGIN"),
		pending:  map[string]time.Time{},
	}
}

// Start begins watching dir and its subdirectories. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		w.log.Warn("Could not create plugin directory.", "dir", w.dir, "error", err)
	}
	_ = filepath.WalkDir(w.dir, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			if err := fw.Add(p); err != nil {
				w.log.Warn("Could not watch directory.", "dir", p, "error", err)
			}
		}
		return nil
	})
	w.watcher = fw
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true
	go w.run(ctx)
	w.log.Debug("Watching plugin directory.", "dir", w.dir)
	return nil
}

// Stop ends watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	fw := w.watcher
	w.mu.Unlock()

	<-done
	if err := fw.Close(); err != nil {
		w.log.Warn("Error closing plugin watcher.", "error", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := time.NewTicker(w.debounce / 5)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("Plugin watcher error.", "error", err)
		case <-tick.C:
			w.flush()
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.watcher.Add(ev.Name)
			return
		}
	}
	if filepath.Ext(ev.Name) != ScriptExt {
		return
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.mu.Lock()
	w.pending[ev.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	now := time.Now()
	w.mu.Lock()
	var files []string
	for f, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		w.mu.Unlock()
		return
	}
	for _, f := range files {
		delete(w.pending, f)
	}
	w.mu.Unlock()

	sort.Strings(files)
	w.log.Info("Plugin files changed.", "files", files)
	event.Trigger(eventType.PluginsChanged, event.M{"files": files, "dir": w.dir})
	if w.OnChange != nil {
		w.OnChange(files)
	}
}
