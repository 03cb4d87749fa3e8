// Package watcher mirrors shared code into local files and reports edits
// made to them by external editors.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultDebounce = 300 * time.Millisecond

// UpdateCallback is called with the new content when a watched file changes.
type UpdateCallback func(path, content string)

// Watcher monitors individual files for content changes.
type Watcher struct {
	mu       sync.RWMutex
	files    map[string]*fileWatcher // absolute path → watcher
	debounce time.Duration
	callback UpdateCallback
	log      zerolog.Logger
}

type fileWatcher struct {
	path      string
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}

	mu   sync.Mutex
	last string // last content reported or mirrored
}

// New creates a file watcher. A zero debounce uses 300ms.
func New(debounce time.Duration, callback UpdateCallback, log zerolog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		files:    make(map[string]*fileWatcher),
		debounce: debounce,
		callback: callback,
		log:      log.With().Str("component", "watcher").Logger(),
	}
}

// Watch starts watching path, creating it empty if it does not exist.
// The parent directory is watched so atomic-rename saves are seen.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.RLock()
	_, exists := w.files[abs]
	w.mu.RUnlock()
	if exists {
		return nil
	}

	content, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		err = os.WriteFile(abs, nil, 0o644)
	}
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsW.Add(filepath.Dir(abs)); err != nil {
		fsW.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	fw := &fileWatcher{
		path:      abs,
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
		last:      string(content),
	}

	w.mu.Lock()
	w.files[abs] = fw
	w.mu.Unlock()

	go w.watchLoop(fw)
	w.log.Info().Str("path", abs).Msg("watching file")
	return nil
}

// Mirror writes content to a watched file without reporting it back as
// an edit.
func (w *Watcher) Mirror(path, content string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.RLock()
	fw, ok := w.files[abs]
	w.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s is not watched", path)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.last == content {
		return nil
	}
	fw.last = content
	return os.WriteFile(abs, []byte(content), 0o644)
}

// Unwatch stops watching path.
func (w *Watcher) Unwatch(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	fw, ok := w.files[abs]
	if ok {
		delete(w.files, abs)
	}
	w.mu.Unlock()

	if ok {
		close(fw.cancel)
		fw.fsWatcher.Close()
	}
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop(fw *fileWatcher) {
	var timer *time.Timer

	for {
		select {
		case <-fw.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fw.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				w.reread(fw)
			})

		case err, ok := <-fw.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Str("path", fw.path).Msg("watcher error")
		}
	}
}

// reread loads the file and reports it if the content changed.
func (w *Watcher) reread(fw *fileWatcher) {
	select {
	case <-fw.cancel:
		return
	default:
	}

	data, err := os.ReadFile(fw.path)
	if err != nil {
		w.log.Debug().Err(err).Str("path", fw.path).Msg("reread failed")
		return
	}
	content := string(data)

	fw.mu.Lock()
	changed := content != fw.last
	if changed {
		fw.last = content
	}
	fw.mu.Unlock()

	if changed && w.callback != nil {
		w.callback(fw.path, content)
	}
}

// Shutdown stops all watchers.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.files))
	for p := range w.files {
		paths = append(paths, p)
	}
	w.mu.Unlock()

	for _, p := range paths {
		w.Unwatch(p)
	}
}
