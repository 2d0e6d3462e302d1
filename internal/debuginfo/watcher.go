package debuginfo

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherClosed is returned when operating on a closed watcher.
var ErrWatcherClosed = errors.New("debug info watcher is closed")

// Watcher reloads the debug-info document when a code generator
// rewrites it. Reloaded documents are delivered on Reloads; the
// consumer decides when applying them is safe (population must finish
// before a session starts debugging).
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	reloads chan *Info

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewWatcher watches the given debug-info path. The parent directory
// is watched so rewrites via rename (the common atomic-write pattern)
// are seen too.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, err
	}

	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    abs,
		watcher: fsw,
		reloads: make(chan *Info, 1),
		done:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

// Reloads delivers each successfully reloaded document.
func (w *Watcher) Reloads() <-chan *Info {
	return w.reloads
}

// loop forwards write events on the watched path as reloaded documents.
// It is the only sender on reloads and closes it on exit.
func (w *Watcher) loop() {
	defer w.wg.Done()
	defer close(w.reloads)

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			info, loaded := Load(w.path)
			if !loaded {
				// Partial write or removal; wait for the next event.
				continue
			}

			// Keep only the newest pending reload.
			select {
			case w.reloads <- info:
			default:
				select {
				case <-w.reloads:
				default:
				}
				w.reloads <- info
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	w.closed = true
	close(w.done)
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
