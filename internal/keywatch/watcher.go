// ABOUTME: Hot-reloads the verification key file into a KeyCell on filesystem events
// ABOUTME: Coalesces bursts of notifications into single reloads on a background goroutine

package keywatch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// KeyStore receives reloaded key bytes.
type KeyStore interface {
	Store(raw []byte) error
	Clear()
}

// ReloadObserver is told about every reload attempt.
type ReloadObserver interface {
	KeyReloaded(ok bool)
}

// Watcher synchronizes a KeyStore with a file.
type Watcher struct {
	path     string // absolute, cleaned
	store    KeyStore
	observer ReloadObserver
	logger   *slog.Logger

	fs    *fsnotify.Watcher
	dirty chan struct{}
	stop  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// New resolves path and prepares a watcher. Start must be called to begin.
func New(path string, store KeyStore, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving key path: %w", err)
	}
	return &Watcher{
		path:   filepath.Clean(abs),
		store:  store,
		logger: logger,
		dirty:  make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}, nil
}

// SetObserver registers an observer for reload outcomes. Call before Start.
func (w *Watcher) SetObserver(o ReloadObserver) {
	w.observer = o
}

// Path returns the absolute key file path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Start performs the initial synchronous load, then begins watching the
// parent directory.
func (w *Watcher) Start() error {
	w.reload()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	w.fs = fsw

	w.wg.Add(2)
	go w.eventLoop()
	go w.reloadLoop()

	w.logger.Info("watching verification key", "path", w.path)
	return nil
}

// Close stops accepting events, wakes the reload goroutine once, and waits
// for both goroutines to exit. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		if w.fs != nil {
			err = w.fs.Close()
		}
		close(w.stop)
		w.wg.Wait()
	})
	return err
}

// eventLoop forwards matching filesystem events to the dirty slot.
func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if w.matches(event) {
				w.logger.Debug("key file event", "op", event.Op.String())
				w.markDirty()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("key watcher error", "error", err)
			// An overflow may have swallowed the event we care about.
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.markDirty()
			}
		}
	}
}

// matches reports whether event concerns the key path. A rename onto the key
// path is delivered as Create for the destination; Rename events name the
// source and are ignored.
func (w *Watcher) matches(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Remove)
}

// markDirty fills the one-slot channel; if a reload is already pending the
// signal is dropped because that reload will read the latest file anyway.
func (w *Watcher) markDirty() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

func (w *Watcher) reloadLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stop:
			return
		case <-w.dirty:
			w.reload()
		}
	}
}

// reload reads the key file into the store, emptying it on any failure.
func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Error("failed to read verification key", "path", w.path, "error", err)
		w.store.Clear()
		w.notify(false)
		return
	}

	if err := w.store.Store(data); err != nil {
		w.logger.Error("failed to parse verification key", "path", w.path, "error", err)
		w.notify(false)
		return
	}

	w.logger.Info("loaded verification key", "path", w.path, "bytes", len(data))
	w.notify(true)
}

func (w *Watcher) notify(ok bool) {
	if w.observer != nil {
		w.observer.KeyReloaded(ok)
	}
}
