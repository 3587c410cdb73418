package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/limnc/flaked/errors"
	"github.com/limnc/flaked/logger"
)

// Watcher watches the configuration file and reloads the Store when it is
// edited by hand. Writes made by the Store itself are ignored.
type Watcher struct {
	store          *Store
	watcher        *fsnotify.Watcher
	logger         *zap.SugaredLogger
	callbacks      []ReloadCallback
	mu             sync.Mutex
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	ownWriteUntil  time.Time
	started        bool
	done           chan struct{}
}

// ReloadCallback is called with the new configuration after a reload
type ReloadCallback func(*Config) error

// DefaultDebounce coalesces the burst of events an editor produces on save.
const DefaultDebounce = 500 * time.Millisecond

// NewWatcher creates a watcher for the store's file. The parent directory is
// watched so editors that replace the file are noticed too.
func NewWatcher(store *Store, log *zap.SugaredLogger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}

	dir := filepath.Dir(store.Path())
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "failed to watch config directory %s", dir)
	}

	w := &Watcher{
		store:          store,
		watcher:        fw,
		logger:         log,
		debouncePeriod: DefaultDebounce,
		done:           make(chan struct{}),
	}
	store.OnWrite(w.MarkOwnWrite)
	return w, nil
}

// OnReload registers a callback to be called when config is reloaded
func (w *Watcher) OnReload(callback ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// MarkOwnWrite suppresses events for the file during the next debounce
// window (prevents reload loops)
func (w *Watcher) MarkOwnWrite() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ownWriteUntil = time.Now().Add(2 * w.debouncePeriod)
}

func (w *Watcher) isOwnWrite() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Now().Before(w.ownWriteUntil)
}

// Start begins watching for config file changes
func (w *Watcher) Start() {
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.watchLoop()
}

func (w *Watcher) watchLoop() {
	defer close(w.done)
	target := filepath.Clean(w.store.Path())

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target || isBackupFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if w.isOwnWrite() {
				w.logger.Debugw("Config watcher ignoring own write", logger.FieldFile, event.Name)
				continue
			}

			w.logger.Infow("Config watcher detected change",
				logger.FieldFile, event.Name,
				"op", event.Op.String())
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("Config watcher error", logger.FieldError, err)
		}
	}
}

// scheduleReload debounces rapid file changes and triggers reload
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debouncePeriod, func() {
		if err := w.reload(); err != nil {
			w.logger.Errorw("Config reload failed", logger.FieldError, err)
		}
	})
}

func (w *Watcher) reload() error {
	if err := w.store.Reload(); err != nil {
		return errors.Wrap(err, "failed to reload config")
	}

	w.logger.Infow("Config reloaded successfully", logger.FieldPath, w.store.Path())

	w.mu.Lock()
	callbacks := make([]ReloadCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, callback := range callbacks {
		if err := callback(w.store.Snapshot()); err != nil {
			// Continue calling other callbacks even if one fails
			w.logger.Warnw("Config reload callback error", logger.FieldError, err)
		}
	}
	return nil
}

// Stop stops watching for config changes
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	started := w.started
	w.mu.Unlock()

	err := w.watcher.Close()
	if started {
		<-w.done
	}
	return err
}
