// Package signals lets another process stop or pause a running workflow
// by dropping files into the state directory's signals folder.
package signals

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/triad/internal/logging"
)

// Signal file names.
const (
	KillFile  = "kill"
	PauseFile = "pause"
)

// Watcher tracks the kill and pause files. The kill signal is sticky
// until Clear; pause follows the file's existence.
type Watcher struct {
	dir string
	log *logging.Logger

	mu      sync.RWMutex
	stopped bool
	paused  bool

	watcher *fsnotify.Watcher
	changes chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Dir returns the signals directory under stateDir.
func Dir(stateDir string) string {
	return filepath.Join(stateDir, "signals")
}

// NewWatcher creates the signals directory and starts watching it. When
// fsnotify is unavailable the watcher falls back to stat on every check.
func NewWatcher(stateDir string, log *logging.Logger) (*Watcher, error) {
	dir := Dir(stateDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	w := &Watcher{
		dir:     dir,
		log:     log.Named("signals"),
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	w.refresh()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Log("fsnotify unavailable, polling signal files: %v", err)
		return w, nil
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		w.log.Log("cannot watch %s, polling signal files: %v", dir, err)
		return w, nil
	}
	w.watcher = fw
	go w.watch()
	return w, nil
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			switch filepath.Base(ev.Name) {
			case KillFile, PauseFile:
				w.refresh()
				w.notify()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Log("WARNING: watch error: %v", err)
		}
	}
}

func (w *Watcher) notify() {
	select {
	case w.changes <- struct{}{}:
	default:
	}
}

func (w *Watcher) exists(name string) bool {
	_, err := os.Stat(filepath.Join(w.dir, name))
	return err == nil
}

// refresh reads the signal files directly in case the watcher missed an event.
func (w *Watcher) refresh() {
	kill, pause := w.exists(KillFile), w.exists(PauseFile)
	w.mu.Lock()
	if kill && !w.stopped {
		w.log.Log("kill signal received")
	}
	w.stopped = w.stopped || kill
	w.paused = pause
	w.mu.Unlock()
}

// Changes receives a value whenever a signal file changes.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// IsStopped reports whether a kill signal has been seen.
func (w *Watcher) IsStopped() bool {
	w.refresh()
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stopped
}

// IsPaused reports whether the pause file exists.
func (w *Watcher) IsPaused() bool {
	w.refresh()
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.paused
}

// Clear removes both signal files and resets the kill flag.
func (w *Watcher) Clear() error {
	w.mu.Lock()
	w.stopped = false
	w.paused = false
	w.mu.Unlock()
	return Clear(filepath.Dir(w.dir))
}

// Close stops watching.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})
	return err
}

// SendKill asks the workflow running against stateDir to stop.
func SendKill(stateDir string) error {
	return send(stateDir, KillFile)
}

// SendPause asks the workflow running against stateDir to pause.
func SendPause(stateDir string) error {
	return send(stateDir, PauseFile)
}

// Resume removes the pause file.
func Resume(stateDir string) error {
	err := os.Remove(filepath.Join(Dir(stateDir), PauseFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Clear removes both signal files.
func Clear(stateDir string) error {
	var errs []error
	for _, name := range []string{KillFile, PauseFile} {
		if err := os.Remove(filepath.Join(Dir(stateDir), name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func send(stateDir, name string) error {
	dir := Dir(stateDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(time.Now().Format(time.RFC3339)), 0644)
}
