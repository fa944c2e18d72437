package config

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// liveReloadable is the set of fields safe to swap into a running
// process: listening socket setup and trigger mode are read once at
// startup by the reactor and never revisited, so changing them in the
// file has no effect until a restart.
func liveReloadable(old, fresh *Config) *Config {
	merged := *old
	merged.Log = fresh.Log
	merged.DBPoolSize = fresh.DBPoolSize
	merged.Workers = fresh.Workers
	return &merged
}

// Watcher re-parses path whenever it changes on disk and exposes the
// latest Config through Current, applied via atomic pointer swap so
// readers never observe a torn struct.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	fsw     *fsnotify.Watcher
	log     *zap.Logger
	done    chan struct{}
}

// NewWatcher loads path once, then begins watching it for writes.
func NewWatcher(path string, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{path: path, fsw: fsw, log: log, done: make(chan struct{})}
	w.current.Store(cfg)
	go w.loop()
	return w, nil
}

// Current returns the most recently applied configuration.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			fresh, err := Load(w.path)
			if err != nil {
				w.log.Warn("config reload failed, keeping previous config", zap.Error(err))
				continue
			}
			if err := fresh.Validate(); err != nil {
				w.log.Warn("reloaded config failed validation, keeping previous config", zap.Error(err))
				continue
			}
			old := w.current.Load()
			w.current.Store(liveReloadable(old, fresh))
			w.log.Info("config reloaded",
				zap.Int("log_level", fresh.Log.Level),
				zap.Int("db_pool_size", fresh.DBPoolSize),
				zap.Int("workers", fresh.Workers))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher goroutine and releases the inotify handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
