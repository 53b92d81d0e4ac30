package config

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads password and PollIntervalMs from path on every write,
// invoking onChange with the updated values. Token and listen address
// changes on disk are logged but not applied — those require a restart.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  *log.Logger
}

// Watch starts watching path for writes. onChange receives the freshly
// parsed file config after each write; the caller decides what to do with
// it. Call Stop to release the underlying inotify/kqueue handle.
func Watch(path string, logger *log.Logger, onChange func(RuntimeConfig)) (*Watcher, error) {
	if logger == nil {
		logger = log.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, err
	}

	wr := &Watcher{watcher: w, logger: logger}
	go wr.run(path, onChange)
	return wr, nil
}

func (w *Watcher) run(path string, onChange func(RuntimeConfig)) {
	last, _ := LoadFile(path)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write != fsnotify.Write {
				continue
			}
			cfg, err := LoadFile(path)
			if err != nil {
				w.logger.Printf("config watch: reload %s: %v", path, err)
				continue
			}
			if cfg.Token != last.Token || cfg.Host != last.Host || cfg.Port != last.Port || cfg.FrontendDir != last.FrontendDir {
				w.logger.Printf("config watch: token/host/port/frontendDir changed in %s; not applied until restart", path)
			}
			last = cfg
			onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("config watch: %v", err)
		}
	}
}

// Stop releases the watcher's OS resources.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
