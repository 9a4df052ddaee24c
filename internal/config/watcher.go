package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	log "github.com/nghyane/copilot-gateway/internal/logging"
)

const reloadDebounce = 250 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands valid
// results to a callback. Invalid edits are logged and ignored.
type Watcher struct {
	path     string
	onChange func(*Config)
	fs       *fsnotify.Watcher
}

// NewWatcher watches the directory holding path, so editors that replace the
// file by rename are still seen.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{path: abs, onChange: onChange, fs: fw}, nil
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	var (
		timer    *time.Timer
		fire     <-chan time.Time
		schedule = func() {
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		}
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				schedule()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("config watcher error")
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		log.WithError(err).Warnf("config reload rejected, keeping previous settings")
		return
	}
	log.Infof("config reloaded from %s", w.path)
	w.onChange(cfg)
}
