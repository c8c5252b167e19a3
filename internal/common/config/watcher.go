package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kandev/mcphost/internal/common/logger"
)

const (
	watchDebounce = 100 * time.Millisecond
	configName    = "config"
)

// Watcher reports edits to the config file. Bursts of filesystem events are
// collapsed into one callback.
type Watcher struct {
	watcher  *fsnotify.Watcher
	targets  map[string]bool
	onChange func()
	logger   *logger.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher watches dir for changes to any file viper would load as the
// config (config.yaml, config.yml, config.json, ...) and calls onChange after
// each debounced burst.
func NewWatcher(dir string, onChange func(), log *logger.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("no config directory to watch")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Editors replace files by rename, so the directory is watched rather than the file.
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}
	return &Watcher{
		watcher:  fw,
		targets:  configFileNames(),
		onChange: onChange,
		logger:   log.WithComponent("config-watcher"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	go w.watchLoop()
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
	<-w.doneCh
}

func (w *Watcher) watchLoop() {
	defer close(w.doneCh)

	debounce := time.NewTimer(0)
	<-debounce.C

	for {
		select {
		case <-w.stopCh:
			debounce.Stop()
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.targets[filepath.Base(ev.Name)] {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(watchDebounce)

		case <-debounce.C:
			w.logger.Debug("config file changed")
			if w.onChange != nil {
				w.onChange()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", zap.Error(err))
		}
	}
}

// configFileNames lists the names Source can pick up in a search path.
func configFileNames() map[string]bool {
	names := map[string]bool{configName: true}
	for _, ext := range viper.SupportedExts {
		names[configName+"."+ext] = true
	}
	return names
}

func dirOf(path string) string {
	return filepath.Dir(path)
}
