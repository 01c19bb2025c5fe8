package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Loader loads a configuration file once and reports later edits to it.
// The configuration returned by Load is never replaced: a running server keeps
// its startup configuration and callers decide what to do with a change.
type Loader struct {
	path      string
	watcher   *fsnotify.Watcher
	current   *Config
	mu        sync.RWMutex
	onChange  func(*Config, error)
	close     chan struct{}
	closeOnce sync.Once
}

// NewLoader creates a loader for the file at path.
func NewLoader(path string) (*Loader, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	return &Loader{
		path:  absPath,
		close: make(chan struct{}),
	}, nil
}

// Path returns the absolute path of the watched file.
func (l *Loader) Path() string {
	return l.path
}

// Load reads and validates the file and records it as the current configuration.
func (l *Loader) Load() (*Config, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()

	return cfg, nil
}

// Current returns the configuration from the last successful Load.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Watch monitors the file and calls onChange with the re-parsed configuration,
// or the error that prevented parsing it, after each write.
func (l *Loader) Watch(onChange func(*Config, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher
	l.onChange = onChange

	// Editors often save by rename, so watch the directory rather than the file.
	if err := l.watcher.Add(filepath.Dir(l.path)); err != nil {
		l.watcher.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	for {
		select {
		case <-l.close:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != l.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if l.onChange != nil {
				l.onChange(Load(l.path))
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			if l.onChange != nil {
				l.onChange(nil, fmt.Errorf("config watcher: %w", err))
			}
		}
	}
}

// Close stops the watcher. It is safe to call more than once.
func (l *Loader) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.close)
		if l.watcher != nil {
			err = l.watcher.Close()
		}
	})
	return err
}
