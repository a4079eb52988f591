// Package config loads the optional evidence-server.yaml configuration file
// and watches it for changes: a loaded snapshot behind a RWMutex, refreshed
// on file change events instead of polling.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/duskwatch/evidence/internal/assert"
	"github.com/duskwatch/evidence/internal/logging"
)

// Config holds the tunables an operator may want to override without
// touching the command line every time.
type Config struct {
	SaveDir  string `yaml:"save_dir"`
	Addr     string `yaml:"addr"`
	LogLevel string `yaml:"log_level"`
}

// Defaults returns the built-in defaults used when no config file exists.
func Defaults() Config {
	return Config{
		Addr:     "127.0.0.1:7878",
		LogLevel: "info",
	}
}

// Watcher holds a live, reloadable Config backed by a YAML file on disk.
type Watcher struct {
	mu         sync.RWMutex
	cfg        Config
	path       string
	fsWatcher  *fsnotify.Watcher
	stopOnce   sync.Once
	stopSignal chan struct{}
}

// Load reads path (if present; a missing file is not an error — Defaults()
// is used instead) and returns a Watcher primed with the result.
func Load(path string) (*Watcher, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := readConfig(path)
			if err != nil {
				return nil, err
			}
			cfg = mergeDefaults(loaded)
		}
	}

	return &Watcher{cfg: cfg, path: path, stopSignal: make(chan struct{})}, nil
}

func readConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

func mergeDefaults(cfg Config) Config {
	d := Defaults()
	if cfg.Addr == "" {
		cfg.Addr = d.Addr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = d.LogLevel
	}
	return cfg
}

// Current returns a snapshot of the live config.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Watch starts a background goroutine that reloads the config whenever the
// backing file changes on disk. It is a no-op if no file path was given to
// Load. Call Stop to release the fsnotify watcher.
func (w *Watcher) Watch() error {
	if err := assert.Check(w != nil, "watcher must not be nil"); err != nil {
		return err
	}
	if w.path == "" {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("watching config directory: %w", err)
	}
	w.fsWatcher = fw

	go func() {
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := readConfig(w.path)
				if err != nil {
					logging.Warn("config reload failed", logging.Fields{Component: "config", Error: err.Error()})
					continue
				}
				w.mu.Lock()
				w.cfg = mergeDefaults(cfg)
				w.mu.Unlock()
				logging.Info("config reloaded", logging.Fields{Component: "config"})
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logging.Warn("config watcher error", logging.Fields{Component: "config", Error: err.Error()})
			case <-w.stopSignal:
				return
			}
		}
	}()

	return nil
}

// Stop releases the underlying fsnotify watcher, if one was started.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopSignal)
		if w.fsWatcher != nil {
			w.fsWatcher.Close()
		}
	})
}
