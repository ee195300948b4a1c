// Package config provides a configuration manager that loads and watches a JSON
// configuration file holding the mutable runtime state of the hub.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/nybots/iptv-hub/internal/fileutils"
)

// Provider is an interface that defines methods to access configuration values.
type Provider interface {
	Source() string
	SetSource(string) error
}

// Conf represents the configuration structure.
type Conf struct {
	SourceURL string `json:"sourceUrl"`
}

// Manager is a struct that manages the configuration.
//
// The playlist source URL can be changed at runtime (bot admin flow,
// /api/reload with a URL); SetSource persists it so both processes and
// restarts observe the change.
type Manager struct {
	config     Conf
	lock       sync.RWMutex
	configPath string

	log *slog.Logger
}

type options struct {
	Logger *slog.Logger
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Options {
	return func(o *options) {
		o.Logger = log
	}
}

// New creates a new configuration manager with the specified path.
//
// fallbackSource seeds the source URL until the file provides one.
func New(path, fallbackSource string, args ...Options) *Manager {
	opts := options{
		Logger: slog.Default(),
	}

	for _, opt := range args {
		opt(&opts)
	}

	return &Manager{
		config:     Conf{SourceURL: fallbackSource},
		configPath: path,
		log:        opts.Logger,
	}
}

// Load reads the configuration from the specified file and updates the internal state.
//
// A missing file is not an error: the seeded values stay in effect.
func (cm *Manager) Load() error {
	if cm.configPath == "" {
		return nil
	}

	file, err := os.Open(cm.configPath)
	if os.IsNotExist(err) {
		cm.log.Info("No dynamic configuration file, keeping current values", "path", cm.configPath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	defer file.Close()

	var newConfig Conf
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&newConfig); err != nil {
		return fmt.Errorf("decoding config JSON: %w", err)
	}

	cm.lock.Lock()
	if newConfig.SourceURL != "" {
		cm.config.SourceURL = newConfig.SourceURL
	}
	cm.lock.Unlock()

	cm.log.Info("Configuration loaded", "path", cm.configPath)
	return nil
}

// Watch starts watching the configuration file for changes.
//
// It returns two channels: one for configuration changes which result in a
// successful load and another for unrecoverable watcher errors.
func (cm *Manager) Watch(ctx context.Context) (changes <-chan struct{}, errors <-chan error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %v", err)
	}

	configDir, _ := filepath.Split(cm.configPath)
	if configDir == "" {
		configDir = "."
	}
	if err := watcher.Add(configDir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("failed to add directory %s to watcher: %v", configDir, err)
	}

	cm.log.Info("Watching configuration directory", "dir", configDir)
	changesCh := make(chan struct{}, 1)
	errorsCh := make(chan error, 1)

	// Initial load of the configuration
	if err := cm.Load(); err != nil {
		cm.log.Warn("Error loading initial config", "err", err)
	}

	go func() {
		defer close(changesCh)
		defer close(errorsCh)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				cm.log.Info("Configuration watcher stopped")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					errorsCh <- fmt.Errorf("watcher events channel closed unexpectedly")
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				if event.Name != cm.configPath {
					continue
				}

				cm.log.Debug("Configuration file changed. Reloading...")
				if err := cm.Load(); err != nil {
					cm.log.Warn("Error reloading config", "err", err)
					continue
				}

				select {
				case changesCh <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					errorsCh <- fmt.Errorf("watcher errors channel closed unexpectedly")
					return
				}
				cm.log.Warn("Watcher error", "err", err)
			}
		}
	}()

	return changesCh, errorsCh, nil
}

// Source returns the playlist source URL from the configuration.
func (cm *Manager) Source() string {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	return cm.config.SourceURL
}

// SetSource updates the playlist source URL and persists it to the
// configuration file when one is configured.
func (cm *Manager) SetSource(url string) error {
	cm.lock.Lock()
	cm.config.SourceURL = url
	persisted := cm.config
	cm.lock.Unlock()

	if cm.configPath == "" {
		return nil
	}

	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config JSON: %w", err)
	}
	if err := fileutils.AtomicWrite(cm.configPath, data); err != nil {
		return fmt.Errorf("persisting config: %w", err)
	}

	cm.log.Info("Playlist source updated", "path", cm.configPath)
	return nil
}
