package service

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mir00r/domain-router/internal/config"
	"github.com/mir00r/domain-router/pkg/logger"
)

const reloadDebounce = 200 * time.Millisecond

// ConfigReloadService watches the configuration file and hands every valid
// new version to the registered callbacks. Settings that need a restart, such
// as listen addresses, are only logged.
type ConfigReloadService struct {
	configFilePath  string
	logger          *logger.Logger
	metrics         *Metrics
	mutex           sync.RWMutex
	config          *config.Config
	reloadCallbacks []func(*config.Config) error
	lastReload      time.Time
}

// NewConfigReloadService creates a new configuration reload service
func NewConfigReloadService(cfg *config.Config, configFilePath string, metrics *Metrics, log *logger.Logger) *ConfigReloadService {
	if log == nil {
		log = logger.NewNop()
	}
	return &ConfigReloadService{
		config:         cfg,
		configFilePath: configFilePath,
		logger:         log.WithField("component", "config_reload"),
		metrics:        metrics,
	}
}

// RegisterReloadCallback registers a callback to be called when config is reloaded
func (crs *ConfigReloadService) RegisterReloadCallback(callback func(*config.Config) error) {
	crs.mutex.Lock()
	defer crs.mutex.Unlock()
	crs.reloadCallbacks = append(crs.reloadCallbacks, callback)
}

// Watch reloads the configuration whenever the file changes, until ctx is
// done. The parent directory is watched so editors that replace the file
// are noticed.
func (crs *ConfigReloadService) Watch(ctx context.Context) error {
	absPath, err := filepath.Abs(crs.configFilePath)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	crs.logger.WithField("config_file", absPath).Info("Started configuration file watcher")

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			crs.logger.Info("Stopped configuration file watcher")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					if err := crs.Reload(); err != nil {
						crs.logger.WithError(err).Error("Failed to reload configuration")
					}
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			crs.logger.WithError(err).Warn("Configuration watcher error")
		}
	}
}

// Reload reads the configuration file and applies it if it changed. An
// invalid file leaves the current configuration in place.
func (crs *ConfigReloadService) Reload() error {
	newConfig, err := config.LoadConfig(crs.configFilePath)
	if err != nil {
		crs.recordReload(false)
		return err
	}
	return crs.ReloadConfig(newConfig)
}

// ReloadConfig applies newConfig through the registered callbacks
func (crs *ConfigReloadService) ReloadConfig(newConfig *config.Config) error {
	crs.mutex.Lock()
	defer crs.mutex.Unlock()

	if reflect.DeepEqual(crs.config, newConfig) {
		crs.logger.Debug("Configuration unchanged")
		return nil
	}

	old := crs.config
	if old != nil && (old.Server != newConfig.Server || old.Store != newConfig.Store || old.Admin.Path != newConfig.Admin.Path) {
		crs.logger.Warn("Server, store and admin path changes take effect after a restart")
	}

	for _, callback := range crs.reloadCallbacks {
		if err := callback(newConfig); err != nil {
			crs.recordReload(false)
			crs.logger.WithError(err).Error("Config reload callback failed")
			return err
		}
	}

	crs.config = newConfig
	crs.lastReload = time.Now()
	crs.recordReload(true)

	crs.logger.WithFields(map[string]interface{}{
		"log_level":      newConfig.Logging.Level,
		"system_http":    newConfig.SystemBackend.HTTPAddress,
		"system_https":   newConfig.SystemBackend.HTTPSAddress,
		"haproxy_config": newConfig.HAProxy.ConfigPath,
	}).Info("Configuration reloaded successfully")
	return nil
}

// GetCurrentConfig returns the current configuration
func (crs *ConfigReloadService) GetCurrentConfig() *config.Config {
	crs.mutex.RLock()
	defer crs.mutex.RUnlock()
	return crs.config
}

// GetReloadStats returns reload statistics
func (crs *ConfigReloadService) GetReloadStats() map[string]interface{} {
	crs.mutex.RLock()
	defer crs.mutex.RUnlock()

	return map[string]interface{}{
		"config_file":     crs.configFilePath,
		"callbacks_count": len(crs.reloadCallbacks),
		"last_reload":     crs.lastReload,
	}
}

func (crs *ConfigReloadService) recordReload(ok bool) {
	if crs.metrics != nil {
		crs.metrics.RecordConfigReload(ok)
	}
}
