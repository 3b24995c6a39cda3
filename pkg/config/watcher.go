package config

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Keys read back on every change of the watched file
const (
	batchSizeKey = "performer.batch_size"
	logLevelKey  = "logging.level"
)

// Watcher hot-reloads the batch size and the log level from a configuration
// file. Every other setting needs a restart.
type Watcher struct {
	v         *viper.Viper
	logger    *logrus.Logger
	batchSize atomic.Int64

	mu        sync.Mutex
	logLevel  string
	listeners []func(batchSize int, logLevel string)
}

// NewWatcher reads path once and seeds the reloadable values from cfg
func NewWatcher(path string, cfg *Config, logger *logrus.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logrus.New()
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	w := &Watcher{
		v:        v,
		logger:   logger,
		logLevel: cfg.Logging.Level,
	}
	w.batchSize.Store(int64(cfg.Performer.BatchSize))
	return w, nil
}

// Start watches the file for changes
func (w *Watcher) Start() {
	w.v.OnConfigChange(w.reload)
	w.v.WatchConfig()
	w.logger.WithField("file", w.v.ConfigFileUsed()).Info("Watching configuration for changes")
}

// BatchSize returns the current replay batch size
func (w *Watcher) BatchSize() int {
	return int(w.batchSize.Load())
}

// LogLevel returns the current log level
func (w *Watcher) LogLevel() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.logLevel
}

// OnChange registers fn to run after every applied reload
func (w *Watcher) OnChange(fn func(batchSize int, logLevel string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

func (w *Watcher) reload(e fsnotify.Event) {
	w.logger.WithField("file", e.Name).Info("Config file changed")
	if err := w.v.ReadInConfig(); err != nil {
		w.logger.WithError(err).Error("Unable to read changed configuration")
		return
	}
	w.apply()
}

// apply copies the reloadable keys present in the file, keeping the previous
// value of a key that is missing or invalid
func (w *Watcher) apply() {
	if w.v.IsSet(batchSizeKey) {
		if size := w.v.GetInt(batchSizeKey); size > 0 {
			w.batchSize.Store(int64(size))
		} else {
			w.logger.WithField("batch_size", size).Warn("Ignoring non positive batch size")
		}
	}

	w.mu.Lock()
	if w.v.IsSet(logLevelKey) {
		level := w.v.GetString(logLevelKey)
		if err := SetLogLevel(w.logger, level); err != nil {
			w.logger.WithError(err).Warn("Ignoring invalid log level")
		} else {
			w.logLevel = level
		}
	}
	batchSize, logLevel := w.BatchSize(), w.logLevel
	listeners := append([]func(int, string){}, w.listeners...)
	w.mu.Unlock()

	for _, listener := range listeners {
		listener(batchSize, logLevel)
	}
	w.logger.WithFields(logrus.Fields{
		"batch_size": batchSize,
		"log_level":  logLevel,
	}).Info("Configuration reloaded")
}
