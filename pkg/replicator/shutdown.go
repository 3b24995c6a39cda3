package replicator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// ErrShutdownInProgress is returned by a second Shutdown call
var ErrShutdownInProgress = errors.New("shutdown already in progress")

// ShutdownHandler stops the migration on a termination signal
type ShutdownHandler struct {
	controller      *MigrationController
	logger          *logrus.Logger
	shutdownTimeout time.Duration
	signals         []os.Signal
	hooks           []ShutdownHook
	mu              sync.RWMutex
	isShuttingDown  bool
}

// ShutdownHook represents a function to call during shutdown
type ShutdownHook struct {
	Name     string
	Priority int // Lower numbers execute first
	Timeout  time.Duration
	Fn       func(ctx context.Context) error
}

// ShutdownHandlerOptions configures the shutdown handler
type ShutdownHandlerOptions struct {
	Controller      *MigrationController
	Logger          *logrus.Logger
	ShutdownTimeout time.Duration
	Signals         []os.Signal
}

// NewShutdownHandler creates a new shutdown handler
func NewShutdownHandler(opts ShutdownHandlerOptions) *ShutdownHandler {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}

	if opts.Signals == nil {
		opts.Signals = []os.Signal{
			syscall.SIGINT,  // Ctrl+C
			syscall.SIGTERM, // Termination signal
			syscall.SIGQUIT, // Quit signal
		}
	}

	return &ShutdownHandler{
		controller:      opts.Controller,
		logger:          opts.Logger,
		shutdownTimeout: opts.ShutdownTimeout,
		signals:         opts.Signals,
	}
}

// AddHook adds a shutdown hook to be executed before the migration stops
func (sh *ShutdownHandler) AddHook(hook ShutdownHook) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if hook.Timeout == 0 {
		hook.Timeout = 10 * time.Second
	}

	sh.hooks = append(sh.hooks, hook)
	sort.SliceStable(sh.hooks, func(i, j int) bool {
		return sh.hooks[i].Priority < sh.hooks[j].Priority
	})

	sh.logger.WithFields(logrus.Fields{
		"hook":     hook.Name,
		"priority": hook.Priority,
		"timeout":  hook.Timeout,
	}).Debug("Added shutdown hook")
}

// Wait blocks until a shutdown signal or ctx cancellation, then shuts down
func (sh *ShutdownHandler) Wait(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, sh.signals...)
	defer signal.Stop(sigChan)

	sh.logger.WithField("signals", sh.signals).Info("Waiting for shutdown signal")

	select {
	case sig := <-sigChan:
		sh.logger.WithField("signal", sig).Info("Received shutdown signal")
	case <-ctx.Done():
		sh.logger.Info("Context cancelled, shutting down")
	}

	return sh.Shutdown()
}

// Shutdown runs the hooks and then stops the migration
func (sh *ShutdownHandler) Shutdown() error {
	sh.mu.Lock()
	if sh.isShuttingDown {
		sh.mu.Unlock()
		return ErrShutdownInProgress
	}
	sh.isShuttingDown = true
	sh.mu.Unlock()

	sh.logger.Info("Starting graceful shutdown")
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), sh.shutdownTimeout)
	defer cancel()

	shutdownError := sh.executeHooks(ctx)
	if shutdownError != nil {
		sh.logger.WithError(shutdownError).Error("Some shutdown hooks failed")
	}

	if sh.controller != nil {
		sh.logger.Info("Stopping migration")
		if err := sh.controller.Stop(ctx); err != nil {
			sh.logger.WithError(err).Error("Failed to stop migration")
			shutdownError = multierr.Append(shutdownError, err)
		}
	}

	duration := time.Since(startTime)
	if shutdownError == nil {
		sh.logger.WithField("duration", duration).Info("Graceful shutdown completed successfully")
	} else {
		sh.logger.WithFields(logrus.Fields{
			"duration": duration,
			"error":    shutdownError,
		}).Error("Graceful shutdown completed with errors")
	}

	return shutdownError
}

func (sh *ShutdownHandler) executeHooks(ctx context.Context) error {
	sh.mu.RLock()
	hooks := make([]ShutdownHook, len(sh.hooks))
	copy(hooks, sh.hooks)
	sh.mu.RUnlock()

	if len(hooks) == 0 {
		sh.logger.Debug("No shutdown hooks to execute")
		return nil
	}

	sh.logger.WithField("count", len(hooks)).Info("Executing shutdown hooks")

	var err error
	for _, hook := range hooks {
		hookCtx, hookCancel := context.WithTimeout(ctx, hook.Timeout)
		hookStart := time.Now()
		hookErr := hook.Fn(hookCtx)
		hookCancel()

		fields := logrus.Fields{"hook": hook.Name, "duration": time.Since(hookStart)}
		if hookErr != nil {
			sh.logger.WithFields(fields).WithError(hookErr).Error("Shutdown hook failed")
			err = multierr.Append(err, fmt.Errorf("hook %s failed: %w", hook.Name, hookErr))
			continue
		}
		sh.logger.WithFields(fields).Debug("Shutdown hook completed successfully")
	}
	return err
}

// IsShuttingDown returns true if shutdown is in progress
func (sh *ShutdownHandler) IsShuttingDown() bool {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.isShuttingDown
}

// GetHooks returns a copy of all registered hooks
func (sh *ShutdownHandler) GetHooks() []ShutdownHook {
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	hooks := make([]ShutdownHook, len(sh.hooks))
	copy(hooks, sh.hooks)
	return hooks
}

// CreateServerStopHook creates a hook stopping an HTTP server before the migration
func CreateServerStopHook(name string, stop func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{
		Name:     name + "_stop",
		Priority: 5,
		Timeout:  10 * time.Second,
		Fn:       stop,
	}
}

// CreateMetricsFlushHook creates a hook for flushing metrics
func CreateMetricsFlushHook(flush func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{
		Name:     "metrics_flush",
		Priority: 15,
		Timeout:  10 * time.Second,
		Fn:       flush,
	}
}
