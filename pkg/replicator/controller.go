package replicator

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/cohenjo/migration-stream/pkg/models"
	"github.com/cohenjo/migration-stream/pkg/state"
	"github.com/cohenjo/migration-stream/pkg/validation"
)

// Status represents the lifecycle of a migration
type Status string

const (
	StatusNew      Status = "new"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// PerformerController runs the per-collection performers
type PerformerController interface {
	StartPerformers(ctx context.Context)
	PausePerformers()
	ResumePerformers()
	StopPerformers()
}

// Stopper is a component stopped during teardown
type Stopper interface {
	Stop()
}

// Components are the parts a MigrationController drives
type Components struct {
	Mappings   []models.SourceToDestination
	Validators []validation.Validator
	Performers PerformerController
	Detection  Stopper
	StateInfo  *state.StateInfo
	// Cleanup removes dumps, queues and password files; may be nil
	Cleanup func() error
	// Close releases the database clients; may be nil
	Close func(ctx context.Context) error
	// Ping checks the database clients; may be nil
	Ping   func(ctx context.Context) error
	Logger *logrus.Logger
}

// MigrationController is the control surface of one migration
type MigrationController struct {
	c      Components
	logger *logrus.Entry

	mu     sync.RWMutex
	status Status
	cancel context.CancelFunc
}

// NewMigrationController creates a controller from ready components
func NewMigrationController(c Components) *MigrationController {
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
	if c.StateInfo == nil {
		c.StateInfo = state.NewStateInfo(nil)
	}
	return &MigrationController{
		c:      c,
		logger: c.Logger.WithField("component", "migration_controller"),
		status: StatusNew,
	}
}

// Start validates the preconditions and launches every performer. Performers
// outlive ctx; they end with Stop.
func (m *MigrationController) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status != StatusNew {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.status = StatusStarting
	m.mu.Unlock()

	m.logger.Info("Validating if migration can be performed")
	if err := validation.Run(ctx, m.c.Validators, m.c.Logger); err != nil {
		m.logger.WithError(err).Error("Validation failed when starting migration")
		m.setStatus(StatusError)
		return &StartError{Err: err}
	}
	m.logger.Info("Validation passed successfully")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.c.Performers.StartPerformers(runCtx)
	m.setStatus(StatusRunning)
	return nil
}

// Stop stops detection and every performer, removes the local files and
// closes the clients. Every step runs even when a previous one failed. A
// second call is a no-op.
func (m *MigrationController) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusStopping || m.status == StatusStopped {
		m.mu.Unlock()
		return nil
	}
	m.status = StatusStopping
	cancel := m.cancel
	m.mu.Unlock()

	m.logger.Info("Trying to stop migration...")
	var err error
	if m.c.Detection != nil {
		err = multierr.Append(err, m.step("stop detection", func() error { m.c.Detection.Stop(); return nil }))
	}
	if m.c.Performers != nil {
		err = multierr.Append(err, m.step("stop performers", func() error { m.c.Performers.StopPerformers(); return nil }))
	}
	if cancel != nil {
		cancel()
	}
	if m.c.Cleanup != nil {
		err = multierr.Append(err, m.step("cleanup", m.c.Cleanup))
	}
	if m.c.Close != nil {
		err = multierr.Append(err, m.step("close clients", func() error { return m.c.Close(ctx) }))
	}

	m.setStatus(StatusStopped)
	if err != nil {
		m.logger.WithError(err).Error("Error when stopping migration")
		return &StopError{Err: err}
	}
	m.logger.Info("Stopped migration successfully")
	return nil
}

func (m *MigrationController) step(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Pause stops replaying queued events; capture keeps filling the queues
func (m *MigrationController) Pause() {
	m.logger.Info("Pausing migration")
	m.c.Performers.PausePerformers()
}

func (m *MigrationController) Resume() {
	m.logger.Info("Resuming migration")
	m.c.Performers.ResumePerformers()
}

// MigrationState folds the recorded lifecycle events into a snapshot
func (m *MigrationController) MigrationState() state.State {
	return m.c.StateInfo.MigrationState()
}

// Ping reports whether both clusters are reachable
func (m *MigrationController) Ping(ctx context.Context) error {
	if m.c.Ping == nil {
		return nil
	}
	return m.c.Ping(ctx)
}

// Mappings returns the migrated collection mappings
func (m *MigrationController) Mappings() []models.SourceToDestination {
	return m.c.Mappings
}

func (m *MigrationController) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *MigrationController) setStatus(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}
