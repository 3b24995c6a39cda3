package transfer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cohenjo/migration-stream/pkg/config"
	"github.com/cohenjo/migration-stream/pkg/metrics"
	"github.com/cohenjo/migration-stream/pkg/models"
	"github.com/cohenjo/migration-stream/pkg/state"
)

// Result is the outcome of a transfer, either Success or Failure
type Result interface {
	IsSuccessful() bool
	result()
}

// Success is a completed dump and restore
type Success struct{}

// Failure is a transfer that did not complete
type Failure struct {
	Cause error
}

func (Success) IsSuccessful() bool { return true }
func (Failure) IsSuccessful() bool { return false }
func (Success) result()            {}
func (Failure) result()            {}

func (f Failure) Error() string {
	if f.Cause == nil {
		return "transfer failed"
	}
	return "transfer failed: " + f.Cause.Error()
}

// Transfer copies the existing documents of one mapping to the destination
type Transfer interface {
	PerformTransfer(ctx context.Context) Result
	Stop()
}

// NoOpTransfer is used when the bulk copy is disabled
type NoOpTransfer struct{}

func (NoOpTransfer) PerformTransfer(context.Context) Result { return Success{} }
func (NoOpTransfer) Stop()                                  {}

// Runner runs one command to completion
type Runner interface {
	Run(ctx context.Context, command Command) (CommandResult, error)
	Stop()
}

// RunnerFactory creates a runner forwarding output lines to handler
type RunnerFactory func(handler LineHandler, logger *logrus.Entry) Runner

func defaultRunnerFactory(handler LineHandler, logger *logrus.Entry) Runner {
	return NewCommandRunner(handler, logger)
}

// MongoToolsOptions configures a MongoToolsTransfer
type MongoToolsOptions struct {
	Config        *config.Config
	Mapping       models.SourceToDestination
	PasswordFiles *PasswordConfigFiles
	Notifier      state.Notifier
	Telemetry     *metrics.TelemetryManager
	Logger        *logrus.Logger
	// RunnerFactory overrides how commands are executed
	RunnerFactory RunnerFactory
}

// MongoToolsTransfer dumps the source collection with mongodump and restores
// it into the destination with mongorestore
type MongoToolsTransfer struct {
	opts   MongoToolsOptions
	logger *logrus.Entry

	mu      sync.Mutex
	runners []Runner
	stopped bool
}

// NewMongoToolsTransfer creates a transfer for one mapping
func NewMongoToolsTransfer(opts MongoToolsOptions) *MongoToolsTransfer {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.RunnerFactory == nil {
		opts.RunnerFactory = defaultRunnerFactory
	}
	if opts.PasswordFiles == nil {
		opts.PasswordFiles = NewPasswordConfigFiles(opts.Config.Performer.RootPath)
	}
	return &MongoToolsTransfer{
		opts: opts,
		logger: opts.Logger.WithFields(logrus.Fields{
			"component":   "transfer",
			"source":      opts.Mapping.Source.Namespace(),
			"destination": opts.Mapping.Destination.Namespace(),
		}),
	}
}

// PerformTransfer runs the dump then the restore. Any failure emits a
// Failed event; a failed dump skips the restore.
func (t *MongoToolsTransfer) PerformTransfer(ctx context.Context) Result {
	result := t.transfer(ctx)
	if failure, ok := result.(Failure); ok {
		t.logger.WithError(failure.Cause).Error("Failed to transfer collection using mongo tools")
		t.opts.Notifier.Notify(state.FailedEvent(t.opts.Mapping, failure.Cause))
	}
	return result
}

func (t *MongoToolsTransfer) transfer(ctx context.Context) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Failure{Cause: fmt.Errorf("panic during transfer: %v", r)}
		}
	}()

	mapping := t.opts.Mapping
	t.logger.Info("Starting transfer of collection")

	t.opts.Notifier.Notify(state.DumpStartEvent(mapping))
	dump, err := t.runCommand(ctx, t.dumpCommand(), func(line string) {
		t.logger.Warn(line)
		t.opts.Notifier.Notify(state.DumpUpdateEvent(mapping, line))
	})
	if err != nil {
		return Failure{Cause: err}
	}
	if !dump.IsSuccessful() {
		return Failure{Cause: fmt.Errorf("mongodump exited with code %d", dump.ExitCode)}
	}
	t.opts.Notifier.Notify(state.DumpFinishEvent(mapping))

	t.opts.Notifier.Notify(state.RestoreStartEvent(mapping))
	restore, err := t.runCommand(ctx, t.restoreCommand(), func(line string) {
		t.logger.Warn(line)
		t.opts.Notifier.Notify(state.RestoreUpdateEvent(mapping, line))
	})
	if err != nil {
		return Failure{Cause: err}
	}
	if !restore.IsSuccessful() {
		return Failure{Cause: fmt.Errorf("mongorestore exited with code %d", restore.ExitCode)}
	}
	t.opts.Notifier.Notify(state.RestoreFinishEvent(mapping))

	t.logger.Info("Finished transfer of collection")
	return Success{}
}

func (t *MongoToolsTransfer) runCommand(ctx context.Context, command Command, handler LineHandler) (CommandResult, error) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return CommandResult{ExitCode: -1}, fmt.Errorf("transfer stopped before %s", command.Name())
	}
	runner := t.opts.RunnerFactory(handler, t.logger)
	t.runners = append(t.runners, runner)
	t.mu.Unlock()

	ctx, span := t.opts.Telemetry.StartSpan(ctx, "transfer."+command.Name(), t.opts.Mapping)
	defer span.End()

	t.logger.WithField("command", command.Name()).Info("Start transfer command")
	result, err := runner.Run(ctx, command)
	span.SetAttributes(attribute.Int("exit_code", result.ExitCode))
	if err != nil {
		span.RecordError(err)
	}
	t.logger.WithFields(logrus.Fields{
		"command":   command.Name(),
		"exit_code": result.ExitCode,
	}).Info("Finished transfer command")
	return result, err
}

func (t *MongoToolsTransfer) dumpCommand() Command {
	cfg := t.opts.Config
	return DumpCommand{
		Executable:         cfg.MongoTool("mongodump"),
		Endpoint:           cfg.Source,
		Collection:         t.opts.Mapping.Source,
		DumpPath:           t.dumpsDir(),
		ReadPreference:     cfg.Performer.DumpReadPreference,
		Gzip:               cfg.Performer.Gzip,
		PasswordConfigPath: t.opts.PasswordFiles.SourceConfigPath,
	}
}

func (t *MongoToolsTransfer) restoreCommand() Command {
	cfg := t.opts.Config
	return RestoreCommand{
		Executable:         cfg.MongoTool("mongorestore"),
		Endpoint:           cfg.Destination,
		Collection:         t.opts.Mapping.Destination,
		DumpPath:           DumpedCollectionPath(t.dumpsDir(), t.opts.Mapping.Source),
		Gzip:               cfg.Performer.Gzip,
		InsertionWorkers:   cfg.Performer.InsertionWorkersPerCollection,
		PasswordConfigPath: t.opts.PasswordFiles.DestinationConfigPath,
	}
}

func (t *MongoToolsTransfer) dumpsDir() string {
	dir, err := filepath.Abs(DumpsDir(t.opts.Config.Performer.RootPath))
	if err != nil {
		return DumpsDir(t.opts.Config.Performer.RootPath)
	}
	return dir
}

// Stop kills any running command. It is idempotent.
func (t *MongoToolsTransfer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.logger.Info("Trying to shut down transfer gracefully")
	for _, runner := range t.runners {
		runner.Stop()
	}
	t.runners = nil
	t.logger.Info("Shut down transfer")
}

var (
	_ Transfer = (*MongoToolsTransfer)(nil)
	_ Transfer = NoOpTransfer{}
	_ Runner   = (*CommandRunner)(nil)
)
