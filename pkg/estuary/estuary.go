package estuary

// estuary means "mouth of river"
// Noun, the tidal mouth of a large river, where the tide meets the stream

// here the queued change events of one mapping are drained into the destination collection.

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/cohenjo/migration-stream/pkg/config"
	"github.com/cohenjo/migration-stream/pkg/events"
	"github.com/cohenjo/migration-stream/pkg/metrics"
	"github.com/cohenjo/migration-stream/pkg/models"
	"github.com/cohenjo/migration-stream/pkg/queue"
	"github.com/cohenjo/migration-stream/pkg/state"
)

const (
	defaultPausePoll   = 100 * time.Millisecond
	defaultStopTimeout = 10 * time.Second
)

// LocalToDestinationOptions configures a LocalToDestinationSynchronizer
type LocalToDestinationOptions struct {
	Mapping   models.SourceToDestination
	Queue     queue.EventQueue
	Publisher Publisher
	BatchSize BatchSizeProvider
	Notifier  state.Notifier
	Telemetry *metrics.TelemetryManager
	Retry     config.RetryConfig
	// IdleBackoff is the wait before re-checking an empty queue
	IdleBackoff time.Duration
	// PausePoll is how often a paused loop checks for resume
	PausePoll   time.Duration
	StopTimeout time.Duration
	Logger      *logrus.Logger
}

// LocalToDestinationSynchronizer drains one mapping's queue into the
// destination in ordered batches
type LocalToDestinationSynchronizer struct {
	opts   LocalToDestinationOptions
	logger *logrus.Entry

	paused   atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewLocalToDestinationSynchronizer creates a replay loop for one mapping
func NewLocalToDestinationSynchronizer(opts LocalToDestinationOptions) *LocalToDestinationSynchronizer {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.BatchSize == nil {
		opts.BatchSize = ConstantBatchSizeProvider(config.DefaultConfig().Performer.BatchSize)
	}
	if opts.PausePoll <= 0 {
		opts.PausePoll = defaultPausePoll
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	return &LocalToDestinationSynchronizer{
		opts: opts,
		logger: opts.Logger.WithFields(logrus.Fields{
			"component":   "local_to_destination",
			"source":      opts.Mapping.Source.Namespace(),
			"destination": opts.Mapping.Destination.Namespace(),
		}),
	}
}

// Start launches the replay loop
func (s *LocalToDestinationSynchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.Load() {
		return fmt.Errorf("local to destination synchronization for %s is stopped", s.opts.Mapping)
	}
	if s.started {
		return fmt.Errorf("local to destination synchronization for %s is already running", s.opts.Mapping)
	}

	s.logger.Info("Starting local to destination synchronization")
	s.opts.Notifier.Notify(state.LocalToDestinationStartEvent(s.opts.Mapping))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.started = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx, s.done)
	return nil
}

// Pause stops new batches from being taken; a batch in flight completes
func (s *LocalToDestinationSynchronizer) Pause() {
	s.opts.Notifier.Notify(state.PauseEvent(s.opts.Mapping))
	s.paused.Store(true)
	s.logger.Info("Local to destination synchronization paused")
}

// Resume lets the loop take batches again
func (s *LocalToDestinationSynchronizer) Resume() {
	s.opts.Notifier.Notify(state.ResumeEvent(s.opts.Mapping))
	s.paused.Store(false)
	s.logger.Info("Local to destination synchronization resumed")
}

// IsPaused reports whether the loop is paused
func (s *LocalToDestinationSynchronizer) IsPaused() bool {
	return s.paused.Load()
}

// Stop terminates the loop and purges the queue. It is idempotent.
func (s *LocalToDestinationSynchronizer) Stop() {
	s.shutdown(true)
}

func (s *LocalToDestinationSynchronizer) shutdown(wait bool) {
	s.stopOnce.Do(func() {
		s.logger.Info("Trying to shut down local to destination synchronization gracefully")
		s.stopped.Store(true)

		s.mu.Lock()
		cancel, done := s.cancel, s.done
		s.mu.Unlock()

		if cancel != nil {
			cancel()
			if wait {
				select {
				case <-done:
				case <-time.After(s.opts.StopTimeout):
					s.logger.Warn("Timed out waiting for the replay loop to stop")
				}
			}
		}

		if err := s.opts.Queue.RemoveAll(); err != nil {
			s.logger.WithError(err).Warn("Failed to purge queue")
		}
		s.logger.Info("Local to destination synchronization shut down")
	})
}

func (s *LocalToDestinationSynchronizer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("Panic in local to destination synchronization")
			s.handleFail(fmt.Errorf("panic in replay loop: %v", r))
		}
	}()

	for !s.stopped.Load() {
		if s.paused.Load() {
			if !sleep(ctx, s.opts.PausePoll) {
				return
			}
			continue
		}

		batch := s.pollBatch()
		if len(batch) == 0 {
			if !sleep(ctx, s.opts.IdleBackoff) {
				return
			}
			continue
		}

		if err := s.sendBatch(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.WithError(err).Error("Error during local to destination synchronization, stopping synchronization for this collection")
			s.handleFail(err)
			return
		}
	}
}

// pollBatch takes min(queue size, batch size) events
func (s *LocalToDestinationSynchronizer) pollBatch() []events.ChangeEvent {
	amount := s.opts.Queue.Size()
	if batchSize := s.opts.BatchSize.BatchSize(); batchSize < amount {
		amount = batchSize
	}
	if amount <= 0 {
		return nil
	}

	s.logger.Debugf("Polling %d elements from queue", amount)
	batch := make([]events.ChangeEvent, 0, amount)
	for i := 0; i < amount; i++ {
		event, ok := s.opts.Queue.Poll()
		if !ok {
			break
		}
		batch = append(batch, event)
	}
	return batch
}

// sendBatch applies a batch with the retry policy; each attempt has its own timeout
func (s *LocalToDestinationSynchronizer) sendBatch(ctx context.Context, batch []events.ChangeEvent) error {
	ctx, span := s.opts.Telemetry.StartSpan(ctx, "replay.batch", s.opts.Mapping)
	defer span.End()

	retry := s.opts.Retry
	attempts := 0
	started := time.Now()

	operation := func() (*BulkResult, error) {
		attempts++
		attemptCtx := ctx
		if retry.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, retry.AttemptTimeout)
			defer cancel()
		}
		result, err := s.opts.Publisher.PublishBulkEvents(attemptCtx, batch)
		if err != nil {
			s.logger.WithError(err).WithField("attempt", attempts).Error("Unable to send batch to destination")
		}
		return result, err
	}

	result, err := backoff.Retry(ctx, operation, retryOptions(retry, func(err error, next time.Duration) {
		s.logger.WithFields(logrus.Fields{
			"attempt": attempts + 1,
			"wait":    next.String(),
		}).Warn("Retrying to send batch to destination")
	})...)

	elapsed := time.Since(started)
	s.opts.Telemetry.RecordBatch(ctx, s.opts.Mapping, len(batch), elapsed, err)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("batch of %d events not applied after %d attempts: %w", len(batch), attempts, err)
	}

	entry := s.logger.WithFields(logrus.Fields{
		"size":        len(batch),
		"duration_ms": elapsed.Milliseconds(),
	})
	if result != nil && result.Skipped > 0 {
		entry = entry.WithField("skipped", result.Skipped)
	}
	entry.Info("Sent batch to destination")
	return nil
}

// retryOptions builds the backoff policy: exponential delays between
// InitialInterval and MaxInterval, bounded by MaxElapsedTime overall
func retryOptions(cfg config.RetryConfig, notify backoff.Notify) []backoff.RetryOption {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialInterval
	policy.MaxInterval = cfg.MaxInterval
	policy.RandomizationFactor = 0
	if cfg.Multiplier >= 1 {
		policy.Multiplier = cfg.Multiplier
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(cfg.MaxElapsedTime),
		backoff.WithNotify(notify),
	}
	if cfg.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(cfg.MaxTries))
	}
	return opts
}

func (s *LocalToDestinationSynchronizer) handleFail(err error) {
	s.opts.Notifier.Notify(state.FailedEvent(s.opts.Mapping, err))
	s.shutdown(false)
}

// sleep waits for d or until ctx is done; false means ctx is done
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// IsStopped reports whether the loop has terminated or been asked to
func (s *LocalToDestinationSynchronizer) IsStopped() bool {
	return s.stopped.Load()
}
