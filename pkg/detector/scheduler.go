package detector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPeriod      = 10 * time.Second
	defaultStopTimeout = 10 * time.Second
)

// SchedulerOptions configures a Scheduler
type SchedulerOptions struct {
	// Mappings is the number of performers that must report before detection starts
	Mappings     int
	Detectors    []Detector
	Handlers     []ResultHandler
	InitialDelay time.Duration
	Period       time.Duration
	StopTimeout  time.Duration
	Logger       *logrus.Logger
}

// Scheduler runs the detectors periodically once every mapping finished its
// initial transfer
type Scheduler struct {
	opts     SchedulerOptions
	logger   *logrus.Entry
	finished atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewScheduler creates a scheduler; nothing runs until TryToStartDetecting
// was called once per mapping
func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Period <= 0 {
		opts.Period = defaultPeriod
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	return &Scheduler{
		opts:   opts,
		logger: opts.Logger.WithField("component", "detection_scheduler"),
	}
}

// TryToStartDetecting records one finished transfer. The call that reaches
// the number of mappings starts the detection loop.
func (s *Scheduler) TryToStartDetecting() {
	if s.finished.Add(1) != int64(s.opts.Mappings) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.done != nil {
		return
	}
	s.logger.Info("Starting detecting synchronization...")

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Started reports whether the detection loop was launched
func (s *Scheduler) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(s.opts.InitialDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(s.opts.Period)
	defer ticker.Stop()
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Warn("Cannot detect synchronization")
		}
	}()

	perDetector := make([][]DetectionResult, len(s.opts.Detectors))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, detector := range s.opts.Detectors {
		group.Go(func() error {
			perDetector[i] = s.detect(groupCtx, detector)
			return nil
		})
	}
	_ = group.Wait()
	if ctx.Err() != nil {
		return
	}

	var results []DetectionResult
	for _, r := range perDetector {
		results = append(results, r...)
	}
	for _, handler := range s.opts.Handlers {
		for _, result := range results {
			s.handle(handler, result)
		}
	}
}

func (s *Scheduler) detect(ctx context.Context, detector Detector) (results []DetectionResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{"detector": detector.Name(), "panic": r}).
				Warn("Cannot detect synchronization")
			results = nil
		}
	}()
	return detector.Detect(ctx)
}

func (s *Scheduler) handle(handler ResultHandler, result DetectionResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Warn("Cannot handle synchronization")
		}
	}()
	handler.Handle(result)
}

// Stop ends the detection loop. It is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-time.After(s.opts.StopTimeout):
			s.logger.Warn("Detection loop did not stop in time")
		}
	}
	s.logger.Info("Shut down detection scheduler")
}
