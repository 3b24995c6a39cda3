package performer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cohenjo/migration-stream/pkg/estuary"
	"github.com/cohenjo/migration-stream/pkg/index"
	"github.com/cohenjo/migration-stream/pkg/models"
	"github.com/cohenjo/migration-stream/pkg/state"
	"github.com/cohenjo/migration-stream/pkg/streams"
	"github.com/cohenjo/migration-stream/pkg/transfer"
)

// Result collects the outcome of every stage of one performer
type Result struct {
	CaptureErr error
	Transfer   transfer.Result
	ReplayErr  error
}

// IsSuccessful is true when capture started, the transfer completed and
// replay started
func (r Result) IsSuccessful() bool {
	return r.CaptureErr == nil && r.Transfer != nil && r.Transfer.IsSuccessful() && r.ReplayErr == nil
}

// Options holds the stages of one performer
type Options struct {
	Mapping  models.SourceToDestination
	Capture  streams.Synchronizer
	Transfer transfer.Transfer
	Cloner   index.Cloner
	Replay   estuary.ResumableSynchronizer
	Notifier state.Notifier
	Logger   *logrus.Logger
}

// Performer migrates one collection: it captures changes into the local
// queue, copies the existing documents, clones the indexes and then replays
// the queue into the destination
type Performer struct {
	opts   Options
	logger *logrus.Entry
}

// New creates a performer; nil stages are replaced by no-ops
func New(opts Options) *Performer {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Capture == nil {
		opts.Capture = streams.NoOpSynchronizer{}
	}
	if opts.Transfer == nil {
		opts.Transfer = transfer.NoOpTransfer{}
	}
	if opts.Cloner == nil {
		opts.Cloner = index.NoOpCloner{}
	}
	if opts.Replay == nil {
		opts.Replay = estuary.NoOpResumableSynchronizer{}
	}
	return &Performer{
		opts: opts,
		logger: opts.Logger.WithFields(logrus.Fields{
			"component":   "performer",
			"source":      opts.Mapping.Source.Namespace(),
			"destination": opts.Mapping.Destination.Namespace(),
		}),
	}
}

// Mapping returns the collection mapping handled by the performer
func (p *Performer) Mapping() models.SourceToDestination {
	return p.opts.Mapping
}

// Perform runs the stages in order. Capture starts before the transfer so no
// change made during the copy is lost. Index cloning runs in the background.
func (p *Performer) Perform(ctx context.Context) Result {
	var result Result

	result.CaptureErr = p.opts.Capture.Start(ctx)
	if result.CaptureErr != nil {
		p.logger.WithError(result.CaptureErr).Error("Unable to start capturing changes")
	}

	result.Transfer = p.opts.Transfer.PerformTransfer(ctx)

	p.opts.Cloner.CloneIndexes(ctx)

	result.ReplayErr = p.opts.Replay.Start(ctx)
	if result.ReplayErr != nil {
		p.logger.WithError(result.ReplayErr).Error("Unable to start replaying changes")
	}

	p.logger.WithField("successful", result.IsSuccessful()).Info("Performer started all stages")
	return result
}

func (p *Performer) Pause() {
	p.opts.Replay.Pause()
}

func (p *Performer) Resume() {
	p.opts.Replay.Resume()
}

// Stop emits Stop and then stops every stage, even when one of them fails
func (p *Performer) Stop() {
	p.opts.Notifier.Notify(state.StopEvent(p.opts.Mapping))
	p.guard("transfer", p.opts.Transfer.Stop)
	p.guard("index_cloner", p.opts.Cloner.Stop)
	p.guard("capture", p.opts.Capture.Stop)
	p.guard("replay", p.opts.Replay.Stop)
}

func (p *Performer) guard(stage string, stop func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithError(fmt.Errorf("panic: %v", r)).WithField("stage", stage).
				Warn("Exception while stopping stage")
		}
	}()
	stop()
}
