package performer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/cohenjo/migration-stream/pkg/config"
	"github.com/cohenjo/migration-stream/pkg/estuary"
	"github.com/cohenjo/migration-stream/pkg/index"
	"github.com/cohenjo/migration-stream/pkg/models"
	"github.com/cohenjo/migration-stream/pkg/queue"
	"github.com/cohenjo/migration-stream/pkg/state"
	"github.com/cohenjo/migration-stream/pkg/streams"
	"github.com/cohenjo/migration-stream/pkg/transfer"
)

var testMapping = models.SourceToDestination{
	Source:      models.DbCollection{DBName: "shop", CollectionName: "orders"},
	Destination: models.DbCollection{DBName: "shop_v2", CollectionName: "orders"},
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeCapture struct {
	rec      *recorder
	startErr error
}

func (c *fakeCapture) Start(context.Context) error { c.rec.record("capture.start"); return c.startErr }
func (c *fakeCapture) Stop()                       { c.rec.record("capture.stop") }

type fakeTransfer struct {
	rec    *recorder
	result transfer.Result
	panics bool
}

func (t *fakeTransfer) PerformTransfer(context.Context) transfer.Result {
	t.rec.record("transfer.perform")
	return t.result
}

func (t *fakeTransfer) Stop() {
	t.rec.record("transfer.stop")
	if t.panics {
		panic("transfer stop failed")
	}
}

type fakeCloner struct{ rec *recorder }

func (c *fakeCloner) CloneIndexes(context.Context) { c.rec.record("index.clone") }
func (c *fakeCloner) Stop()                        { c.rec.record("index.stop") }

type fakeReplay struct {
	rec      *recorder
	startErr error
}

func (r *fakeReplay) Start(context.Context) error { r.rec.record("replay.start"); return r.startErr }
func (r *fakeReplay) Pause()                      { r.rec.record("replay.pause") }
func (r *fakeReplay) Resume()                     { r.rec.record("replay.resume") }
func (r *fakeReplay) Stop()                       { r.rec.record("replay.stop") }

type recordingNotifier struct {
	mu     sync.Mutex
	events []state.EventType
}

func (n *recordingNotifier) Notify(event state.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event.Type)
}

func (n *recordingNotifier) types() []state.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]state.EventType(nil), n.events...)
}

type stages struct {
	capture  *fakeCapture
	transfer *fakeTransfer
	cloner   *fakeCloner
	replay   *fakeReplay
}

func newTestPerformer(rec *recorder, notifier state.Notifier, mutate func(*stages)) *Performer {
	s := &stages{
		capture:  &fakeCapture{rec: rec},
		transfer: &fakeTransfer{rec: rec, result: transfer.Success{}},
		cloner:   &fakeCloner{rec: rec},
		replay:   &fakeReplay{rec: rec},
	}
	if mutate != nil {
		mutate(s)
	}
	return New(Options{
		Mapping:  testMapping,
		Capture:  s.capture,
		Transfer: s.transfer,
		Cloner:   s.cloner,
		Replay:   s.replay,
		Notifier: notifier,
	})
}

func TestPerformRunsStagesInOrder(t *testing.T) {
	rec := &recorder{}
	p := newTestPerformer(rec, &recordingNotifier{}, nil)

	result := p.Perform(context.Background())

	assert.True(t, result.IsSuccessful())
	assert.Equal(t, []string{"capture.start", "transfer.perform", "index.clone", "replay.start"}, rec.snapshot())
}

func TestPerformResult(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*stages)
	}{
		{name: "capture_failed", mutate: func(s *stages) { s.capture.startErr = errors.New("watch failed") }},
		{name: "transfer_failed", mutate: func(s *stages) { s.transfer.result = transfer.Failure{Cause: errors.New("exit 1")} }},
		{name: "replay_failed", mutate: func(s *stages) { s.replay.startErr = errors.New("already started") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			p := newTestPerformer(rec, &recordingNotifier{}, tt.mutate)

			result := p.Perform(context.Background())

			assert.False(t, result.IsSuccessful())
			assert.Len(t, rec.snapshot(), 4, "every stage is started even after a failure")
		})
	}
}

func TestPauseAndResumeOnlyTouchReplay(t *testing.T) {
	rec := &recorder{}
	p := newTestPerformer(rec, &recordingNotifier{}, nil)

	p.Pause()
	p.Resume()

	assert.Equal(t, []string{"replay.pause", "replay.resume"}, rec.snapshot())
}

func TestStopContinuesPastFailures(t *testing.T) {
	rec := &recorder{}
	notifier := &recordingNotifier{}
	p := newTestPerformer(rec, notifier, func(s *stages) { s.transfer.panics = true })

	assert.NotPanics(t, p.Stop)
	assert.Equal(t, []string{"transfer.stop", "index.stop", "capture.stop", "replay.stop"}, rec.snapshot())
	assert.Equal(t, []state.EventType{state.EventStop}, notifier.types())
}

func TestNewFillsMissingStages(t *testing.T) {
	p := New(Options{Mapping: testMapping, Notifier: &recordingNotifier{}})
	assert.IsType(t, streams.NoOpSynchronizer{}, p.opts.Capture)
	assert.IsType(t, transfer.NoOpTransfer{}, p.opts.Transfer)
	assert.IsType(t, index.NoOpCloner{}, p.opts.Cloner)
	assert.IsType(t, estuary.NoOpResumableSynchronizer{}, p.opts.Replay)
	assert.True(t, p.Perform(context.Background()).IsSuccessful())
}

type countingTrigger struct{ calls atomic.Int32 }

func (c *countingTrigger) TryToStartDetecting() { c.calls.Add(1) }

func TestControllerStartsAndStopsPerformers(t *testing.T) {
	rec := &recorder{}
	notifier := &recordingNotifier{}
	trigger := &countingTrigger{}
	performers := []*Performer{
		newTestPerformer(rec, notifier, nil),
		newTestPerformer(rec, notifier, func(s *stages) { s.transfer.result = transfer.Failure{} }),
	}
	controller := NewController(performers, trigger, nil)

	controller.StartPerformers(context.Background())
	assert.Eventually(t, func() bool { return trigger.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	results := controller.Results()
	require.Len(t, results, 1, "both performers share one mapping key")

	controller.PausePerformers()
	controller.ResumePerformers()
	controller.StopPerformers()

	calls := rec.snapshot()
	assert.Contains(t, calls, "replay.pause")
	assert.Contains(t, calls, "replay.resume")
	assert.Equal(t, []state.EventType{state.EventStop, state.EventStop}, notifier.types())
}

func TestCreatePerformers(t *testing.T) {
	client, err := mongo.Connect(options.Client().ApplyURI("mongodb://localhost:27017"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	q := queue.NewMemoryQueue()
	tests := []struct {
		name     string
		perform  config.PerformConfig
		capture  any
		transfer any
		cloner   any
		replay   any
	}{
		{
			name:     "everything",
			perform:  config.PerformConfig{Transfer: true, Synchronization: true},
			capture:  &streams.MongoDBStream{},
			transfer: &transfer.MongoToolsTransfer{},
			cloner:   &index.MongoCloner{},
			replay:   &estuary.LocalToDestinationSynchronizer{},
		},
		{
			name:     "synchronization_only",
			perform:  config.PerformConfig{Synchronization: true},
			capture:  &streams.MongoDBStream{},
			transfer: transfer.NoOpTransfer{},
			cloner:   index.NoOpCloner{},
			replay:   &estuary.LocalToDestinationSynchronizer{},
		},
		{
			name:     "transfer_only",
			perform:  config.PerformConfig{Transfer: true},
			capture:  streams.NoOpSynchronizer{},
			transfer: &transfer.MongoToolsTransfer{},
			cloner:   &index.MongoCloner{},
			replay:   estuary.NoOpResumableSynchronizer{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Performer.RootPath = t.TempDir()
			cfg.Perform = tt.perform

			performers, err := CreatePerformers(FactoryOptions{
				Config:        cfg,
				Mappings:      []models.SourceToDestination{testMapping},
				SourceDB:      client.Database("shop"),
				DestinationDB: client.Database("shop_v2"),
				Queues:        map[models.SourceToDestination]queue.EventQueue{testMapping: q},
				Notifier:      &recordingNotifier{},
			})
			require.NoError(t, err)
			require.Len(t, performers, 1)

			opts := performers[0].opts
			assert.IsType(t, tt.capture, opts.Capture)
			assert.IsType(t, tt.transfer, opts.Transfer)
			assert.IsType(t, tt.cloner, opts.Cloner)
			assert.IsType(t, tt.replay, opts.Replay)
		})
	}

	_, err = CreatePerformers(FactoryOptions{
		Config:   config.DefaultConfig(),
		Mappings: []models.SourceToDestination{testMapping},
	})
	assert.Error(t, err)
}
