package detector

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cohenjo/migration-stream/pkg/config"
	"github.com/cohenjo/migration-stream/pkg/metrics"
	"github.com/cohenjo/migration-stream/pkg/models"
	"github.com/cohenjo/migration-stream/pkg/queue"
)

// Dependencies are what detectors and handlers are built from
type Dependencies struct {
	Mappings      []models.SourceToDestination
	SourceDB      Database
	DestinationDB Database
	Queues        map[models.SourceToDestination]queue.EventQueue
	Telemetry     *metrics.TelemetryManager
	Logger        *logrus.Logger
}

func (d Dependencies) logger(component string) *logrus.Entry {
	logger := d.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return logger.WithField("component", component)
}

type (
	// DetectorConstructor builds the detector registered under one tag
	DetectorConstructor func(deps Dependencies) Detector
	// HandlerConstructor builds the result handler registered under one tag
	HandlerConstructor func(deps Dependencies) ResultHandler
)

// Registry maps configuration tags to detector and handler constructors
type Registry struct {
	detectors map[string]DetectorConstructor
	handlers  map[string]HandlerConstructor
}

// NewRegistry creates a registry holding the built-in detectors and handlers
func NewRegistry() *Registry {
	r := &Registry{
		detectors: make(map[string]DetectorConstructor),
		handlers:  make(map[string]HandlerConstructor),
	}
	r.RegisterDetector(config.DetectorDbHash, func(deps Dependencies) Detector {
		return &HashDetector{
			Source:      deps.SourceDB,
			Destination: deps.DestinationDB,
			Mappings:    deps.Mappings,
			Logger:      deps.logger("hash_detector"),
		}
	})
	r.RegisterDetector(config.DetectorCollectionCount, func(deps Dependencies) Detector {
		return &CollectionCountDetector{
			Source:      deps.SourceDB,
			Destination: deps.DestinationDB,
			Mappings:    deps.Mappings,
			Telemetry:   deps.Telemetry,
			Logger:      deps.logger("collection_count_detector"),
		}
	})
	r.RegisterDetector(config.DetectorQueueSize, func(deps Dependencies) Detector {
		return &QueueSizeDetector{
			Mappings:  deps.Mappings,
			Queues:    deps.Queues,
			Telemetry: deps.Telemetry,
			Logger:    deps.logger("queue_size_detector"),
		}
	})
	r.RegisterHandler(config.HandlerLogging, func(deps Dependencies) ResultHandler {
		return LoggingHandler{Logger: deps.logger("detection")}
	})
	r.RegisterHandler(config.HandlerMetrics, func(deps Dependencies) ResultHandler {
		return MetricsHandler{Telemetry: deps.Telemetry}
	})
	return r
}

func (r *Registry) RegisterDetector(tag string, constructor DetectorConstructor) {
	r.detectors[tag] = constructor
}

func (r *Registry) RegisterHandler(tag string, constructor HandlerConstructor) {
	r.handlers[tag] = constructor
}

// BuildDetectors creates one detector per distinct tag, in order
func (r *Registry) BuildDetectors(tags []string, deps Dependencies) ([]Detector, error) {
	seen := make(map[string]bool, len(tags))
	var detectors []Detector
	for _, tag := range tags {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		constructor, ok := r.detectors[tag]
		if !ok {
			return nil, fmt.Errorf("unknown synchronization detector %q", tag)
		}
		detectors = append(detectors, constructor(deps))
	}
	return detectors, nil
}

// BuildHandlers creates one handler per distinct tag, in order
func (r *Registry) BuildHandlers(tags []string, deps Dependencies) ([]ResultHandler, error) {
	seen := make(map[string]bool, len(tags))
	var handlers []ResultHandler
	for _, tag := range tags {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		constructor, ok := r.handlers[tag]
		if !ok {
			return nil, fmt.Errorf("unknown synchronization handler %q", tag)
		}
		handlers = append(handlers, constructor(deps))
	}
	return handlers, nil
}

// NewSchedulerFromConfig builds the configured detectors and handlers into a scheduler
func (r *Registry) NewSchedulerFromConfig(cfg config.DetectionConfig, deps Dependencies) (*Scheduler, error) {
	detectors, err := r.BuildDetectors(cfg.Detectors, deps)
	if err != nil {
		return nil, err
	}
	handlers, err := r.BuildHandlers(cfg.Handlers, deps)
	if err != nil {
		return nil, err
	}
	return NewScheduler(SchedulerOptions{
		Mappings:     len(deps.Mappings),
		Detectors:    detectors,
		Handlers:     handlers,
		InitialDelay: cfg.InitialDelay,
		Period:       cfg.Period,
		Logger:       deps.Logger,
	}), nil
}
