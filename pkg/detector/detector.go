package detector

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/cohenjo/migration-stream/pkg/config"
	"github.com/cohenjo/migration-stream/pkg/metrics"
	"github.com/cohenjo/migration-stream/pkg/models"
	"github.com/cohenjo/migration-stream/pkg/queue"
)

// Detector checks every mapping for synchronization. A detector never fails:
// errors are logged and yield an empty result set.
type Detector interface {
	Name() string
	Detect(ctx context.Context) []DetectionResult
}

// Database is the part of a Mongo database the detectors read
type Database interface {
	// DbHash returns the hash of every collection keyed by collection name
	DbHash(ctx context.Context) (map[string]string, error)
	EstimatedCount(ctx context.Context, collection string) (int64, error)
}

// MongoDatabase adapts a *mongo.Database to Database
type MongoDatabase struct {
	db *mongo.Database
}

// NewMongoDatabase wraps db
func NewMongoDatabase(db *mongo.Database) *MongoDatabase {
	return &MongoDatabase{db: db}
}

func (d *MongoDatabase) DbHash(ctx context.Context) (map[string]string, error) {
	var result struct {
		Collections map[string]string `bson:"collections"`
	}
	if err := d.db.RunCommand(ctx, bson.D{{Key: "dbHash", Value: 1}}).Decode(&result); err != nil {
		return nil, fmt.Errorf("dbHash on %s failed: %w", d.db.Name(), err)
	}
	return result.Collections, nil
}

func (d *MongoDatabase) EstimatedCount(ctx context.Context, collection string) (int64, error) {
	count, err := d.db.Collection(collection).EstimatedDocumentCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s.%s: %w", d.db.Name(), collection, err)
	}
	return count, nil
}

// HashDetector compares dbHash of the source and destination databases
type HashDetector struct {
	Source      Database
	Destination Database
	Mappings    []models.SourceToDestination
	Logger      *logrus.Entry
}

func (d *HashDetector) Name() string { return config.DetectorDbHash }

func (d *HashDetector) Detect(ctx context.Context) []DetectionResult {
	var sourceHashes, destinationHashes map[string]string
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() (err error) {
		sourceHashes, err = d.Source.DbHash(groupCtx)
		return err
	})
	group.Go(func() (err error) {
		destinationHashes, err = d.Destination.DbHash(groupCtx)
		return err
	})
	if err := group.Wait(); err != nil {
		d.Logger.WithError(err).Warn("Unable to perform detection with hash")
		return nil
	}

	results := make([]DetectionResult, 0, len(d.Mappings))
	for _, mapping := range d.Mappings {
		source, sourceOk := sourceHashes[mapping.Source.CollectionName]
		destination, destinationOk := destinationHashes[mapping.Destination.CollectionName]
		results = append(results, HashDetectionResult{
			CollectionMapping: mapping,
			Synchronized:      sourceOk == destinationOk && source == destination,
		})
	}
	return results
}

// CollectionCountDetector compares estimated document counts and exports
// them as the collection size gauges
type CollectionCountDetector struct {
	Source      Database
	Destination Database
	Mappings    []models.SourceToDestination
	Telemetry   *metrics.TelemetryManager
	Logger      *logrus.Entry
}

func (d *CollectionCountDetector) Name() string { return config.DetectorCollectionCount }

func (d *CollectionCountDetector) Detect(ctx context.Context) []DetectionResult {
	results := make([]DetectionResult, len(d.Mappings))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, mapping := range d.Mappings {
		group.Go(func() error {
			result, err := d.count(groupCtx, mapping)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		d.Logger.WithError(err).Warn("Unable to perform detection with collection count")
		return nil
	}
	return results
}

func (d *CollectionCountDetector) count(ctx context.Context, mapping models.SourceToDestination) (DetectionResult, error) {
	var sourceCount, destinationCount int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() (err error) {
		sourceCount, err = d.Source.EstimatedCount(groupCtx, mapping.Source.CollectionName)
		return err
	})
	group.Go(func() (err error) {
		destinationCount, err = d.Destination.EstimatedCount(groupCtx, mapping.Destination.CollectionName)
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	d.Telemetry.SetGauge(metrics.GaugeSourceSize, mapping, float64(sourceCount))
	d.Telemetry.SetGauge(metrics.GaugeDestinationSize, mapping, float64(destinationCount))
	return CollectionCountDetectionResult{
		CollectionMapping: mapping,
		SourceCount:       sourceCount,
		DestinationCount:  destinationCount,
	}, nil
}

// QueueSizeDetector reports the local queue depth of every mapping. An empty
// queue counts as synchronized.
type QueueSizeDetector struct {
	Mappings  []models.SourceToDestination
	Queues    map[models.SourceToDestination]queue.EventQueue
	Telemetry *metrics.TelemetryManager
	Logger    *logrus.Entry
}

func (d *QueueSizeDetector) Name() string { return config.DetectorQueueSize }

func (d *QueueSizeDetector) Detect(ctx context.Context) []DetectionResult {
	results := make([]DetectionResult, len(d.Mappings))
	group, _ := errgroup.WithContext(ctx)
	for i, mapping := range d.Mappings {
		group.Go(func() error {
			q, ok := d.Queues[mapping]
			if !ok {
				return fmt.Errorf("no queue for mapping %s", mapping)
			}
			size := q.Size()
			d.Telemetry.SetGauge(metrics.GaugeQueueSize, mapping, float64(size))
			results[i] = QueueSizeDetectionResult{CollectionMapping: mapping, QueueSize: size}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		d.Logger.WithError(err).Warn("Unable to perform detection with queue size")
		return nil
	}
	return results
}

var (
	_ Detector = (*HashDetector)(nil)
	_ Detector = (*CollectionCountDetector)(nil)
	_ Detector = (*QueueSizeDetector)(nil)
	_ Database = (*MongoDatabase)(nil)
)
