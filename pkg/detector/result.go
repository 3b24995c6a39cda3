package detector

import (
	"fmt"

	"github.com/cohenjo/migration-stream/pkg/config"
	"github.com/cohenjo/migration-stream/pkg/models"
)

// DetectionResult tells whether one mapping looked synchronized to one detector.
// The set of results is closed: HashDetectionResult,
// CollectionCountDetectionResult and QueueSizeDetectionResult.
type DetectionResult interface {
	Mapping() models.SourceToDestination
	IsSynchronized() bool
	// Detector is the configuration tag of the detector that produced the result
	Detector() string
	String() string
	detectionResult()
}

// HashDetectionResult compares the dbHash of the source and destination collections
type HashDetectionResult struct {
	CollectionMapping models.SourceToDestination
	Synchronized      bool
}

func (r HashDetectionResult) Mapping() models.SourceToDestination { return r.CollectionMapping }
func (r HashDetectionResult) IsSynchronized() bool                { return r.Synchronized }
func (HashDetectionResult) Detector() string                      { return config.DetectorDbHash }
func (HashDetectionResult) detectionResult()                      {}

func (r HashDetectionResult) String() string {
	return fmt.Sprintf("Hash synchronization detector - collection: [%s] hashes equality: [%t]",
		r.CollectionMapping, r.Synchronized)
}

// CollectionCountDetectionResult compares estimated document counts
type CollectionCountDetectionResult struct {
	CollectionMapping models.SourceToDestination
	SourceCount       int64
	DestinationCount  int64
}

func (r CollectionCountDetectionResult) Mapping() models.SourceToDestination {
	return r.CollectionMapping
}
func (r CollectionCountDetectionResult) IsSynchronized() bool {
	return r.SourceCount == r.DestinationCount
}
func (CollectionCountDetectionResult) Detector() string { return config.DetectorCollectionCount }
func (CollectionCountDetectionResult) detectionResult() {}

func (r CollectionCountDetectionResult) String() string {
	return fmt.Sprintf("Collection count detector - collection: [%s] source size: [%d], destination size: [%d], diff: [%d]",
		r.CollectionMapping, r.SourceCount, r.DestinationCount, r.SourceCount-r.DestinationCount)
}

// QueueSizeDetectionResult reports how many events wait to be replayed
type QueueSizeDetectionResult struct {
	CollectionMapping models.SourceToDestination
	QueueSize         int
}

func (r QueueSizeDetectionResult) Mapping() models.SourceToDestination { return r.CollectionMapping }
func (r QueueSizeDetectionResult) IsSynchronized() bool                { return r.QueueSize == 0 }
func (QueueSizeDetectionResult) Detector() string                      { return config.DetectorQueueSize }
func (QueueSizeDetectionResult) detectionResult()                      {}

func (r QueueSizeDetectionResult) String() string {
	return fmt.Sprintf("Queue size detector - collection: [%s] queue size: [%d]", r.CollectionMapping, r.QueueSize)
}
