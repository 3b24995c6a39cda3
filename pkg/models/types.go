package models

import (
	"errors"
	"fmt"
	"strings"
)

// Common error definitions
var (
	ErrMigrationAlreadyStarted = errors.New("migration already started")
	ErrInvalidConfiguration    = errors.New("invalid configuration")
)

// InvalidCollectionMappingError is returned when the configured source and
// destination collection lists cannot be paired
type InvalidCollectionMappingError struct {
	SourceCount      int
	DestinationCount int
}

func (e *InvalidCollectionMappingError) Error() string {
	if e.SourceCount == 0 || e.DestinationCount == 0 {
		return "source and destination collection lists must not be empty"
	}
	return fmt.Sprintf("source collections (%d) and destination collections (%d) must have the same length",
		e.SourceCount, e.DestinationCount)
}

// CollectionsProperties pairs source collections with destination
// collections by position
type CollectionsProperties struct {
	SourceCollections      []string
	DestinationCollections []string
}

// NewCollectionsProperties validates both lists before building the properties
func NewCollectionsProperties(source, destination []string) (CollectionsProperties, error) {
	if len(source) == 0 || len(destination) == 0 || len(source) != len(destination) {
		return CollectionsProperties{}, &InvalidCollectionMappingError{
			SourceCount:      len(source),
			DestinationCount: len(destination),
		}
	}
	for i := range source {
		if strings.TrimSpace(source[i]) == "" || strings.TrimSpace(destination[i]) == "" {
			return CollectionsProperties{}, fmt.Errorf("collection name at position %d is empty", i)
		}
	}
	return CollectionsProperties{
		SourceCollections:      append([]string(nil), source...),
		DestinationCollections: append([]string(nil), destination...),
	}, nil
}

// Mappings builds one SourceToDestination per collection pair
func (p CollectionsProperties) Mappings(sourceDB, destinationDB string) []SourceToDestination {
	mappings := make([]SourceToDestination, 0, len(p.SourceCollections))
	for i := range p.SourceCollections {
		mappings = append(mappings, SourceToDestination{
			Source:      DbCollection{DBName: sourceDB, CollectionName: p.SourceCollections[i]},
			Destination: DbCollection{DBName: destinationDB, CollectionName: p.DestinationCollections[i]},
		})
	}
	return mappings
}
