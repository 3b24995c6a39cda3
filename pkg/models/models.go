package models

import (
	"fmt"
	"strings"
)

// DbCollection identifies a collection inside a database
type DbCollection struct {
	DBName         string `json:"db_name" bson:"dbName"`
	CollectionName string `json:"collection_name" bson:"collectionName"`
}

// NewDbCollection builds a DbCollection from a "db.collection" namespace.
// Collection names may contain dots, only the first one separates the database.
func NewDbCollection(namespace string) (DbCollection, error) {
	parts := strings.SplitN(namespace, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return DbCollection{}, fmt.Errorf("invalid namespace %q, expected <db>.<collection>", namespace)
	}
	return DbCollection{DBName: parts[0], CollectionName: parts[1]}, nil
}

// Namespace returns the "db.collection" form
func (c DbCollection) Namespace() string {
	return c.DBName + "." + c.CollectionName
}

func (c DbCollection) String() string {
	return c.Namespace()
}

// SourceToDestination is the identity of one migration unit: a source
// collection and the destination collection it is copied into. It is
// comparable and used as a map key for queues, state and detectors.
type SourceToDestination struct {
	Source      DbCollection `json:"source"`
	Destination DbCollection `json:"destination"`
}

func (m SourceToDestination) String() string {
	return fmt.Sprintf("source: %s, destination: %s", m.Source.Namespace(), m.Destination.Namespace())
}

// ShardingInfo maps destination collections to their shard key field
type ShardingInfo map[DbCollection]string

// ShardKey returns the shard key of a destination collection, or "" when
// the collection is not sharded
func (s ShardingInfo) ShardKey(collection DbCollection) string {
	if s == nil {
		return ""
	}
	return s[collection]
}
