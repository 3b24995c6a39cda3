// Package sharding discovers the shard keys of destination collections so
// replayed upserts can target a single shard.
package sharding

import (
	"context"
	"fmt"
	"regexp"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/cohenjo/migration-stream/pkg/models"
)

// collectionEntry is one document of config.collections
type collectionEntry struct {
	ID      string `bson:"_id"`
	Key     bson.D `bson:"key"`
	Dropped bool   `bson:"dropped"`
}

// Loader reads shard metadata from the destination cluster
type Loader struct {
	client *mongo.Client
	logger *logrus.Logger
}

// NewLoader creates a Loader for the destination client
func NewLoader(client *mongo.Client, logger *logrus.Logger) *Loader {
	if logger == nil {
		logger = logrus.New()
	}
	return &Loader{client: client, logger: logger}
}

// Load returns the shard key of every sharded collection of the destination
// databases. A destination that is not a sharded cluster has no
// config.collections and yields empty information.
func (l *Loader) Load(ctx context.Context, databases ...string) (models.ShardingInfo, error) {
	filter := bson.D{}
	if len(databases) > 0 {
		patterns := make(bson.A, 0, len(databases))
		for _, db := range databases {
			patterns = append(patterns, bson.Regex{Pattern: "^" + regexp.QuoteMeta(db) + `\.`})
		}
		filter = bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: patterns}}}}
	}

	cursor, err := l.client.Database("config").Collection("collections").Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to read config.collections: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []collectionEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode config.collections: %w", err)
	}

	info := fromEntries(entries, l.logger)
	l.logger.WithField("sharded_collections", len(info)).Info("Loaded destination sharding information")
	return info, nil
}

// fromEntries maps config.collections entries to shard keys. The shard key
// is the first field of the key document; dropped and malformed entries are skipped.
func fromEntries(entries []collectionEntry, logger *logrus.Logger) models.ShardingInfo {
	info := make(models.ShardingInfo, len(entries))
	for _, entry := range entries {
		if entry.Dropped || len(entry.Key) == 0 {
			continue
		}
		collection, err := models.NewDbCollection(entry.ID)
		if err != nil {
			logger.WithError(err).WithField("id", entry.ID).Warn("Skipping unparsable sharded namespace")
			continue
		}
		info[collection] = entry.Key[0].Key
	}
	return info
}

// FromRaw decodes raw config.collections documents
func FromRaw(docs []bson.Raw, logger *logrus.Logger) (models.ShardingInfo, error) {
	if logger == nil {
		logger = logrus.New()
	}
	entries := make([]collectionEntry, 0, len(docs))
	for _, doc := range docs {
		var entry collectionEntry
		if err := bson.Unmarshal(doc, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode config.collections entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return fromEntries(entries, logger), nil
}
