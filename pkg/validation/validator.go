package validation

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/multierr"
)

// Validator checks one precondition of a migration
type Validator interface {
	Name() string
	Validate(ctx context.Context) error
}

// ValidationError aggregates every failed precondition
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	messages := make([]string, 0)
	for _, err := range multierr.Errors(e.Err) {
		messages = append(messages, err.Error())
	}
	return "validation failed: " + strings.Join(messages, ", ")
}

func (e *ValidationError) Unwrap() []error {
	return multierr.Errors(e.Err)
}

// Failures returns the individual failures
func (e *ValidationError) Failures() []error {
	return multierr.Errors(e.Err)
}

// Run executes every validator and returns a *ValidationError holding all
// failures, or nil
func Run(ctx context.Context, validators []Validator, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.New()
	}
	var errs error
	for _, validator := range validators {
		if err := validator.Validate(ctx); err != nil {
			logger.WithError(err).WithField("validator", validator.Name()).Error("Validation failed")
			errs = multierr.Append(errs, err)
			continue
		}
		logger.WithField("validator", validator.Name()).Debug("Validation passed")
	}
	if errs != nil {
		return &ValidationError{Err: errs}
	}
	return nil
}

// Database is the part of a Mongo database the validators query
type Database interface {
	Name() string
	Ping(ctx context.Context) error
	CollectionNames(ctx context.Context) ([]string, error)
}

// MongoDatabase adapts a *mongo.Database to Database
type MongoDatabase struct {
	db *mongo.Database
}

// NewMongoDatabase wraps db
func NewMongoDatabase(db *mongo.Database) *MongoDatabase {
	return &MongoDatabase{db: db}
}

func (d *MongoDatabase) Name() string { return d.db.Name() }

func (d *MongoDatabase) Ping(ctx context.Context) error {
	return d.db.RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
}

func (d *MongoDatabase) CollectionNames(ctx context.Context) ([]string, error) {
	return d.db.ListCollectionNames(ctx, bson.D{})
}

// DbAvailabilityValidator pings a database
type DbAvailabilityValidator struct {
	DB Database
}

func (v DbAvailabilityValidator) Name() string { return "DbAvailability(" + v.DB.Name() + ")" }

func (v DbAvailabilityValidator) Validate(ctx context.Context) error {
	if err := v.DB.Ping(ctx); err != nil {
		return fmt.Errorf("database %s is not available: %w", v.DB.Name(), err)
	}
	return nil
}

// SourceCollectionAvailableValidator requires every source collection to exist
type SourceCollectionAvailableValidator struct {
	DB          Database
	Collections []string
}

func (v SourceCollectionAvailableValidator) Name() string { return "SourceCollectionAvailable" }

func (v SourceCollectionAvailableValidator) Validate(ctx context.Context) error {
	existing, err := collectionSet(ctx, v.DB)
	if err != nil {
		return fmt.Errorf("cannot perform validation of source collections availability: %w", err)
	}
	var missing []string
	for _, name := range v.Collections {
		if !existing[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("non-existing collections: [%s]", strings.Join(missing, ", "))
	}
	return nil
}

// DestinationCollectionMissingValidator requires no destination collection to exist yet
type DestinationCollectionMissingValidator struct {
	DB          Database
	Collections []string
}

func (v DestinationCollectionMissingValidator) Name() string { return "DestinationCollectionMissing" }

func (v DestinationCollectionMissingValidator) Validate(ctx context.Context) error {
	existing, err := collectionSet(ctx, v.DB)
	if err != nil {
		return fmt.Errorf("cannot perform validation of destination collection missing: %w", err)
	}
	var present []string
	for _, name := range v.Collections {
		if existing[name] {
			present = append(present, name)
		}
	}
	if len(present) > 0 {
		return fmt.Errorf("destination db has collections which should be missing: [%s]", strings.Join(present, ", "))
	}
	return nil
}

func collectionSet(ctx context.Context, db Database) (map[string]bool, error) {
	names, err := db.CollectionNames(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set, nil
}

// MongoToolsAvailableValidator requires executable mongodump and mongorestore.
// An empty ToolsPath searches PATH.
type MongoToolsAvailableValidator struct {
	ToolsPath string
	Logger    *logrus.Logger
}

func (v MongoToolsAvailableValidator) Name() string { return "MongoToolsAvailable" }

func (v MongoToolsAvailableValidator) Validate(context.Context) error {
	var missing []string
	for _, binary := range []string{"mongodump", "mongorestore"} {
		path, err := v.resolve(binary)
		if err != nil {
			missing = append(missing, binary)
			if v.Logger != nil {
				v.Logger.WithError(err).WithField("binary", binary).Error("Binary doesn't exist or isn't executable")
			}
			continue
		}
		if v.Logger != nil {
			v.Logger.WithFields(logrus.Fields{"binary": binary, "path": path}).Info("Binary exists and is executable")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("mongodb tools installation isn't working or doesn't exist: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (v MongoToolsAvailableValidator) resolve(binary string) (string, error) {
	if v.ToolsPath == "" {
		return exec.LookPath(binary)
	}
	path := filepath.Join(v.ToolsPath, binary)
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("%s is not executable", path)
	}
	return path, nil
}
