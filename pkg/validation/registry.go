package validation

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/cohenjo/migration-stream/pkg/config"
)

// Dependencies are what validators are built from
type Dependencies struct {
	Config        *config.Config
	SourceDB      Database
	DestinationDB Database
	Logger        *logrus.Logger
}

// Constructor builds the validators registered under one tag
type Constructor func(deps Dependencies) []Validator

// Registry maps configuration tags to validator constructors
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry creates a registry holding the built-in validators
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register(config.ValidatorDbAvailability, func(deps Dependencies) []Validator {
		return []Validator{
			DbAvailabilityValidator{DB: deps.SourceDB},
			DbAvailabilityValidator{DB: deps.DestinationDB},
		}
	})
	r.Register(config.ValidatorSourceCollectionAvailable, func(deps Dependencies) []Validator {
		return []Validator{SourceCollectionAvailableValidator{DB: deps.SourceDB, Collections: deps.Config.Collections.Source}}
	})
	r.Register(config.ValidatorDestinationCollectionMissing, func(deps Dependencies) []Validator {
		return []Validator{DestinationCollectionMissingValidator{DB: deps.DestinationDB, Collections: deps.Config.Collections.Destination}}
	})
	r.Register(config.ValidatorMongoToolsAvailable, func(deps Dependencies) []Validator {
		return []Validator{MongoToolsAvailableValidator{ToolsPath: deps.Config.Performer.MongoToolsPath, Logger: deps.Logger}}
	})
	return r
}

// Register adds or replaces the constructor for tag
func (r *Registry) Register(tag string, constructor Constructor) {
	r.constructors[tag] = constructor
}

// Tags lists the registered tags
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.constructors))
	for tag := range r.constructors {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Build creates the validators for tags in order
func (r *Registry) Build(tags []string, deps Dependencies) ([]Validator, error) {
	var validators []Validator
	for _, tag := range tags {
		constructor, ok := r.constructors[tag]
		if !ok {
			return nil, fmt.Errorf("unknown validator %q", tag)
		}
		validators = append(validators, constructor(deps)...)
	}
	return validators, nil
}
