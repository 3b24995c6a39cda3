package config

import (
	"path/filepath"
	"time"

	"github.com/cohenjo/migration-stream/pkg/models"
)

// Queue factory tags
const (
	QueueFactoryInMemory = "InMemory"
	QueueFactoryDisk     = "Disk"
)

// Detector tags
const (
	DetectorDbHash          = "DbHash"
	DetectorCollectionCount = "CollectionCount"
	DetectorQueueSize       = "QueueSize"
)

// Detection handler tags
const (
	HandlerLogging = "LoggingSynchronizationHandler"
	HandlerMetrics = "MetricsSynchronizationHandler"
)

// Validator tags
const (
	ValidatorDbAvailability               = "DbAvailability"
	ValidatorSourceCollectionAvailable    = "SourceCollectionAvailable"
	ValidatorDestinationCollectionMissing = "DestinationCollectionMissing"
	ValidatorMongoToolsAvailable          = "MongoToolsAvailable"
)

// Authentication methods of a Mongo endpoint
const (
	AuthMethodNone     = ""
	AuthMethodPassword = "password"
	AuthMethodEntra    = "entra"
)

// Config represents the main application configuration
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Telemetry   TelemetryConfig   `json:"telemetry" yaml:"telemetry"`
	Perform     PerformConfig     `json:"perform" yaml:"perform"`
	Source      EndpointConfig    `json:"source" yaml:"source"`
	Destination EndpointConfig    `json:"destination" yaml:"destination"`
	Collections CollectionsConfig `json:"collections" yaml:"collections"`
	Performer   PerformerConfig   `json:"performer" yaml:"performer"`
	Detection   DetectionConfig   `json:"detection" yaml:"detection"`
	Validators  []string          `json:"validators" yaml:"validators" validate:"dive,oneof=DbAvailability SourceCollectionAvailable DestinationCollectionMissing MongoToolsAvailable"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Port      int    `json:"port" yaml:"port" validate:"min=0,max=65535"`
	Path      string `json:"path" yaml:"path"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level    string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format   string `json:"format" yaml:"format" validate:"oneof=json text"`
	Output   string `json:"output" yaml:"output" validate:"oneof=stdout stderr file"`
	File     string `json:"file,omitempty" yaml:"file,omitempty"`
	Rotation bool   `json:"rotation" yaml:"rotation"`
	// MaxSizeMB, MaxBackups and MaxAgeDays apply to rotated files
	MaxSizeMB  int `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays int `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
}

// TelemetryConfig represents telemetry configuration
type TelemetryConfig struct {
	ServiceName    string `json:"service_name" yaml:"service_name"`
	ServiceVersion string `json:"service_version" yaml:"service_version"`
	Environment    string `json:"environment" yaml:"environment"`
	TracingEnabled bool   `json:"tracing_enabled" yaml:"tracing_enabled"`
}

// PerformConfig toggles the migration stages
type PerformConfig struct {
	Transfer        bool `json:"transfer" yaml:"transfer"`
	Synchronization bool `json:"synchronization" yaml:"synchronization"`
}

// EndpointConfig describes one Mongo cluster and the database being migrated
type EndpointConfig struct {
	URI                    string               `json:"uri" yaml:"uri" validate:"required"`
	Database               string               `json:"database" yaml:"database" validate:"required"`
	Authentication         AuthenticationConfig `json:"authentication" yaml:"authentication"`
	ConnectTimeout         time.Duration        `json:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout            time.Duration        `json:"read_timeout" yaml:"read_timeout"`
	ServerSelectionTimeout time.Duration        `json:"server_selection_timeout" yaml:"server_selection_timeout"`
}

// AuthenticationConfig represents Mongo authentication configuration
type AuthenticationConfig struct {
	Method       string   `json:"method" yaml:"method" validate:"omitempty,oneof=password entra"`
	Username     string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password     string   `json:"password,omitempty" yaml:"password,omitempty"`
	AuthDatabase string   `json:"auth_database,omitempty" yaml:"auth_database,omitempty"`
	TenantID     string   `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	ClientID     string   `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// HasCredentials reports whether username and password are set
func (a AuthenticationConfig) HasCredentials() bool {
	return a.Method == AuthMethodPassword && a.Username != "" && a.Password != ""
}

// CollectionsConfig lists the collections to migrate, paired by position
type CollectionsConfig struct {
	Source      []string `json:"source" yaml:"source"`
	Destination []string `json:"destination" yaml:"destination"`
}

// PerformerConfig represents the per-collection pipeline configuration
type PerformerConfig struct {
	RootPath                      string        `json:"root_path" yaml:"root_path" validate:"required"`
	MongoToolsPath                string        `json:"mongo_tools_path,omitempty" yaml:"mongo_tools_path,omitempty"`
	QueueFactory                  string        `json:"queue_factory" yaml:"queue_factory" validate:"oneof=InMemory Disk"`
	QueueSyncEveryWrite           bool          `json:"queue_sync_every_write" yaml:"queue_sync_every_write"`
	DumpReadPreference            string        `json:"dump_read_preference" yaml:"dump_read_preference" validate:"oneof=primary primaryPreferred secondary secondaryPreferred nearest"`
	Gzip                          bool          `json:"gzip" yaml:"gzip"`
	InsertionWorkersPerCollection int           `json:"insertion_workers_per_collection" yaml:"insertion_workers_per_collection" validate:"min=1,max=10"`
	BatchSize                     int           `json:"batch_size" yaml:"batch_size" validate:"min=1"`
	IdleBackoff                   time.Duration `json:"idle_backoff" yaml:"idle_backoff"`
	Retry                         RetryConfig   `json:"retry" yaml:"retry"`
}

// RetryConfig configures the replay retry policy. MaxTries 0 means unlimited.
type RetryConfig struct {
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval"`
	Multiplier      float64       `json:"multiplier" yaml:"multiplier" validate:"gte=1"`
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval"`
	MaxElapsedTime  time.Duration `json:"max_elapsed_time" yaml:"max_elapsed_time"`
	MaxTries        uint          `json:"max_tries" yaml:"max_tries"`
	AttemptTimeout  time.Duration `json:"attempt_timeout" yaml:"attempt_timeout"`
}

// DetectionConfig selects the synchronization detectors and their handlers
type DetectionConfig struct {
	Detectors    []string      `json:"detectors" yaml:"detectors" validate:"dive,oneof=DbHash CollectionCount QueueSize"`
	Handlers     []string      `json:"handlers" yaml:"handlers" validate:"dive,oneof=LoggingSynchronizationHandler MetricsSynchronizationHandler"`
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	Period       time.Duration `json:"period" yaml:"period"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "migration_stream",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "migration-stream",
			ServiceVersion: "1.0.0",
			Environment:    "development",
		},
		Perform: PerformConfig{
			Transfer:        true,
			Synchronization: true,
		},
		Source:      defaultEndpoint(),
		Destination: defaultEndpoint(),
		Performer: PerformerConfig{
			RootPath:                      "/tmp/migration-stream",
			QueueFactory:                  QueueFactoryInMemory,
			DumpReadPreference:            "primary",
			InsertionWorkersPerCollection: 1,
			BatchSize:                     1000,
			Retry: RetryConfig{
				InitialInterval: time.Minute,
				Multiplier:      2,
				MaxInterval:     256 * time.Minute,
				MaxElapsedTime:  256 * time.Minute,
				AttemptTimeout:  10 * time.Second,
			},
		},
		Detection: DetectionConfig{
			Detectors:    []string{DetectorDbHash},
			Handlers:     []string{HandlerLogging},
			InitialDelay: 0,
			Period:       10 * time.Second,
		},
		Validators: []string{
			ValidatorDbAvailability,
			ValidatorSourceCollectionAvailable,
			ValidatorDestinationCollectionMissing,
			ValidatorMongoToolsAvailable,
		},
	}
}

func defaultEndpoint() EndpointConfig {
	return EndpointConfig{
		ConnectTimeout:         30 * time.Second,
		ReadTimeout:            30 * time.Second,
		ServerSelectionTimeout: 30 * time.Second,
	}
}

// CollectionsProperties pairs the configured collection lists
func (c *Config) CollectionsProperties() (models.CollectionsProperties, error) {
	return models.NewCollectionsProperties(c.Collections.Source, c.Collections.Destination)
}

// Mappings returns every source to destination collection pair
func (c *Config) Mappings() ([]models.SourceToDestination, error) {
	props, err := c.CollectionsProperties()
	if err != nil {
		return nil, err
	}
	return props.Mappings(c.Source.Database, c.Destination.Database), nil
}

// LogFile returns the log file path, defaulting under the root path
func (c *Config) LogFile() string {
	if c.Logging.File != "" {
		return c.Logging.File
	}
	return filepath.Join(c.Performer.RootPath, "logs", "migration-stream.log")
}

// MongoTool returns the path of a Mongo tools binary
func (c *Config) MongoTool(name string) string {
	if c.Performer.MongoToolsPath == "" {
		return name
	}
	return filepath.Join(c.Performer.MongoToolsPath, name)
}
