package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cohenjo/migration-stream/pkg/models"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "MIGRATION_STREAM_"

// Loader handles configuration loading and validation
type Loader struct {
	validator *validator.Validate
}

// LoaderOptions represents options for the configuration loader
type LoaderOptions struct {
	// Environment variables prefix (e.g., "MIGRATION_STREAM_")
	EnvPrefix string
	// Files overlaid in order on top of the defaults
	Paths []string
	// Default configuration file paths to search when Paths is empty
	DefaultPaths []string
	// Whether to require configuration file to exist
	RequireFile bool
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(),
	}
}

// LoadFromFile loads configuration from a specific file on top of the defaults
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	return l.LoadFiles(filename)
}

// LoadFiles overlays every file in order on top of the defaults. Later files
// override the keys they set and leave the others untouched.
func (l *Loader) LoadFiles(filenames ...string) (*Config, error) {
	config := DefaultConfig()
	for _, filename := range filenames {
		if err := l.overlayFile(config, filename); err != nil {
			return nil, err
		}
	}
	return config, nil
}

func (l *Loader) overlayFile(config *Config, filename string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", filename, err)
	}
	defer file.Close()

	if err := l.loadFromReader(config, file, filepath.Ext(filename)); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", filename, err)
	}
	return nil
}

// loadFromReader decodes configuration data into config
func (l *Loader) loadFromReader(config *Config, reader io.Reader, fileExt string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read config data: %w", err)
	}

	switch strings.ToLower(fileExt) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", fileExt)
	}

	return nil
}

// Load loads configuration using the specified options
func (l *Loader) Load(opts LoaderOptions) (*Config, error) {
	paths := opts.Paths
	if len(paths) == 0 {
		if fromEnv := os.Getenv(opts.EnvPrefix + "CONFIG_FILE"); fromEnv != "" {
			paths = SplitPaths(fromEnv)
		}
	}

	if len(paths) == 0 {
		for _, path := range opts.DefaultPaths {
			if _, err := os.Stat(path); err == nil {
				paths = []string{path}
				break
			}
		}
		if len(paths) == 0 && opts.RequireFile {
			return nil, fmt.Errorf("no configuration file found in paths: %v", opts.DefaultPaths)
		}
	}

	config, err := l.LoadFiles(paths...)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if err := l.loadFromEnvironment(config, opts.EnvPrefix); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := l.Validate(config); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidConfiguration, err)
	}

	return config, nil
}

// LoadDefault loads configuration from the given files, the
// MIGRATION_STREAM_CONFIG_FILE variable or the default search paths
func (l *Loader) LoadDefault(paths ...string) (*Config, error) {
	return l.Load(LoaderOptions{
		EnvPrefix: EnvPrefix,
		Paths:     paths,
		DefaultPaths: []string{
			"./config.yaml",
			"./config.yml",
			"./config.json",
			"./conf/config.yaml",
			"./conf/config.yml",
			"/etc/migration-stream/config.yaml",
		},
		RequireFile: true,
	})
}

// SplitPaths splits a comma separated list of files
func SplitPaths(value string) []string {
	var paths []string
	for _, path := range strings.Split(value, ",") {
		if path = strings.TrimSpace(path); path != "" {
			paths = append(paths, path)
		}
	}
	return paths
}

// Validate validates the configuration using struct tags and custom rules
func (l *Loader) Validate(config *Config) error {
	if err := l.validator.Struct(config); err != nil {
		return l.formatValidationErrors(err)
	}
	return validateCustomRules(config)
}

// loadFromEnvironment loads configuration values from environment variables
func (l *Loader) loadFromEnvironment(config *Config, prefix string) error {
	// Server configuration
	if port := os.Getenv(prefix + "SERVER_PORT"); port != "" {
		portInt, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid %sSERVER_PORT: %w", prefix, err)
		}
		config.Server.Port = portInt
	}
	if host := os.Getenv(prefix + "SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if logLevel := os.Getenv(prefix + "LOG_LEVEL"); logLevel != "" {
		config.Logging.Level = logLevel
	}

	if port := os.Getenv(prefix + "METRICS_PORT"); port != "" {
		portInt, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid %sMETRICS_PORT: %w", prefix, err)
		}
		config.Metrics.Port = portInt
	}

	if rootPath := os.Getenv(prefix + "ROOT_PATH"); rootPath != "" {
		config.Performer.RootPath = rootPath
	}
	if batchSize := os.Getenv(prefix + "BATCH_SIZE"); batchSize != "" {
		size, err := strconv.Atoi(batchSize)
		if err != nil {
			return fmt.Errorf("invalid %sBATCH_SIZE: %w", prefix, err)
		}
		config.Performer.BatchSize = size
	}

	loadEndpointEnvironment(&config.Source, prefix+"SOURCE_")
	loadEndpointEnvironment(&config.Destination, prefix+"DESTINATION_")

	return nil
}

// loadEndpointEnvironment applies connection overrides of one endpoint
func loadEndpointEnvironment(endpoint *EndpointConfig, prefix string) {
	if uri := os.Getenv(prefix + "URI"); uri != "" {
		endpoint.URI = uri
	}
	if username := os.Getenv(prefix + "USERNAME"); username != "" {
		endpoint.Authentication.Username = username
	}
	if password := os.Getenv(prefix + "PASSWORD"); password != "" {
		endpoint.Authentication.Password = password
	}
	if tenantID := os.Getenv(prefix + "AZURE_TENANT_ID"); tenantID != "" {
		endpoint.Authentication.TenantID = tenantID
	}
	if clientID := os.Getenv(prefix + "AZURE_CLIENT_ID"); clientID != "" {
		endpoint.Authentication.ClientID = clientID
	}
}

// formatValidationErrors formats validator errors into a readable format
func (l *Loader) formatValidationErrors(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var messages []string
		for _, validationError := range validationErrors {
			messages = append(messages, fmt.Sprintf(
				"field '%s' failed validation: %s",
				validationError.Namespace(),
				validationError.Tag(),
			))
		}
		return fmt.Errorf("validation errors: %s", strings.Join(messages, "; "))
	}
	return err
}
