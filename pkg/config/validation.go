package config

import (
	"fmt"

	"go.uber.org/multierr"
)

// validateCustomRules performs validation beyond struct tags. Every broken
// rule is reported.
func validateCustomRules(cfg *Config) error {
	var err error

	if _, mappingErr := cfg.CollectionsProperties(); mappingErr != nil {
		err = multierr.Append(err, fmt.Errorf("collections: %w", mappingErr))
	}

	err = multierr.Append(err, validateEndpoint("source", &cfg.Source))
	err = multierr.Append(err, validateEndpoint("destination", &cfg.Destination))
	err = multierr.Append(err, validateRetry(&cfg.Performer.Retry))

	if cfg.Performer.IdleBackoff < 0 {
		err = multierr.Append(err, fmt.Errorf("performer idle backoff cannot be negative"))
	}

	if cfg.Detection.Period <= 0 {
		err = multierr.Append(err, fmt.Errorf("detection period must be positive"))
	}
	if cfg.Detection.InitialDelay < 0 {
		err = multierr.Append(err, fmt.Errorf("detection initial delay cannot be negative"))
	}

	if cfg.Server.Enabled && cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Server.Port {
		err = multierr.Append(err, fmt.Errorf("metrics port %d is already used by the server, use 0 to serve metrics on the server", cfg.Metrics.Port))
	}

	if cfg.Logging.Output == "file" && cfg.Performer.RootPath == "" && cfg.Logging.File == "" {
		err = multierr.Append(err, fmt.Errorf("logging to file requires a file or a root path"))
	}

	return err
}

func validateEndpoint(name string, endpoint *EndpointConfig) error {
	var err error
	auth := endpoint.Authentication
	if auth.Method == AuthMethodPassword {
		if auth.Username == "" {
			err = multierr.Append(err, fmt.Errorf("%s username is required for password authentication", name))
		}
		if auth.Password == "" {
			err = multierr.Append(err, fmt.Errorf("%s password is required for password authentication", name))
		}
	}
	if endpoint.ConnectTimeout < 0 || endpoint.ReadTimeout < 0 || endpoint.ServerSelectionTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("%s timeouts cannot be negative", name))
	}
	return err
}

func validateRetry(retry *RetryConfig) error {
	var err error
	if retry.InitialInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("retry initial interval must be positive"))
	}
	if retry.MaxInterval < retry.InitialInterval {
		err = multierr.Append(err, fmt.Errorf("retry max interval %s is lower than the initial interval %s",
			retry.MaxInterval, retry.InitialInterval))
	}
	if retry.AttemptTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("retry attempt timeout must be positive"))
	}
	if retry.MaxElapsedTime < 0 {
		err = multierr.Append(err, fmt.Errorf("retry max elapsed time cannot be negative"))
	}
	return err
}
