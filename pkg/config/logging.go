package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ConfigureLogging builds the component logger and aligns the global zerolog
// logger with the same level and output. The returned closer releases the
// log file, if any.
func ConfigureLogging(cfg LoggingConfig, logFile string) (*logrus.Logger, io.Closer, error) {
	writer, closer, err := logOutput(cfg, logFile)
	if err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	logger.SetOutput(writer)
	switch cfg.Format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if err := SetLogLevel(logger, cfg.Level); err != nil {
		closer.Close()
		return nil, nil, err
	}

	if cfg.Format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: writer, NoColor: true}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(writer).With().Timestamp().Logger()
	}

	return logger, closer, nil
}

// SetLogLevel applies level to logger and to the global zerolog level
func SetLogLevel(logger *logrus.Logger, level string) error {
	logrusLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(logrusLevel)

	zerologLevel := zerolog.InfoLevel
	switch level {
	case "debug":
		zerologLevel = zerolog.DebugLevel
	case "warn":
		zerologLevel = zerolog.WarnLevel
	case "error":
		zerologLevel = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(zerologLevel)
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func logOutput(cfg LoggingConfig, logFile string) (io.Writer, io.Closer, error) {
	switch cfg.Output {
	case "", "stdout":
		return os.Stdout, nopCloser{}, nil
	case "stderr":
		return os.Stderr, nopCloser{}, nil
	case "file":
		if logFile == "" {
			return nil, nil, fmt.Errorf("log file path is required for file output")
		}
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		if cfg.Rotation {
			rotating := &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   true,
			}
			return rotating, rotating, nil
		}
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		return file, file, nil
	default:
		return nil, nil, fmt.Errorf("unsupported log output: %s", cfg.Output)
	}
}
