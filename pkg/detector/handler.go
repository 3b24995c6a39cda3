package detector

import (
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cohenjo/migration-stream/pkg/metrics"
)

// ResultHandler consumes detection results
type ResultHandler interface {
	Handle(result DetectionResult)
}

// ResultHandlerFunc adapts a function to ResultHandler
type ResultHandlerFunc func(result DetectionResult)

func (f ResultHandlerFunc) Handle(result DetectionResult) { f(result) }

// LoggingHandler logs every result
type LoggingHandler struct {
	Logger *logrus.Entry
}

func (h LoggingHandler) Handle(result DetectionResult) {
	h.Logger.WithFields(logrus.Fields{
		"detector":     result.Detector(),
		"synchronized": result.IsSynchronized(),
	}).Info(result.String())
}

// MetricsHandler exports the synchronized gauge, 1 or 0, per mapping and detector
type MetricsHandler struct {
	Telemetry *metrics.TelemetryManager
}

func (h MetricsHandler) Handle(result DetectionResult) {
	value := 0.0
	if result.IsSynchronized() {
		value = 1
	}
	h.Telemetry.SetGauge(metrics.GaugeSynchronized, result.Mapping(), value,
		attribute.String("detector", result.Detector()))
}

var (
	_ ResultHandler = LoggingHandler{}
	_ ResultHandler = MetricsHandler{}
	_ ResultHandler = ResultHandlerFunc(nil)
)
