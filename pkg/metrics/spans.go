package metrics

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// logSpanProcessor writes every ended span to the log. Failed spans are
// logged as warnings, the others at debug level.
type logSpanProcessor struct {
	logger zerolog.Logger
}

func newLogSpanProcessor(logger zerolog.Logger) *logSpanProcessor {
	return &logSpanProcessor{logger: logger.With().Str("component", "tracing").Logger()}
}

func (p *logSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logSpanProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	entry := p.logger.Debug()
	if span.Status().Code == codes.Error {
		entry = p.logger.Warn().Str("error", span.Status().Description)
	}
	for _, attr := range span.Attributes() {
		entry = entry.Str(string(attr.Key), attr.Value.Emit())
	}
	entry.
		Str("trace_id", span.SpanContext().TraceID().String()).
		Str("span_id", span.SpanContext().SpanID().String()).
		Dur("duration", span.EndTime().Sub(span.StartTime())).
		Msg(span.Name())
}

func (p *logSpanProcessor) Shutdown(context.Context) error   { return nil }
func (p *logSpanProcessor) ForceFlush(context.Context) error { return nil }

var _ sdktrace.SpanProcessor = (*logSpanProcessor)(nil)
