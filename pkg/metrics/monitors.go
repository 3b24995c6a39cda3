package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.mongodb.org/mongo-driver/v2/event"
)

// MongoMonitors exposes driver command latencies and connection pool events
type MongoMonitors struct {
	commandDuration *prometheus.HistogramVec
	poolEvents      *prometheus.CounterVec
}

// NewMongoMonitors registers the driver metrics on registerer
func NewMongoMonitors(registerer prometheus.Registerer, namespace string) *MongoMonitors {
	factory := promauto.With(registerer)
	return &MongoMonitors{
		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mongo",
			Name:      "command_duration_seconds",
			Help:      "Duration of MongoDB commands",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"cluster", "command", "result"}),
		poolEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mongo",
			Name:      "pool_events_total",
			Help:      "MongoDB connection pool events",
		}, []string{"cluster", "type"}),
	}
}

// CommandMonitor returns a command monitor labelling samples with cluster
func (m *MongoMonitors) CommandMonitor(cluster string) *event.CommandMonitor {
	return &event.CommandMonitor{
		Succeeded: func(_ context.Context, e *event.CommandSucceededEvent) {
			m.commandDuration.WithLabelValues(cluster, e.CommandName, "success").Observe(e.Duration.Seconds())
		},
		Failed: func(_ context.Context, e *event.CommandFailedEvent) {
			m.commandDuration.WithLabelValues(cluster, e.CommandName, "failure").Observe(e.Duration.Seconds())
		},
	}
}

// PoolMonitor returns a pool monitor labelling events with cluster
func (m *MongoMonitors) PoolMonitor(cluster string) *event.PoolMonitor {
	return &event.PoolMonitor{
		Event: func(e *event.PoolEvent) {
			m.poolEvents.WithLabelValues(cluster, e.Type).Inc()
		},
	}
}
