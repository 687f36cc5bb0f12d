// Package metrics holds the node's Prometheus instrumentation: counters
// and gauges shared by the Dispatcher, Hub and Bus consumer, served
// over GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesSent counts messages committed to the Store and fanned out.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_messages_sent_total",
		Help: "Messages committed to the store and fanned out.",
	})

	// BusPublishFailures counts post-commit Bus publishes that failed and
	// were recovered locally (the write stays durable; only the Bus copy
	// of the event is lost).
	BusPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_bus_publish_failures_total",
		Help: "Post-commit bus publishes that failed and were logged.",
	})

	// SessionsActive gauges the live client sessions held by this node.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fanout_sessions_active",
		Help: "Live client sessions currently registered on this node.",
	})

	// ConsumerAcks counts bus deliveries handled and acknowledged.
	ConsumerAcks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_consumer_acks_total",
		Help: "Bus deliveries handled and acknowledged.",
	})

	// ConsumerNacks counts bus deliveries negatively acknowledged, both
	// poison drops and requeued handler errors.
	ConsumerNacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_consumer_nacks_total",
		Help: "Bus deliveries negatively acknowledged.",
	})
)
