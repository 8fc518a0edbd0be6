package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nestlog",
		Subsystem: "consumer",
		Name:      "messages_processed_total",
		Help:      "Number of Kafka messages successfully handled.",
	}, []string{"topic", "event_type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nestlog",
		Subsystem: "consumer",
		Name:      "handler_errors_total",
		Help:      "Number of handler errors grouped by topic and event type.",
	}, []string{"topic", "event_type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nestlog",
		Subsystem: "consumer",
		Name:      "decode_errors_total",
		Help:      "Number of decode failures per topic.",
	}, []string{"topic"})

	skippedZoneCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nestlog",
		Subsystem: "consumer",
		Name:      "skipped_unregistered_zone_total",
		Help:      "Number of messages skipped because their zone is not registered locally.",
	}, []string{"topic"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nestlog",
		Subsystem: "consumer",
		Name:      "last_message_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed message per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(processedCounter, handlerErrorCounter, decodeErrorCounter, skippedZoneCounter, lastMessageGauge)
}

func recordProcessed(event Message) {
	processedCounter.WithLabelValues(event.Topic, event.EventType).Inc()
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	lastMessageGauge.WithLabelValues(event.Topic).Set(float64(ts.Unix()))
}

func recordHandlerError(event Message) {
	handlerErrorCounter.WithLabelValues(event.Topic, event.EventType).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}

func recordSkippedZone(topic string) {
	skippedZoneCounter.WithLabelValues(topic).Inc()
}
