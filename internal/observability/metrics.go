package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sharesAcceptedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nestlog",
		Subsystem: "shares",
		Name:      "accepted_total",
		Help:      "Number of share invitations accepted and registered.",
	})
	sharesFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nestlog",
		Subsystem: "shares",
		Name:      "failed_total",
		Help:      "Number of share invitations that failed validation or registration.",
	})
	activeZonesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nestlog",
		Subsystem: "shares",
		Name:      "active_zones",
		Help:      "Number of shared zones currently registered and syncing.",
	})
	recordSyncedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nestlog",
		Subsystem: "sync",
		Name:      "last_remote_change_applied_timestamp_seconds",
		Help:      "Unix timestamp of the most recent remote record change applied locally.",
	})
)

func init() {
	prometheus.MustRegister(sharesAcceptedCounter, sharesFailedCounter, activeZonesGauge, recordSyncedGauge)
}

// RecordShareAccepted increments the accepted-share counter.
func RecordShareAccepted() {
	sharesAcceptedCounter.Inc()
}

// RecordShareFailed increments the failed-share counter.
func RecordShareFailed() {
	sharesFailedCounter.Inc()
}

// SetActiveZoneCount updates the active-zone gauge.
func SetActiveZoneCount(n int) {
	activeZonesGauge.Set(float64(n))
}

// RecordRemoteChangeApplied updates the sync watermark gauge.
func RecordRemoteChangeApplied(ts time.Time) {
	if ts.IsZero() {
		return
	}
	recordSyncedGauge.Set(float64(ts.Unix()))
}
