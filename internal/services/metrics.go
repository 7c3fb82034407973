package services

import "github.com/prometheus/client_golang/prometheus"

// Domain metrics. Label values are fixed small sets to keep cardinality bounded.
var (
	// cacheLookups counts membership lookups by outcome:
	// hit (fresh cache), miss (refreshed from the CRM), stale_fallback
	// (CRM failed, stale entry served) and error.
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_membership_cache_lookups_total",
			Help: "Membership cache lookups by result.",
		},
		[]string{"result"},
	)

	// bulkItems counts bulk refresh items by outcome ("ok" or an error type).
	bulkItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_bulk_refresh_items_total",
			Help: "Customers processed by the bulk refresh engine, by outcome.",
		},
		[]string{"outcome"},
	)

	// queueSync counts offline queue sync attempts by outcome:
	// synced, retry (left pending) and exhausted (moved to failed).
	queueSync = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_queue_sync_total",
			Help: "Offline check-in queue sync attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// queueDepth gauges queue rows per status, refreshed on every stats read
	// and after every sync pass.
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "checkin_queue_records",
			Help: "Offline check-in queue rows by status.",
		},
		[]string{"status"},
	)

	// refreshGauge mirrors the process-wide full-roster refresh progress.
	refreshGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "checkin_membership_refresh_progress",
			Help: "Full-roster refresh progress (in_progress, total, processed, errors).",
		},
		[]string{"field"},
	)

	// verifications counts check-in verifications by verdict.
	verifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_verifications_total",
			Help: "Check-in order verifications by verdict.",
		},
		[]string{"valid"},
	)
)

func init() {
	prometheus.MustRegister(cacheLookups, bulkItems, queueSync, queueDepth, refreshGauge, verifications)
}
