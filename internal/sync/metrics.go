package sync

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeSuccess  = "success"
	outcomePartial  = "partial"
	outcomeFailed   = "failed"
	outcomeRejected = "rejected"
)

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitlog_sync",
		Subsystem: "engine",
		Name:      "runs_total",
		Help:      "Sync runs by outcome (success, partial, failed, rejected).",
	}, []string{"outcome"})

	recordsSynced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitlog_sync",
		Subsystem: "engine",
		Name:      "records_synced_total",
		Help:      "Records confirmed on the remote store, labeled by kind.",
	}, []string{"kind"})

	recordErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitlog_sync",
		Subsystem: "engine",
		Name:      "record_errors_total",
		Help:      "Records left pending after exhausting retries, labeled by kind.",
	}, []string{"kind"})

	conflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitlog_sync",
		Subsystem: "engine",
		Name:      "conflicts_total",
		Help:      "Automatically resolved conflicts, labeled by kind and winning replica.",
	}, []string{"kind", "winner"})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fitlog_sync",
		Subsystem: "engine",
		Name:      "run_duration_seconds",
		Help:      "Wall time of sync runs that passed the connectivity check.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(runsTotal, recordsSynced, recordErrors, conflictsTotal, runDuration)
}

func observeRun(res Result) {
	switch {
	case res.Fatal != nil:
		runsTotal.WithLabelValues(outcomeFailed).Inc()
		return
	case res.Success:
		runsTotal.WithLabelValues(outcomeSuccess).Inc()
	default:
		runsTotal.WithLabelValues(outcomePartial).Inc()
	}
	runDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
}
