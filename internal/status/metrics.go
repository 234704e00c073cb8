package status

import "github.com/prometheus/client_golang/prometheus"

var (
	pendingRecords = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fitlog_sync",
		Subsystem: "tracker",
		Name:      "pending_records",
		Help:      "Records of the current owner waiting to be synced, labeled by kind.",
	}, []string{"kind"})

	onlineGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitlog_sync",
		Subsystem: "tracker",
		Name:      "online",
		Help:      "1 when the last connectivity probe succeeded.",
	})

	triggersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitlog_sync",
		Subsystem: "tracker",
		Name:      "triggers_total",
		Help:      "Sync runs started by the tracker, labeled by trigger.",
	}, []string{"trigger"})
)

func init() {
	prometheus.MustRegister(pendingRecords, onlineGauge, triggersTotal)
}

func setOnline(up bool) {
	if up {
		onlineGauge.Set(1)
		return
	}
	onlineGauge.Set(0)
}
