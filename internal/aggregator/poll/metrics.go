package poll

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pullsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetmon",
		Subsystem: "collector",
		Name:      "pulls_total",
		Help:      "Snapshot pulls by server and result.",
	}, []string{"server", "result"})

	pullDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fleetmon",
		Subsystem: "collector",
		Name:      "pull_duration_seconds",
		Help:      "Wall time of one snapshot pull including retries.",
		Buckets:   prometheus.DefBuckets,
	})

	serversOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetmon",
		Subsystem: "collector",
		Name:      "servers_online",
		Help:      "Servers that answered their most recent pull.",
	})
)
