// Package metrics holds the process-wide sync counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var SyncFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "machinesync",
	Subsystem: "sender",
	Name:      "frames",
}, []string{"form"})

var SyncBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "machinesync",
	Subsystem: "sender",
	Name:      "bytes",
}, []string{"form"})

var SyncSlots = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "machinesync",
	Subsystem: "sender",
	Name:      "slots_per_frame",
	Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 255},
})

// SendFailures counts frames the transport refused; each forces a full resync.
var SendFailures = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "machinesync",
	Subsystem: "sender",
	Name:      "send_failures",
})

var OpenSessions = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "machinesync",
	Subsystem: "sender",
	Name:      "open_sessions",
})

var StaleFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "machinesync",
	Subsystem: "receiver",
	Name:      "stale_frames",
}, []string{"channel"})

var DecodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "machinesync",
	Subsystem: "receiver",
	Name:      "decode_errors",
}, []string{"channel"})

var TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "machinesync",
	Subsystem: "world",
	Name:      "tick_seconds",
	Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
})

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		SyncFrames, SyncBytes, SyncSlots, SendFailures, OpenSessions,
		StaleFrames, DecodeErrors, TickDuration,
	}
}

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
