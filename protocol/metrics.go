package protocol

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rfxgate",
			Subsystem: "protocol",
			Name:      "frames_total",
			Help:      "Complete frames extracted from the byte stream.",
		},
	)
	resyncsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rfxgate",
			Subsystem: "protocol",
			Name:      "resyncs_total",
			Help:      "Framer resynchronizations after an invalid length byte.",
		},
	)
	packetsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rfxgate",
			Subsystem: "protocol",
			Name:      "packets_dropped_total",
			Help:      "Framed packets dropped by the dispatcher.",
		},
		[]string{"reason"},
	)
	commandsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rfxgate",
			Subsystem: "protocol",
			Name:      "commands_total",
			Help:      "Commands written to the transport by the transmit queue.",
		},
	)
	acksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rfxgate",
			Subsystem: "protocol",
			Name:      "acks_total",
			Help:      "Acknowledgements matched to an outstanding command.",
		},
	)
	timeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rfxgate",
			Subsystem: "protocol",
			Name:      "timeouts_total",
			Help:      "Queued commands that timed out waiting for an acknowledgement.",
		},
	)
)

func registerMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesTotal, resyncsTotal, packetsDropped,
			commandsTotal, acksTotal, timeoutsTotal,
		)
	})
}
