package verify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "absensi_scans_accepted_total",
		Help: "Scans that committed an attendance record.",
	})
	scansRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "absensi_scans_rejected_total",
		Help: "Scans rejected by the verification gates, by reason.",
	}, []string{"reason"})
)
