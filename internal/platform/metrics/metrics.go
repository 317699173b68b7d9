package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds process-level Prometheus metrics. Domain packages register
// their own metrics in their local metrics packages; this one covers what
// spans domains.
type Metrics struct {
	AuditEventsRecorded *prometheus.CounterVec
	IncidentsOpen       prometheus.Gauge
	DetectionSweeps     prometheus.Counter
	DetectionSkipped    prometheus.Counter
}

// New creates and registers all process-level Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		AuditEventsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_audit_events_recorded_total",
			Help: "Audit events accepted by the pipeline, by category.",
		}, []string{"category"}),
		IncidentsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "custodia_incidents_open",
			Help: "Incidents not yet resolved or closed.",
		}),
		DetectionSweeps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_detection_sweeps_total",
			Help: "Completed pattern-detection sweeps.",
		}),
		DetectionSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_detection_sweeps_skipped_total",
			Help: "Sweeps skipped because the previous sweep was still running.",
		}),
	}
}
