package findings

import "github.com/prometheus/client_golang/prometheus"

var (
	totalIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compliance",
		Name:      "findings_ingested_total",
		Help:      "Total number of ingested findings by outcome",
	}, []string{"action", "source"})

	totalResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compliance",
		Name:      "findings_resolved_total",
		Help:      "Total number of resolution requests by outcome",
	}, []string{"status"})
)

const (
	metricsLabelActionFailed  = "failed"
	metricsLabelActionInvalid = "invalid"
	metricsLabelSourceUnknown = "unknown"
)

const (
	metricsLabelStatusChanged  = "changed"
	metricsLabelStatusNoop     = "noop"
	metricsLabelStatusNotFound = "not_found"
)

//nolint:gochecknoinits
func init() {
	prometheus.MustRegister(totalIngested, totalResolved)
}
