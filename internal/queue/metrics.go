package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	totalDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compliance",
		Name:      "dispatch_events_total",
		Help:      "Total number of handled dispatch events by outcome",
	}, []string{"status"})
)

const (
	metricsLabelStatusSuccess = "success"
	metricsLabelStatusRetried = "retried"
	metricsLabelStatusFailed  = "failed"
)

//nolint:gochecknoinits
func init() {
	prometheus.MustRegister(totalDispatched)
}
