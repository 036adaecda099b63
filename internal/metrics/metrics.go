package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlcopy",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	jobsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlcopy",
			Name:      "jobs_created_total",
			Help:      "Replication jobs created, by kind.",
		},
		[]string{"kind"},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlcopy",
			Name:      "jobs_finished_total",
			Help:      "Replication jobs finished, by kind and aggregate status.",
		},
		[]string{"kind", "status"},
	)

	targetsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlcopy",
			Name:      "targets_processed_total",
			Help:      "Destination targets settled, by outcome status.",
		},
		[]string{"status"},
	)

	outboundRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlcopy",
			Name:      "outbound_retries_total",
			Help:      "Retries against the marketplace API, by reason.",
		},
		[]string{"reason"},
	)

	ledgerWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mlcopy",
			Name:      "ledger_write_failures_total",
			Help:      "Ledger writes that failed after a remote mutation succeeded.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			jobsCreated,
			jobsFinished,
			targetsProcessed,
			outboundRetries,
			ledgerWriteFailures,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncJobsCreated counts a newly accepted job.
func IncJobsCreated(kind string) {
	jobsCreated.WithLabelValues(kind).Inc()
}

// IncJobsFinished counts a job reaching its aggregate status.
func IncJobsFinished(kind, status string) {
	jobsFinished.WithLabelValues(kind, status).Inc()
}

// IncTargetsProcessed counts a settled or paused target.
func IncTargetsProcessed(status string) {
	targetsProcessed.WithLabelValues(status).Inc()
}

// IncOutboundRetry counts one retry against the remote API.
func IncOutboundRetry(reason string) {
	outboundRetries.WithLabelValues(reason).Inc()
}

// IncLedgerWriteFailures counts a ledger consistency incident.
func IncLedgerWriteFailures() {
	ledgerWriteFailures.Inc()
}
