package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waterbilling_requests_total",
			Help: "Total number of API requests per resource",
		},
		[]string{"resource"},
	)

	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waterbilling_request_duration_seconds",
			Help:    "Request duration in seconds per resource and path",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource", "path"},
	)

	RequestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waterbilling_request_errors_total",
			Help: "Total number of error responses per resource, path and code",
		},
		[]string{"resource", "path", "code"},
	)

	BillsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waterbilling_bills_created_total",
			Help: "Total number of bills encoded",
		},
	)

	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waterbilling_settlements_total",
			Help: "Total number of payment settlements per outcome",
		},
		[]string{"outcome"},
	)

	SettledAmountTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waterbilling_settled_amount_total",
			Help: "Sum of payment amounts recorded through settlement",
		},
	)

	OverdueNoticesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waterbilling_overdue_notices_total",
			Help: "Total number of overdue notices sent",
		},
	)
)

var (
	ScheduledJobLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "waterbilling_job_last_run_timestamp",
			Help: "Unix timestamp of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobLastDurationSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "waterbilling_job_last_duration_seconds",
			Help: "Duration of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waterbilling_job_failures_total",
			Help: "Total number of failed executions per job",
		},
		[]string{"job"},
	)
)

func UpdateJobMetrics(job string, startedAt time.Time, err error) {
	dur := time.Since(startedAt).Seconds()
	ScheduledJobLastDurationSeconds.WithLabelValues(job).Set(dur)
	ScheduledJobLastRun.WithLabelValues(job).Set(float64(time.Now().Unix()))
	if err != nil {
		ScheduledJobFailuresTotal.WithLabelValues(job).Inc()
	}
}
