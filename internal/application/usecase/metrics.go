package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
)

const prometheusMetricNamespace = "billing_datasource"

var (
	unitPrometheusMetricLabels = []string{"provider", "datatype"}

	pagesFetchedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: prometheusMetricNamespace,
			Name:      "pages_fetched_total",
			Help:      "Upstream pages retrieved successfully.",
		},
		unitPrometheusMetricLabels,
	)

	requestRetriesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: prometheusMetricNamespace,
			Name:      "upstream_retries_total",
			Help:      "Upstream requests attempted again after a transient failure.",
		},
		unitPrometheusMetricLabels,
	)

	unitsFailedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: prometheusMetricNamespace,
			Name:      "units_failed_total",
			Help:      "Fetch units aborted with a terminal error.",
		},
		unitPrometheusMetricLabels,
	)

	entitiesEmittedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: prometheusMetricNamespace,
			Name:      "entities_emitted_total",
			Help:      "Canonical entities released to the output stream.",
		},
		unitPrometheusMetricLabels,
	)

	unitDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: prometheusMetricNamespace,
			Name:      "unit_duration_seconds",
			Help:      "Duration to fetch and normalize one fetch unit.",
			Buckets:   []float64{0.5, 1.0, 5.0, 15.0, 60.0, 300.0},
		},
		unitPrometheusMetricLabels,
	)
)

func init() {
	prometheus.MustRegister(pagesFetchedCounter)
	prometheus.MustRegister(requestRetriesCounter)
	prometheus.MustRegister(unitsFailedCounter)
	prometheus.MustRegister(entitiesEmittedCounter)
	prometheus.MustRegister(unitDurationHistogram)
}
