package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "log_exporter"

var (
	InvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Total invocations by log group and outcome.",
		},
		[]string{"log_group", "outcome"},
	)
	ExportWindowSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_window_seconds",
			Help:      "Length of exported windows in seconds.",
			Buckets:   prometheus.ExponentialBuckets(60, 4, 8),
		},
		[]string{"log_group"},
	)
	WatermarkTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_timestamp_ms",
			Help:      "Last recorded watermark (ms) per log group.",
		},
		[]string{"log_group"},
	)
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors by stage.",
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(
		InvocationsTotal,
		ExportWindowSeconds,
		WatermarkTimestamp,
		ErrorsTotal,
	)
}
