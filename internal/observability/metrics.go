package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	OpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_ops_total",
			Help: "Registry operations by outcome",
		},
		[]string{"op", "result"},
	)

	SaleVolume = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_sale_volume_units_total",
			Help: "Cumulative sale price of settled purchases",
		},
	)

	EventPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_event_publish_retries_total",
			Help: "Total event publish retries",
		},
	)

	MirrorLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_mirror_lag_seconds",
			Help: "Age of the newest event applied to the mirror",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_http_rate_limit_exceeded_total",
			Help: "Total HTTP rate limit rejections",
		},
	)
)
