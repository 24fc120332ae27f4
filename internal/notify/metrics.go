package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// deliveriesTotal counts emergency emails by kind and outcome.
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proteeti_sos_deliveries_total",
			Help: "Emergency notification attempts by kind and status",
		},
		[]string{"kind", "status"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proteeti_sos_delivery_duration_seconds",
			Help:    "Time spent sending one emergency notification",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proteeti_sos_queue_depth",
			Help: "Emergency notifications waiting for a worker",
		},
	)

	pushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proteeti_push_notifications_total",
			Help: "Web Push sends by outcome",
		},
		[]string{"status"},
	)
)
