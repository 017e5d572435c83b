package alerts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	alertsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sosdispatch",
		Name:      "alerts_created_total",
		Help:      "Total number of alerts created, by emergency type.",
	}, []string{"type"})

	fanoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sosdispatch",
		Name:      "fanout_duration_seconds",
		Help:      "Wall-clock duration of the notification fan-out per alert.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	})

	contactAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sosdispatch",
		Name:      "contact_attempts_total",
		Help:      "Total contact attempt outcomes recorded, by response.",
	}, []string{"outcome"})

	notificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sosdispatch",
		Name:      "notifications_sent_total",
		Help:      "Outbound notification requests, by channel and result.",
	}, []string{"channel", "status"})

	alertsResolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sosdispatch",
		Name:      "alerts_resolved_total",
		Help:      "Total number of alerts resolved.",
	})

	responseTimeMinutes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sosdispatch",
		Name:      "response_time_minutes",
		Help:      "Minutes between alert creation and resolution.",
		Buckets:   []float64{1, 2, 5, 10, 15, 30, 60, 120, 240},
	})
)
