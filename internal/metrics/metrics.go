package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts processed payload items by lane and outcome.
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "webhook_events_total",
			Help:      "Webhook payload items processed, by lane and outcome",
		},
		[]string{"lane", "outcome"},
	)

	DeliveryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "delivery_total",
			Help:      "Outbound WhatsApp sends, by result",
		},
		[]string{"result"},
	)

	GenerationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "generation_total",
			Help:      "Reply generations, by result",
		},
		[]string{"result"},
	)

	StatusUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "status_updates_total",
			Help:      "Delivery status callbacks, by result",
		},
		[]string{"result"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relay",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route"},
	)
)

// Result labels shared by the counters above.
const (
	ResultOK        = "ok"
	ResultFailed    = "failed"
	ResultFallback  = "fallback"
	ResultUnknown   = "unknown"
	ResultDuplicate = "duplicate"
)
