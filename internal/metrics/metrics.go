package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

var (
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "orders_created_total",
		Help:      "Gateway orders created and persisted as pending records.",
	}, []string{"item_type"})

	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "order_rejections_total",
		Help:      "Create-order requests rejected before any gateway call.",
	}, []string{"reason"})

	Completions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "completions_total",
		Help:      "Completion attempts by outcome.",
	}, []string{"outcome"})

	FulfillmentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fulfillment",
		Name:      "failures_total",
		Help:      "Handler failures after a verified payment.",
	}, []string{"item_type"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "sent_total",
		Help:      "Notifications delivered per channel.",
	}, []string{"channel"})

	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "failures_total",
		Help:      "Notifications dropped after retries per channel.",
	}, []string{"channel"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "request_duration_ms",
		Help:      "Payment gateway call latency in milliseconds.",
		Buckets:   []float64{25, 50, 100, 200, 400, 800, 1600, 3200, 6400},
	}, []string{"provider", "operation"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_ms",
		Help:      "Duration of HTTP requests in ms.",
		Buckets:   []float64{5, 10, 25, 50, 100, 200, 400, 800, 1600},
	}, []string{"method", "route"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
