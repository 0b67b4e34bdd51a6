package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mandate_vault"

var (
	InboundEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound webhook events by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	InboundProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inbound_processing_duration_seconds",
			Help:      "Time to process one inbound event",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	EventCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_cache_lookups_total",
			Help:      "Verdict cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Outbound delivery attempts by event type and result (success, retry, exhausted, postponed)",
		},
		[]string{"event_type", "result"},
	)

	DeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Outbound HTTP delivery latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	DeliveryCircuitTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_circuit_transitions_total",
			Help:      "Per-subscription circuit breaker transitions by target state",
		},
		[]string{"state"},
	)

	DeliveriesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deliveries_in_flight",
			Help:      "Deliveries currently executing in the worker pool",
		},
	)

	DeliveriesClaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_claimed_total",
			Help:      "Attempts claimed by the worker pool",
		},
	)

	DeliveriesReleasedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_released_total",
			Help:      "Stuck DELIVERING attempts returned to PENDING",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		InboundEventsTotal,
		InboundProcessingDuration,
		EventCacheLookupsTotal,
		DeliveryAttemptsTotal,
		DeliveryDuration,
		DeliveryCircuitTransitionsTotal,
		DeliveriesInFlight,
		DeliveriesClaimedTotal,
		DeliveriesReleasedTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}
