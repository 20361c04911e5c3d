package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

var (
	RidesBooked = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rides_booked_total", Help: "Rides created by the dispatch engine"},
		[]string{"policy", "ride_type"},
	)
	BookingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "booking_failures_total", Help: "Rejected booking requests by error kind"},
		[]string{"kind"},
	)
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "match_latency_seconds", Help: "Booking latency from intake to offers sent"})

	OffersSent = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "offers_sent_total", Help: "Ride offers pushed to candidate drivers"},
		[]string{"delivered"},
	)
	AcceptOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "accept_outcomes_total", Help: "Driver accept attempts by outcome"},
		[]string{"outcome"},
	)
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Successful ride status transitions"},
		[]string{"to"},
	)
	InvalidActions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "invalid_actions_total", Help: "Rejected lifecycle actions"},
		[]string{"code"},
	)

	PresenceConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "presence_connected", Help: "Participants with a live connection"},
		[]string{"namespace"},
	)
	GatewayEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "gateway_events_total", Help: "Inbound realtime events"},
		[]string{"event"},
	)
	GatewayDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "gateway_dropped_total", Help: "Outbound messages dropped on full send buffers"})
	RelayMessages  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "relay_messages_total", Help: "Cross-instance notification relay traffic"},
		[]string{"direction"},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "auth_failures_total", Help: "Refused identity tokens"},
		[]string{"transport"},
	)
	PanicsRecovered = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "http_panics_recovered_total", Help: "Handler panics turned into 500 responses"})

	CarpoolActions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "carpool_actions_total", Help: "Carpool room actions by outcome"},
		[]string{"action", "outcome"},
	)

	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Active drivers known to the roster"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
