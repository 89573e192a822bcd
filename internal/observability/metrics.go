package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsTotal         = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "bookings_total", Help: "Total bookings created"})
	BookingConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "booking_conflicts_total", Help: "Optimistic-concurrency conflicts hit while booking"})
	CancellationsTotal    = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "cancellations_total", Help: "Booking cancellations by actor"},
		[]string{"actor"},
	)
	RefundsAmountTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "refunds_amount_total", Help: "Sum of refund amounts in minor currency units"})
	RidesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "rides_completed_total", Help: "Rides transitioned to completed by the sweeper"})
	AlertsOpen          = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "carpool", Name: "alerts_open", Help: "Open emergency alerts"})
	WSSessions          = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "carpool", Name: "ws_sessions", Help: "Connected websocket sessions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carpool",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
