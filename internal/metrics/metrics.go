// Package metrics provides Prometheus instrumentation for the settlement
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parlaypool/settlement-engine/internal/model"
)

var (
	// TicketsTotal counts tickets purchased, partitioned by payout mode.
	TicketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parlay_tickets_total",
		Help: "Total number of tickets purchased",
	}, []string{"payout_mode"})

	// TicketsSettled counts settlement outcomes by final status.
	TicketsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parlay_tickets_settled_total",
		Help: "Total tickets settled, by final status",
	}, []string{"status"})

	// PayoutsTotal accumulates currency paid to ticket holders, in
	// micro-units, by payout kind.
	PayoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parlay_payouts_micro_total",
		Help: "Cumulative currency paid to ticket holders in micro-units",
	}, []string{"kind"})

	// FeesRouted accumulates purchase fees taken, in micro-units.
	FeesRouted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parlay_fees_micro_total",
		Help: "Cumulative purchase fees in micro-units",
	})

	// VaultReserved tracks currency reserved against open tickets.
	VaultReserved = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parlay_vault_reserved_micro",
		Help: "Currency reserved against open tickets in micro-units",
	})

	// VaultTotalAssets tracks total vault assets (local plus deployed).
	VaultTotalAssets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parlay_vault_assets_micro",
		Help: "Total vault assets in micro-units",
	})

	// LockedWeightedShares tracks the reward ledger's weighted share total.
	LockedWeightedShares = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parlay_locked_weighted_shares",
		Help: "Weighted vault shares locked in the reward ledger",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parlay_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parlay_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Sink adapts the ledger event journal into metric updates, so the
// instrumentation rides the same fan-out as the store and WebSocket hub.
func Sink() model.EventSink {
	return model.SinkFunc(func(ev model.Event) {
		switch ev.Type {
		case model.EventTicketPurchased:
			TicketsTotal.WithLabelValues(ev.Detail["payout_mode"]).Inc()
		case model.EventTicketSettled:
			TicketsSettled.WithLabelValues(ev.Detail["status"]).Inc()
		case model.EventFeeRouted:
			FeesRouted.Add(float64(ev.Amount))
		case model.EventClaim:
			PayoutsTotal.WithLabelValues("claim").Add(float64(ev.Amount))
		case model.EventProgressiveClaim:
			PayoutsTotal.WithLabelValues("progressive").Add(float64(ev.Amount))
		case model.EventEarlyCashout:
			PayoutsTotal.WithLabelValues("cashout").Add(float64(ev.Amount))
		}
	})
}
