package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffle_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "raffle_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ticketsSold = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "rounds",
			Name:      "tickets_sold_total",
			Help:      "Total number of tickets sold, bonus included.",
		},
	)

	purchases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "rounds",
			Name:      "purchases_total",
			Help:      "Total number of ticket purchases.",
		},
		[]string{"status"},
	)

	draws = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "draws",
			Name:      "completed_total",
			Help:      "Total number of winner selections.",
		},
		[]string{"status"},
	)

	claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "claims",
			Name:      "settlements_total",
			Help:      "Total number of prize claim attempts.",
		},
		[]string{"status"},
	)

	prizesPaid = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "claims",
			Name:      "prizes_paid_total",
			Help:      "Total prize amount paid out, in smallest units.",
		},
	)

	randomnessRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "randomness",
			Name:      "requests_total",
			Help:      "Total number of randomness requests.",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ticketsSold,
		purchases,
		draws,
		claims,
		prizesPaid,
		randomnessRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordPurchase records the outcome of a ticket purchase.
func RecordPurchase(status string, tickets uint32) {
	purchases.WithLabelValues(status).Inc()
	if tickets > 0 {
		ticketsSold.Add(float64(tickets))
	}
}

// RecordDraw records the outcome of a winner selection.
func RecordDraw(status string) {
	draws.WithLabelValues(status).Inc()
}

// RecordClaim records the outcome of a prize claim.
func RecordClaim(status string, amount uint64) {
	claims.WithLabelValues(status).Inc()
	if amount > 0 {
		prizesPaid.Add(float64(amount))
	}
}

// RecordRandomnessRequest records a randomness request or delivery outcome.
func RecordRandomnessRequest(status string) {
	randomnessRequests.WithLabelValues(status).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack forwards to the underlying writer so hijacking handlers (e.g.
// websocket upgrades) keep working behind the instrumentation wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "rounds" && parts[0] != "randomness" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/" + parts[0]
	}
	if parts[0] == "randomness" {
		return "/randomness/:token"
	}
	if parts[1] == "current" || parts[1] == "count" {
		return "/rounds/" + parts[1]
	}
	if len(parts) == 2 {
		return "/rounds/:id"
	}
	return "/rounds/:id/" + parts[2]
}
