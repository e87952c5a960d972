package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fulfillment_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_scheduler_job_runs_total",
			Help: "Scheduler job runs by outcome",
		},
		[]string{"job", "outcome"},
	)

	JobRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_scheduler_job_records_total",
			Help: "Records processed by scheduler jobs, by outcome",
		},
		[]string{"job", "outcome"},
	)

	ReservationOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_reservation_ops_total",
			Help: "Reservation engine operations by outcome",
		},
		[]string{"op", "outcome"},
	)
)

func RecordJobRun(job string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	JobRuns.WithLabelValues(job, outcome).Inc()
}

func RecordJobRecord(job string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	JobRecords.WithLabelValues(job, outcome).Inc()
}

func RecordReservationOp(op string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	ReservationOps.WithLabelValues(op, outcome).Inc()
}

// Middleware records request counts and latency per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := strconv.Itoa(ww.Status())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}
