package metrics

import (
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RatingRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "listing_f1s",
		Name:      "rating_requests_total",
		Help:      "Ratings API responses by HTTP status.",
	}, []string{"status"})
	RatingRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "listing_f1s",
		Name:      "rating_retries_total",
		Help:      "Ratings API calls retried after a 429.",
	})
	TokenRefreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "listing_f1s",
		Name:      "token_refreshes_total",
		Help:      "Bearer tokens requested from the token endpoint.",
	})
	RowsRetained = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "listing_f1s",
		Name:      "rows_retained_total",
		Help:      "Listing rows retained in the enriched workbook.",
	})
	StageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "listing_f1s",
		Name:      "stage_failures_total",
		Help:      "Sheets or stages that failed and were skipped.",
	}, []string{"stage"})
	TasksCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "listing_f1s",
		Name:      "tasks_created_total",
		Help:      "Summary tasks created in the task tracker.",
	})
)

// Init registers collectors; call once from main.
func Init() {
	prometheus.MustRegister(RatingRequests, RatingRetries, TokenRefreshes, RowsRetained, StageFailures, TasksCreated)
}

// Serve starts a /metrics server on addr. Blocks; run it in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}

// AddrFromEnv returns METRICS_ADDR, or "" when metrics are not served.
func AddrFromEnv() string {
	return os.Getenv("METRICS_ADDR")
}
