package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trawl_fetches_total",
			Help: "Total number of fetch attempts executed",
		},
		[]string{"domain", "status"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trawl_fetch_duration_seconds",
			Help:    "Duration of fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	FetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trawl_fetch_bytes_total",
			Help: "Total bytes downloaded across all fetches",
		},
		[]string{"domain"},
	)

	PolicyDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trawl_policy_drops_total",
			Help: "URLs vetoed before fetching, by reason",
		},
		[]string{"reason"},
	)

	DuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trawl_duplicates_dropped_total",
			Help: "Pages discarded as near-duplicates",
		},
	)

	WriteQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trawl_write_queue_depth",
			Help: "Requests waiting in the DB writer queue",
		},
	)

	WriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trawl_write_errors_total",
			Help: "DB writer requests that rolled back, by request kind",
		},
		[]string{"kind"},
	)

	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trawl_submissions_total",
			Help: "Coordinator submissions received, by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordFetch updates the fetch metrics for one attempt chain.
func RecordFetch(domain string, status int, bytes int, duration time.Duration, failed bool) {
	statusStr := strconv.Itoa(status)
	if failed {
		statusStr = "error"
	}
	FetchesTotal.WithLabelValues(domain, statusStr).Inc()
	FetchDuration.WithLabelValues(domain).Observe(duration.Seconds())
	FetchBytesTotal.WithLabelValues(domain).Add(float64(bytes))
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
// The server runs in a background goroutine and must be stopped via Server.Stop()
// to release resources and avoid leaks.
func Start(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		// Suppress the error from intentional shutdown
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server failed: %v\n", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
