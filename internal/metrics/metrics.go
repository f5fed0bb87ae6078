package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/FranksOps/seedling/internal/audit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seedling_provider_calls_total",
			Help: "Total number of provider call attempts, including cache hits",
		},
		[]string{"provider", "outcome", "cache_hit"},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seedling_provider_call_duration_seconds",
			Help:    "Duration of provider call attempts in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	ProviderQuotaTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seedling_provider_quota_consumed_total",
			Help: "Quota units consumed per provider",
		},
		[]string{"provider"},
	)

	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seedling_provider_retries_total",
			Help: "Attempts beyond the first for each provider",
		},
		[]string{"provider"},
	)

	RateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seedling_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a rate limit token",
			Buckets: []float64{0, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"provider"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seedling_stage_duration_seconds",
			Help:    "Wall time of each pipeline stage",
			Buckets: []float64{0.01, 0.1, 1, 10, 60, 300},
		},
		[]string{"stage", "status"},
	)

	DegradedKeywordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seedling_degraded_keywords_total",
			Help: "Keywords marked degraded, by stage",
		},
		[]string{"stage"},
	)
)

// RecordCall updates the provider metrics from an audit record.
func RecordCall(rec *audit.Record) {
	if rec == nil {
		return
	}

	outcome := "success"
	if !rec.Success {
		outcome = rec.ErrorKind
		if outcome == "" {
			outcome = "error"
		}
	}

	ProviderCallsTotal.WithLabelValues(rec.Provider, outcome, strconv.FormatBool(rec.CacheHit)).Inc()
	if rec.CacheHit {
		return
	}
	ProviderCallDuration.WithLabelValues(rec.Provider).Observe(rec.Duration.Seconds())
	ProviderQuotaTotal.WithLabelValues(rec.Provider).Add(float64(rec.QuotaConsumed))
	if rec.Attempt > 1 {
		RetryAttemptsTotal.WithLabelValues(rec.Provider).Inc()
	}
}

// RecordWait observes a rate limiter wait for provider.
func RecordWait(provider string, d time.Duration) {
	RateLimitWait.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordStage observes a finished stage and the keywords it degraded.
func RecordStage(stage, status string, d time.Duration, degraded int) {
	StageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
	if degraded > 0 {
		DegradedKeywordsTotal.WithLabelValues(stage).Add(float64(degraded))
	}
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "port", port, "err", err)
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
