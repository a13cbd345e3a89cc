// Package observability provides Prometheus metrics for the watcher.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds the watcher's Prometheus instruments.
type Metrics struct {
	CyclesTotal    *prometheus.CounterVec
	FetchRetries   prometheus.Counter
	AlertsTotal    *prometheus.CounterVec
	TrackedBonds   prometheus.Gauge
	CycleDuration  prometheus.Histogram
	LastCycleEpoch prometheus.Gauge
}

// NewMetrics registers every instrument on reg (or the default registerer
// when reg is nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bondwatcher",
			Name:      "cycles_total",
			Help:      "Completed poll cycles by outcome",
		}, []string{"outcome"}),
		FetchRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bondwatcher",
			Name:      "fetch_retries_total",
			Help:      "Transient fetch failures that were retried",
		}),
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bondwatcher",
			Name:      "alerts_total",
			Help:      "Alert deliveries by outcome",
		}, []string{"outcome"}),
		TrackedBonds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bondwatcher",
			Name:      "tracked_instruments",
			Help:      "Instruments currently held in tracked state",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bondwatcher",
			Name:      "cycle_duration_seconds",
			Help:      "Full fetch-detect-notify cycle duration",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
		}),
		LastCycleEpoch: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bondwatcher",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of the last fully committed cycle",
		}),
	}
}

// Serve exposes /metrics on addr until ctx is cancelled. A zero addr
// disables the listener.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics listener failed")
		}
	}()
}
