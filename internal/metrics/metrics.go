package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion
	BarsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_bars_ingested_total",
			Help: "Minute bars persisted, by source",
		},
		[]string{"source"},
	)
	GapsDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_gaps_detected_total",
			Help: "Missing minute bars recorded by the gap checker",
		},
	)
	GapsRepaired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_gaps_repaired_total",
			Help: "Missing minute bars repaired from the historical source",
		},
	)
	FeedConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_feed_connections",
			Help: "Open market data feed connections, by feed",
		},
		[]string{"feed"},
	)
	HistoricalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_historical_requests_total",
			Help: "Historical klines requests, by status",
		},
		[]string{"status"},
	)

	// Aggregation
	Aggregations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_aggregations_total",
			Help: "Aggregation attempts, by interval and outcome",
		},
		[]string{"interval", "outcome"},
	)

	// Indicators
	IndicatorCalculations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_indicator_calculations_total",
			Help: "Indicator calculations, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	IndicatorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipeline_indicator_duration_seconds",
			Help: "Time spent computing all instances of one bar-ready event",
		},
		[]string{"timeframe"},
	)

	// Signals and strategies
	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_signals_total",
			Help: "Incoming signals, by outcome",
		},
		[]string{"outcome"},
	)
	StrategyDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_strategy_decisions_total",
			Help: "Strategy task outcomes, by status",
		},
		[]string{"status"},
	)

	// Positions
	PositionsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_positions_opened_total",
			Help: "Positions opened",
		},
	)
	PositionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_positions_closed_total",
			Help: "Positions closed, by close reason",
		},
		[]string{"reason"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_open_positions",
			Help: "Positions held by the follower",
		},
	)
	FollowerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_follower_tick_seconds",
			Help:    "Duration of one follower pass over open positions",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)
	TaskRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_task_restarts_total",
			Help: "Supervised task restarts, by task",
		},
		[]string{"task"},
	)

	// HTTP
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "path"},
	)
)

var initOnce sync.Once

// InitMetrics registers every collector with the default registry. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			BarsIngested, GapsDetected, GapsRepaired, FeedConnections, HistoricalRequests,
			Aggregations,
			IndicatorCalculations, IndicatorDuration,
			Signals, StrategyDecisions,
			PositionsOpened, PositionsClosed, OpenPositions, FollowerTickDuration,
			TaskRestarts,
			HTTPRequestsTotal, HTTPRequestDuration,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency per route template.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					path = tpl
				}
			}

			HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.status)).Inc()
			HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}()

		next.ServeHTTP(ww, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}

	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}

	return w.ResponseWriter.Write(b)
}
