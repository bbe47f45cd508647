package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type ObservabilityConfig struct {
	ServiceName   string
	MetricsPrefix string
	LogRequests   bool
}

// Observability records per-route request metrics and traces.
type Observability struct {
	cfg       ObservabilityConfig
	logger    *slog.Logger
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// NewObservability registers the HTTP collectors on reg. A nil registerer
// uses the process default.
func NewObservability(cfg ObservabilityConfig, reg prometheus.Registerer, logger *slog.Logger) (*Observability, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "bondd"
	}
	if cfg.MetricsPrefix == "" {
		cfg.MetricsPrefix = "bondledger"
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.MetricsPrefix,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed by the ledger API.",
	}, []string{"route", "method", "status"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.MetricsPrefix,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
	for _, c := range []prometheus.Collector{requests, durations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return &Observability{
		cfg:       cfg,
		logger:    logger,
		requests:  requests,
		durations: durations,
	}, nil
}

// Middleware instruments a route group. Spans are produced by otelhttp.
func (o *Observability) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		measured := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			duration := time.Since(start)
			o.requests.WithLabelValues(route, r.Method, strconv.Itoa(recorder.status)).Inc()
			o.durations.WithLabelValues(route, r.Method).Observe(duration.Seconds())
			if o.cfg.LogRequests {
				o.logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"route", route,
					"status", recorder.status,
					"duration_ms", float64(duration.Microseconds())/1000,
					"request_id", RequestIDFrom(r.Context()))
			}
		})
		return otelhttp.NewHandler(measured, route)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
