package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the Prometheus collectors for the preview pipeline.
type Metrics struct {
	PreviewRequests *prometheus.CounterVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	BlockedRequests prometheus.Counter
	RenderDuration  prometheus.Histogram
	RenderFailures  *prometheus.CounterVec
}

// InitMetrics creates and registers the collectors. Double
// registration is tolerated so tests can call this repeatedly.
func InitMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		PreviewRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "previewd_requests_total",
			Help: "Preview requests by terminal state.",
		}, []string{"outcome"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "previewd_cache_hits_total",
			Help: "Cache index hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "previewd_cache_misses_total",
			Help: "Cache index misses, including lazy expiries.",
		}),
		BlockedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "previewd_blocked_total",
			Help: "Requests rejected by the security validator.",
		}),
		RenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "previewd_render_duration_seconds",
			Help:    "Wall time of thumbnail/preview rendering.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		RenderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "previewd_render_failures_total",
			Help: "Render failures by reason code.",
		}, []string{"reason"}),
	}

	collectors := []prometheus.Collector{
		m.PreviewRequests, m.CacheHits, m.CacheMisses,
		m.BlockedRequests, m.RenderDuration, m.RenderFailures,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}

	return m, nil
}

// StartMetricsServer starts an HTTP server for /metrics and /health.
func StartMetricsServer(addr string, logger *zap.Logger) {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		logger.Info("starting metrics server", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}
