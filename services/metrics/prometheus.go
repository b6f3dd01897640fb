package metricsvc

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iroils/evalapp/core"
)

const namespace = "evalapp"

// Label values
const (
	resultCreated = "created"
	resultUpdated = "updated"
	resultHit     = "hit"
	resultMiss    = "miss"
)

type Manager struct {
	registry *prometheus.Registry

	evaluationsSaved  *prometheus.CounterVec
	selectionChanges  *prometheus.CounterVec
	entriesSelected   *prometheus.GaugeVec
	cacheRequests     *prometheus.CounterVec
	cacheErrors       *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpRequestLength *prometheus.HistogramVec
}

var _ core.Metrics = (*Manager)(nil)

// NewManager registers the application metrics on registry (a new registry if nil).
func NewManager(registry *prometheus.Registry) *Manager {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	auto := promauto.With(registry)

	return &Manager{
		registry: registry,
		evaluationsSaved: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_saved_total",
			Help:      "Number of evaluations saved, by result (created or updated).",
		}, []string{"result"}),
		selectionChanges: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selection_changes_total",
			Help:      "Number of selection changes, by institution.",
		}, []string{"institution"}),
		entriesSelected: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selection_change_entries",
			Help:      "Number of entries touched by the last selection change, by institution.",
		}, []string{"institution"}),
		cacheRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Number of cache reads, by cache and result (hit or miss).",
		}, []string{"cache", "result"}),
		cacheErrors: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Number of failed cache operations, by cache.",
		}, []string{"cache"}),
		httpRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Number of HTTP requests, by method, route and status code.",
		}, []string{"method", "path", "code"}),
		httpRequestLength: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of the HTTP requests, by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

func (m *Manager) Registry() *prometheus.Registry { return m.registry }

func (m *Manager) EvaluationSaved(created bool) {
	result := resultUpdated
	if created {
		result = resultCreated
	}
	m.evaluationsSaved.WithLabelValues(result).Inc()
}

func (m *Manager) SelectionChanged(institution string, count int) {
	m.selectionChanges.WithLabelValues(institution).Inc()
	m.entriesSelected.WithLabelValues(institution).Set(float64(count))
}

func (m *Manager) CacheRequest(cache string, hit bool) {
	result := resultMiss
	if hit {
		result = resultHit
	}
	m.cacheRequests.WithLabelValues(cache, result).Inc()
}

func (m *Manager) CacheError(cache string) {
	m.cacheErrors.WithLabelValues(cache).Inc()
}

// Handler serves the metrics of the registry.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records the count and duration of the requests, by route.
// Errors are handled here so that the recorded status matches the response.
func (m *Manager) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			if err := next(ctx); err != nil {
				ctx.Error(err)
			}

			path := ctx.Path()
			if path == "" {
				path = "unknown"
			}
			method := ctx.Request().Method
			m.httpRequests.WithLabelValues(method, path, strconv.Itoa(ctx.Response().Status)).Inc()
			m.httpRequestLength.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
