// Package metrics exposes pool, cache and scrape activity to Prometheus.
package metrics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/ornabmomin/poem-api/models"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "poem_api"

// Collector records pool, scrape and HTTP events. It satisfies both
// engine.Observer and scraper.Observer.
type Collector struct {
	// Pool metrics
	sessionsCreated      prometheus.Counter
	sessionCreateFailure prometheus.Counter
	sessionsDestroyed    *prometheus.CounterVec
	acquireWait          prometheus.Histogram
	poolExhausted        prometheus.Counter

	// Cache metrics
	cacheLookups  *prometheus.CounterVec
	cacheHitRatio prometheus.Gauge

	// Scrape metrics
	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	runsTotal    *prometheus.CounterVec
	runDuration  prometheus.Histogram

	// HTTP metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	namespace  string
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
}

// New creates a Collector backed by its own registry.
func New(namespace string, logger *slog.Logger) *Collector {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(namespace, reg, reg, logger)
}

// NewWithRegistry creates a Collector that registers on registerer and
// serves from gatherer.
func NewWithRegistry(namespace string, registerer prometheus.Registerer, gatherer prometheus.Gatherer, logger *slog.Logger) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		namespace:  namespace,
		registerer: registerer,
		gatherer:   gatherer,
		logger:     logger,
	}

	c.sessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "sessions_created_total",
		Help:      "Total number of browser sessions launched",
	})
	c.sessionCreateFailure = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "session_create_failures_total",
		Help:      "Total number of failed session launches",
	})
	c.sessionsDestroyed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "sessions_destroyed_total",
		Help:      "Total number of sessions removed from the pool",
	}, []string{"reason"})
	c.acquireWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "acquire_wait_seconds",
		Help:      "Time callers spent queued for a session",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	})
	c.poolExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "exhausted_total",
		Help:      "Total number of acquires that timed out waiting for a session",
	})

	c.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Episode cache lookups by result",
	}, []string{"result"})
	c.cacheHitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "hit_ratio",
		Help:      "Episode cache hit ratio (0-1)",
	})

	c.tasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scrape",
		Name:      "tasks_total",
		Help:      "Scrape tasks by target and outcome",
	}, []string{"target", "outcome"})
	c.taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scrape",
		Name:      "task_duration_seconds",
		Help:      "Time taken to scrape one target",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"target"})
	c.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scrape",
		Name:      "runs_total",
		Help:      "Scrape runs by outcome",
	}, []string{"outcome"})
	c.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scrape",
		Name:      "run_duration_seconds",
		Help:      "Time taken by a full scrape run",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
	})

	c.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})
	c.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Time taken to serve HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	registerer.MustRegister(
		c.sessionsCreated,
		c.sessionCreateFailure,
		c.sessionsDestroyed,
		c.acquireWait,
		c.poolExhausted,
		c.cacheLookups,
		c.cacheHitRatio,
		c.tasksTotal,
		c.taskDuration,
		c.runsTotal,
		c.runDuration,
		c.requestsTotal,
		c.requestDuration,
	)
	return c
}

// WatchPool exports pool occupancy as gauges read at scrape time.
func (c *Collector) WatchPool(stats func() models.PoolStats) {
	gauge := func(name, help string, pick func(models.PoolStats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(pick(stats())) })
	}
	c.registerer.MustRegister(
		gauge("sessions", "Sessions currently tracked by the pool", func(s models.PoolStats) int { return s.Total }),
		gauge("sessions_available", "Idle sessions ready to lend", func(s models.PoolStats) int { return s.Available }),
		gauge("sessions_in_use", "Sessions currently lent out", func(s models.PoolStats) int { return s.InUse }),
		gauge("waiters", "Callers blocked waiting for a session", func(s models.PoolStats) int { return s.Waiting }),
		gauge("max_sessions", "Configured pool capacity", func(s models.PoolStats) int { return s.MaxCapacity }),
	)
}

// WatchCache exports cache entry counts as gauges read at scrape time.
func (c *Collector) WatchCache(stats func() models.CacheStats) {
	c.registerer.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: "cache",
			Name:      "entries_valid",
			Help:      "Unexpired cache entries",
		}, func() float64 { return float64(stats().Valid) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: "cache",
			Name:      "entries_expired",
			Help:      "Expired cache entries awaiting cleanup",
		}, func() float64 { return float64(stats().Expired) }),
	)
}

func (c *Collector) SessionCreated() { c.sessionsCreated.Inc() }
func (c *Collector) SessionCreateFailed() { c.sessionCreateFailure.Inc() }
func (c *Collector) PoolExhausted() { c.poolExhausted.Inc() }
func (c *Collector) SessionDestroyed(reason string) {
	c.sessionsDestroyed.WithLabelValues(reason).Inc()
}

func (c *Collector) AcquireWaited(d time.Duration) {
	c.acquireWait.Observe(d.Seconds())
}

// CacheLookup records a hit or miss and refreshes the hit ratio.
func (c *Collector) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()

	hits := c.counterValue(c.cacheLookups.WithLabelValues("hit"))
	misses := c.counterValue(c.cacheLookups.WithLabelValues("miss"))
	if total := hits + misses; total > 0 {
		c.cacheHitRatio.Set(hits / total)
	}
}

func (c *Collector) TaskFinished(target, outcome string, d time.Duration) {
	c.tasksTotal.WithLabelValues(target, outcome).Inc()
	c.taskDuration.WithLabelValues(target).Observe(d.Seconds())
}

func (c *Collector) RunFinished(outcome string, d time.Duration) {
	c.runsTotal.WithLabelValues(outcome).Inc()
	c.runDuration.Observe(d.Seconds())
}

// ObserveRequest records one served HTTP request. route is the matched
// pattern, not the raw path.
func (c *Collector) ObserveRequest(route, method string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(c.logger.Handler(), slog.LevelError),
	})
}

func (c *Collector) counterValue(counter prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		c.logger.Warn("failed to read counter value", "error", err)
		return 0
	}
	return m.GetCounter().GetValue()
}
