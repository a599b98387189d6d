// Package metrics - Prometheus instrumentation for LAUNCHPAD.
package metrics

import (
	"strconv"
	"time"

	"launchpad/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "launchpad_http_requests_total",
		Help: "HTTP requests by method, route, and status.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "launchpad_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "route"})

	deploymentsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "launchpad_deployments",
		Help: "Deployments by lifecycle status.",
	}, []string{"status"})

	buildEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "launchpad_build_events_total",
		Help: "Build executor events by status.",
	}, []string{"status"})

	proxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "launchpad_proxy_requests_total",
		Help: "Wildcard proxy requests by outcome.",
	}, []string{"outcome"})
)

// HTTPMiddleware records request counts and latency per route template.
func HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(
			c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).
			Observe(time.Since(start).Seconds())
	}
}

// Handler serves the scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// ObserveBuildEvent counts one executor event.
func ObserveBuildEvent(status string) {
	buildEvents.WithLabelValues(status).Inc()
}

// ObserveProxy counts one proxy request outcome.
func ObserveProxy(outcome string) {
	proxyRequests.WithLabelValues(outcome).Inc()
}

// Collector refreshes business gauges on a fixed cadence.
type Collector struct {
	db       *gorm.DB
	interval time.Duration
}

// NewCollector creates the gauge refresher.
func NewCollector(db *gorm.DB, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Collector{db: db, interval: interval}
}

// Run blocks until the channel context is done.
func (c *Collector) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	c.refresh()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.refresh()
		}
	}
}

func (c *Collector) refresh() {
	var rows []struct {
		Status models.DeploymentStatus
		Count  int64
	}
	if err := c.db.Model(&models.Deployment{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return
	}

	deploymentsByStatus.Reset()
	for _, row := range rows {
		deploymentsByStatus.WithLabelValues(string(row.Status)).Set(float64(row.Count))
	}
}
