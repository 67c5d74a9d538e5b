package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/clockframe/clockframe/internal/metrics"
)

// Metrics returns a middleware that collects Prometheus metrics for every
// HTTP request.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/metrics" {
			return c.Next()
		}

		start := time.Now()

		metrics.ActiveConnections.Inc()
		defer metrics.ActiveConnections.Dec()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		method := c.Method()
		path := metrics.NormalizePath(c.Path())

		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)

		if reqSize := c.Request().Header.ContentLength(); reqSize > 0 {
			metrics.HTTPRequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
		}

		if respSize := len(c.Response().Body()); respSize > 0 {
			metrics.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
		}

		if statusCode := c.Response().StatusCode(); statusCode >= 400 {
			metrics.ErrorsTotal.WithLabelValues("http", strconv.Itoa(statusCode)).Inc()
		}

		return err
	}
}

func RecordAuthAttempt(authType, status string) {
	metrics.AuthAttempts.WithLabelValues(authType, status).Inc()
}

func RecordJobProcessed(jobType, status string, duration time.Duration) {
	metrics.JobsProcessed.WithLabelValues(jobType, status).Inc()
	metrics.JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

func RecordCacheHit(cache string) {
	metrics.CacheHits.WithLabelValues(cache).Inc()
}

func RecordCacheMiss(cache string) {
	metrics.CacheMisses.WithLabelValues(cache).Inc()
}

func UpdateJobsQueued(count int) {
	metrics.JobsQueued.Set(float64(count))
}

func UpdateUserMetrics(registered, active24h int) {
	metrics.RegisteredUsers.Set(float64(registered))
	metrics.ActiveUsers.Set(float64(active24h))
}

func UpdateDBConnections(total, idle, active int) {
	metrics.DBConnections.WithLabelValues("total").Set(float64(total))
	metrics.DBConnections.WithLabelValues("idle").Set(float64(idle))
	metrics.DBConnections.WithLabelValues("active").Set(float64(active))
}

func UpdateActiveSessions(count int) {
	metrics.ActiveSessions.Set(float64(count))
}

func RecordDBQuery(operation string, duration time.Duration) {
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
