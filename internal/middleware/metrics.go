package middleware

import (
	"strconv"
	"time"

	prom "pulsestream/prometheus"

	"github.com/labstack/echo/v4"
)

// MetricsMiddleware adds prometheus metrics to track HTTP requests
func MetricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()

		err := next(c)

		duration := time.Since(start).Seconds()
		method := c.Request().Method
		path := c.Path()
		status := strconv.Itoa(c.Response().Status)

		prom.HttpRequestsTotal.WithLabelValues(method, path, status).Inc()
		prom.HttpRequestDuration.WithLabelValues(method, path, status).Observe(duration)

		return err
	}
}
