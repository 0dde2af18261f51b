package ratelimit

import (
	"time"

	"SignalRelay/internal/service/metrics"
	xhttp "SignalRelay/pkg/http"

	"github.com/labstack/echo/v4"
)

// Middleware allows requests per client IP in a rolling window, refilling evenly.
func Middleware(l *Limiter, requests int, window time.Duration) echo.MiddlewareFunc {
	capacity := float64(requests)
	refill := capacity / window.Seconds()
	metrics.Register()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.Allow(c.RealIP(), capacity, refill) {
				metrics.RateLimited.Inc()
				c.Response().Header().Set("Retry-After", "60")
				return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("Too many requests, please try again later"))
			}
			return next(c)
		}
	}
}
