package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/filevault/internal/metrics"
)

// RequestLogger logs one line per request and feeds the HTTP metrics. It
// expects echo's RequestID middleware to run first.
func RequestLogger(log zerolog.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let the HTTP error handler write the response so the
				// status below is the one the client sees
				c.Error(err)
			}
			latency := time.Since(start)
			req, res := c.Request(), c.Response()

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			if m != nil {
				m.RequestCount.WithLabelValues(req.Method, route, statusClass(res.Status)).Inc()
				m.RequestDuration.WithLabelValues(req.Method, route).Observe(latency.Seconds())
			}

			ev := log.Info()
			switch {
			case res.Status >= 500:
				ev = log.Error().Err(err)
			case res.Status >= 400:
				ev = log.Warn()
			}
			ev.Str("request_id", res.Header().Get(echo.HeaderXRequestID)).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", route).
				Int("status", res.Status).
				Dur("latency", latency).
				Str("ip", c.RealIP()).
				Str("user_id", currentUserID(c)).
				Msg("request")
			return nil
		}
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
