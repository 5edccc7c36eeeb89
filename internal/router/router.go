package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/filevault/internal/handler"
	"github.com/iliyamo/filevault/internal/metrics"
)

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, db handler.Pinger, m *metrics.Metrics) {
	e.GET("/healthz", handler.Health(db))
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}
}

// RegisterAuth registers the session endpoints under /v1/auth. limit guards
// the whole group; pass a pass-through when rate limiting is off.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/auth", limit)
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// refresh and logout read the refresh token from the cookie only
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)
}
