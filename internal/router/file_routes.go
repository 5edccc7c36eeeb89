package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/filevault/internal/handler"
	"github.com/iliyamo/filevault/internal/middleware"
	"github.com/iliyamo/filevault/internal/model"
)

// RegisterFiles registers /v1/files. Ownership of individual files is
// checked in the service; only the global listing is role gated here.
func RegisterFiles(e *echo.Echo, f *handler.FileHandler, auth middleware.Authenticator) {
	g := e.Group("/v1/files", middleware.JWTAuth(auth))
	g.POST("", f.Upload)
	g.GET("", f.List)
	g.GET("/all", f.ListAll, middleware.RequireRole(model.RoleManager))
	g.POST("/:id/share", f.Share)
	g.PATCH("/:id/rename", f.Rename)
	g.DELETE("/:id", f.Delete)
}
