package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/filevault/internal/handler"
	"github.com/iliyamo/filevault/internal/middleware"
	"github.com/iliyamo/filevault/internal/model"
)

// RegisterUsers registers /v1/users. Every route needs a valid access
// token; everything outside /me additionally needs the admin role.
func RegisterUsers(e *echo.Echo, u *handler.UserHandler, auth middleware.Authenticator) {
	g := e.Group("/v1/users", middleware.JWTAuth(auth))

	// ---- Self ----
	g.GET("/me", u.Me)
	g.PATCH("/me/username", u.ChangeUsername)
	g.PATCH("/me/password", u.ChangePassword)
	g.POST("/me/logout-all", u.LogoutAll)

	// ---- Admin ----
	admin := middleware.RequireRole(model.RoleAdmin)
	g.GET("", u.List, admin)
	g.POST("", u.Create, admin)
	g.GET("/:id", u.Get, admin)
	g.PATCH("/:id", u.Update, admin)
	g.DELETE("/:id", u.Delete, admin)
	g.PATCH("/:id/reset-password", u.ResetPassword, admin)
}
