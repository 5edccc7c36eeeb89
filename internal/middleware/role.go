package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/filevault/internal/model"
)

// RequireRole lets the request through only when the authenticated user's
// role satisfies need under model.Allow. It must run after JWTAuth.
func RequireRole(need model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u, ok := CurrentUser(c)
			if !ok {
				return unauthorized(c)
			}
			if !model.Allow(u.Role, need) {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "insufficient privileges"})
			}
			return next(c)
		}
	}
}
