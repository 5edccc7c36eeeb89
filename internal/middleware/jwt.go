package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/filevault/internal/model"
	"github.com/iliyamo/filevault/internal/service"
)

// Authenticator resolves a bearer token to an active user.
// *service.AuthService implements it.
type Authenticator interface {
	CurrentUser(ctx context.Context, accessToken string) (*model.User, error)
}

// JWTAuth validates the Bearer access token and stores the user it belongs
// to in the context. Every rejection gets the same 401 body; the reason is
// only logged by the auth service.
func JWTAuth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Only "Bearer <token>" is accepted. The scheme is matched
			// case-insensitively and an empty token counts as missing.
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			raw, ok := bearerToken(header)
			if !ok {
				return unauthorized(c)
			}
			// The service checks algorithm, signature and expiry, then
			// loads the subject and rejects deactivated accounts. All of
			// those come back as ErrInvalidCredentials.
			u, err := auth.CurrentUser(c.Request().Context(), raw)
			if errors.Is(err, service.ErrInvalidCredentials) {
				return unauthorized(c)
			}
			if err != nil {
				// storage failure; let the error handler answer 500
				return err
			}
			// Handlers and RequireRole read the caller from here.
			setUser(c, u)
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	raw := strings.TrimSpace(header[len(prefix):])
	return raw, raw != ""
}

func unauthorized(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "could not validate credentials"})
}
