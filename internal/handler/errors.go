package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/filevault/internal/service"
	"github.com/iliyamo/filevault/internal/storage"
)

// writeError maps a service error onto its HTTP status. Anything not
// recognised becomes a 500 with a generic body; the cause is logged.
func writeError(c echo.Context, log zerolog.Logger, err error) error {
	status, msg := http.StatusInternalServerError, "internal server error"
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrWrongPassword),
		errors.Is(err, service.ErrPasswordMismatch),
		errors.Is(err, service.ErrSelfDelete),
		errors.Is(err, storage.ErrInvalidArgument):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrInvalidCredentials):
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
		status, msg = http.StatusUnauthorized, "incorrect username or password"
	case errors.Is(err, service.ErrInvalidOrExpiredToken):
		status, msg = http.StatusUnauthorized, "invalid or expired refresh token"
	case errors.Is(err, service.ErrForbidden):
		status, msg = http.StatusForbidden, "insufficient privileges"
	case errors.Is(err, service.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, service.ErrUsernameTaken):
		status, msg = http.StatusConflict, "username already taken"
	case errors.Is(err, service.ErrEmailTaken):
		status, msg = http.StatusConflict, "email already registered"
	default:
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.JSON(status, echo.Map{"error": msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}
