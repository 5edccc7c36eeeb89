package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/filevault/internal/config"
	"github.com/iliyamo/filevault/internal/service"
)

// AuthHandler serves /v1/auth. The refresh token only ever travels in an
// HttpOnly cookie; the access token goes in the response body.
type AuthHandler struct {
	Auth       *service.AuthService
	Users      *service.UserService
	Cookie     config.CookieConfig
	RefreshTTL time.Duration
	Log        zerolog.Logger
}

func NewAuthHandler(auth *service.AuthService, users *service.UserService, cfg config.Config, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{Auth: auth, Users: users, Cookie: cfg.Cookie, RefreshTTL: cfg.RefreshTTL, Log: log}
}

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginReq binds either a JSON body or an OAuth2 password-grant form.
type loginReq struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// Register: create an account with role user. No session is opened.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.Register(ctx, req.Username, strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, toUserResp(u))
}

// Login: verify credentials, return the access token and set the cookie.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Username == "" || req.Password == "" {
		return badRequest(c, "username/password required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sess, err := h.Auth.Login(ctx, req.Username, req.Password)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return h.sessionResponse(c, sess)
}

// Refresh: rotate the cookie's refresh token. Every failure clears the
// cookie so the client stops presenting a dead token.
func (h *AuthHandler) Refresh(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	// A missing cookie arrives here as "" and is rejected by the service
	// with the same 401 as an unknown, expired or already rotated token.
	sess, err := h.Auth.Refresh(ctx, h.cookieValue(c))
	if err != nil {
		// Whatever the client held is dead now. Overwrite it so the browser
		// stops replaying it on every request.
		h.clearCookie(c)
		return writeError(c, h.Log, err)
	}
	// The old row is revoked and a new one stored. Hand the new value back
	// in the cookie and the access token in the body.
	return h.sessionResponse(c, sess)
}

// Logout: revoke the cookie's token if any and clear the cookie. Always 200.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	// Revocation is best effort and never reported. The client cannot tell
	// an unknown token from a storage error.
	h.Auth.Logout(ctx, h.cookieValue(c))
	// Clear the cookie even when there was nothing to revoke.
	h.clearCookie(c)
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

func (h *AuthHandler) sessionResponse(c echo.Context, sess *service.Session) error {
	// Max-Age tracks the refresh TTL so the browser drops the cookie about
	// when the server-side row expires.
	h.setCookie(c, sess.Refresh.Value, int(h.RefreshTTL/time.Second))
	return c.JSON(http.StatusOK, tokenResp{
		AccessToken: sess.Access.Token,
		TokenType:   "bearer",
		ExpiresAt:   sess.Access.Exp,
	})
}

// cookieValue returns "" when the cookie is absent.
func (h *AuthHandler) cookieValue(c echo.Context) string {
	ck, err := c.Cookie(h.Cookie.Name)
	if err != nil {
		return ""
	}
	return ck.Value
}

// setCookie writes the refresh cookie. HttpOnly keeps it away from
// scripts; Secure, SameSite, Path and Domain come from config so the cookie
// is only sent back to the auth routes that need it.
func (h *AuthHandler) setCookie(c echo.Context, value string, maxAge int) {
	c.SetCookie(&http.Cookie{
		Name:     h.Cookie.Name,
		Value:    value,
		Path:     h.Cookie.Path,
		Domain:   h.Cookie.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.Cookie.Secure,
		SameSite: h.Cookie.SameSiteMode(),
	})
}

// clearCookie expires the cookie. The attributes must match setCookie or the
// browser treats it as a different cookie and keeps the old one.
func (h *AuthHandler) clearCookie(c echo.Context) { h.setCookie(c, "", -1) }
