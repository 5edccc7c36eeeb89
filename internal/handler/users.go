package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/filevault/internal/middleware"
	"github.com/iliyamo/filevault/internal/model"
	"github.com/iliyamo/filevault/internal/service"
)

// UserHandler serves /v1/users: the caller's own profile under /me and the
// administrator directory under the rest.
type UserHandler struct {
	Users *service.UserService
	Auth  *service.AuthService
	Log   zerolog.Logger
}

func NewUserHandler(users *service.UserService, auth *service.AuthService, log zerolog.Logger) *UserHandler {
	return &UserHandler{Users: users, Auth: auth, Log: log}
}

type createUserReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	IsActive *bool  `json:"is_active"`
}

type updateUserReq struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
}

type changeUsernameReq struct {
	NewUsername string `json:"new_username"`
}

type changePasswordReq struct {
	CurrentPassword    string `json:"current_password"`
	NewPassword        string `json:"new_password"`
	ConfirmNewPassword string `json:"confirm_new_password"`
}

type resetPasswordReq struct {
	NewPassword string `json:"new_password"`
}

// ----- self service -----

// Me returns the authenticated user's profile.
func (h *UserHandler) Me(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return writeError(c, h.Log, service.ErrInvalidCredentials)
	}
	return c.JSON(http.StatusOK, toUserResp(u))
}

// ChangeUsername: PATCH /v1/users/me/username.
func (h *UserHandler) ChangeUsername(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return writeError(c, h.Log, service.ErrInvalidCredentials)
	}
	var req changeUsernameReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	updated, err := h.Users.ChangeUsername(ctx, u, req.NewUsername)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toUserResp(updated))
}

// ChangePassword: PATCH /v1/users/me/password. Ends every session.
func (h *UserHandler) ChangePassword(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return writeError(c, h.Log, service.ErrInvalidCredentials)
	}
	var req changePasswordReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Users.ChangePassword(ctx, u, req.CurrentPassword, req.NewPassword, req.ConfirmNewPassword); err != nil {
		return writeError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// LogoutAll revokes every refresh token of the caller.
func (h *UserHandler) LogoutAll(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return writeError(c, h.Log, service.ErrInvalidCredentials)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	n, err := h.Auth.LogoutEverywhere(ctx, u.ID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"revoked": n})
}

// ----- admin -----

func (h *UserHandler) List(c echo.Context) error {
	skip, limit, ok := parsePage(c)
	if !ok {
		return badRequest(c, "invalid skip/limit")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	users, err := h.Users.List(ctx, skip, limit)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toUserList(users))
}

func (h *UserHandler) Create(c echo.Context) error {
	var req createUserReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	role, _ := model.ParseRole(req.Role)
	u, err := h.Users.Create(ctx, service.NewUser{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     role,
		IsActive: req.IsActive,
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, toUserResp(u))
}

func (h *UserHandler) Get(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.Get(ctx, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toUserResp(u))
}

func (h *UserHandler) Update(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	var req updateUserReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	upd := model.UserUpdate{Username: req.Username, Email: req.Email, IsActive: req.IsActive}
	if req.Role != nil {
		r, _ := model.ParseRole(*req.Role)
		upd.Role = &r
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.Update(ctx, id, upd)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toUserResp(u))
}

func (h *UserHandler) Delete(c echo.Context) error {
	actor, ok := middleware.CurrentUser(c)
	if !ok {
		return writeError(c, h.Log, service.ErrInvalidCredentials)
	}
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.Delete(ctx, actor.ID, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toUserResp(u))
}

func (h *UserHandler) ResetPassword(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	var req resetPasswordReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Users.ResetPassword(ctx, id, req.NewPassword); err != nil {
		return writeError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}
