package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/filevault/internal/middleware"
	"github.com/iliyamo/filevault/internal/service"
)

// FileHandler serves /v1/files.
type FileHandler struct {
	Files          *service.FileService
	MaxUploadBytes int64
	Log            zerolog.Logger
}

func NewFileHandler(files *service.FileService, maxUploadBytes int64, log zerolog.Logger) *FileHandler {
	return &FileHandler{Files: files, MaxUploadBytes: maxUploadBytes, Log: log}
}

// maxExpiresIn is the largest expires_in that still fits a time.Duration.
const maxExpiresIn = int64(math.MaxInt64 / time.Second)

type shareReq struct {
	ExpiresIn int64 `json:"expires_in"` // seconds, 0 means default
}

type shareResp struct {
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

type renameReq struct {
	NewFilename string `json:"new_filename"`
}

// Upload: multipart field "file".
func (h *FileHandler) Upload(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return writeError(c, h.Log, service.ErrInvalidCredentials)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file is required")
	}
	if h.MaxUploadBytes > 0 && fh.Size > h.MaxUploadBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "file too large"})
	}
	src, err := fh.Open()
	if err != nil {
		return badRequest(c, "unreadable upload")
	}
	defer src.Close()

	// uploads get longer than the usual 5s budget
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Minute)
	defer cancel()

	f, err := h.Files.Upload(ctx, u, service.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Size:        fh.Size,
		Body:        src,
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, toFileResp(f))
}

// List: the caller's own files.
func (h *FileHandler) List(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return writeError(c, h.Log, service.ErrInvalidCredentials)
	}
	skip, limit, ok := parsePage(c)
	if !ok {
		return badRequest(c, "invalid skip/limit")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	files, err := h.Files.List(ctx, u, skip, limit)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toFileList(files))
}

// ListAll: every file, optionally filtered by owner username or email.
// Mounted behind RequireRole(manager).
func (h *FileHandler) ListAll(c echo.Context) error {
	skip, limit, ok := parsePage(c)
	if !ok {
		return badRequest(c, "invalid skip/limit")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	files, err := h.Files.ListAll(ctx, service.OwnerFilter{
		Username: c.QueryParam("username"),
		Email:    c.QueryParam("email"),
	}, skip, limit)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toFileList(files))
}

// Share: presigned download URL. expires_in may come as JSON or query.
func (h *FileHandler) Share(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return writeError(c, h.Log, service.ErrInvalidCredentials)
	}
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	var req shareReq
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid body")
		}
	}
	if s := c.QueryParam("expires_in"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return badRequest(c, "invalid expires_in")
		}
		req.ExpiresIn = n
	}
	if req.ExpiresIn < 0 {
		return badRequest(c, "expires_in must be positive")
	}
	// past this the conversion to time.Duration wraps around and could
	// slip under the service's maximum
	if req.ExpiresIn > maxExpiresIn {
		return badRequest(c, "expires_in too large")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	link, err := h.Files.Share(ctx, u, id, time.Duration(req.ExpiresIn)*time.Second)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, shareResp{
		URL:       link.URL,
		Filename:  link.Filename,
		Method:    link.Method,
		ExpiresAt: link.ExpiresAt,
	})
}

func (h *FileHandler) Rename(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return writeError(c, h.Log, service.ErrInvalidCredentials)
	}
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	var req renameReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	f, err := h.Files.Rename(ctx, u, id, req.NewFilename)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toFileResp(f))
}

func (h *FileHandler) Delete(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return writeError(c, h.Log, service.ErrInvalidCredentials)
	}
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Files.Delete(ctx, u, id); err != nil {
		return writeError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}
