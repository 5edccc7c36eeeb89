package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iliyamo/filevault/internal/metrics"
	"github.com/iliyamo/filevault/internal/model"
	"github.com/iliyamo/filevault/internal/queue"
	"github.com/iliyamo/filevault/internal/repository"
	"github.com/iliyamo/filevault/internal/storage"
)

const maxFilenameLen = 255

// FileStore is the metadata persistence. *repository.FileRepo implements it.
type FileStore interface {
	Create(ctx context.Context, f *model.File) error
	GetByID(ctx context.Context, id uint64) (*model.File, error)
	ListByOwner(ctx context.Context, ownerID uint64, skip, limit int) ([]model.File, error)
	ListAll(ctx context.Context, skip, limit int) ([]model.File, error)
	UpdateFilename(ctx context.Context, id uint64, filename string) error
	Delete(ctx context.Context, id uint64) error
}

// FileConfig bounds share link lifetimes.
type FileConfig struct {
	PresignDefaultTTL time.Duration
	PresignMaxTTL     time.Duration
}

// Upload describes an incoming file.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ShareLink is a presigned download URL.
type ShareLink struct {
	URL       string
	Filename  string
	Method    string
	ExpiresAt time.Time
}

// OwnerFilter narrows ListAll to one owner, looked up by username or email.
type OwnerFilter struct {
	Username string
	Email    string
}

// FileService keeps file metadata and the object store in step.
type FileService struct {
	files   FileStore
	users   UserStore
	store   storage.Adapter
	cfg     FileConfig
	log     zerolog.Logger
	metrics *metrics.Metrics
	events  EventPublisher
	now     func() time.Time
}

func NewFileService(files FileStore, users UserStore, store storage.Adapter, cfg FileConfig, log zerolog.Logger, m *metrics.Metrics, events EventPublisher) *FileService {
	return &FileService{files: files, users: users, store: store, cfg: cfg, log: log, metrics: m, events: events, now: time.Now}
}

func validateFilename(name string) error {
	if name == "" || utf8.RuneCountInString(name) > maxFilenameLen || strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: filename must be 1 to %d characters", ErrValidation, maxFilenameLen)
	}
	return nil
}

// sanitizeFilename keeps letters, digits, '.', '_' and '-'; everything else
// becomes '_'.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// storagePath builds '<owner>/<uuid>_<sanitized name>'.
func storagePath(ownerID uint64, filename string) string {
	return fmt.Sprintf("%d/%s_%s", ownerID, uuid.NewString(), sanitizeFilename(filename))
}

func canManage(u *model.User, f *model.File) bool {
	return f.OwnerID == u.ID || model.Allow(u.Role, model.RoleManager)
}

func (s *FileService) load(ctx context.Context, u *model.User, id uint64) (*model.File, error) {
	f, err := s.files.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !canManage(u, f) {
		return nil, ErrForbidden
	}
	return f, nil
}

// Upload stores the object and records its metadata. If the metadata
// cannot be written the object is removed again.
func (s *FileService) Upload(ctx context.Context, owner *model.User, up Upload) (*model.File, error) {
	if err := validateFilename(up.Filename); err != nil {
		return nil, err
	}
	path := storagePath(owner.ID, up.Filename)
	if up.ContentType == "" {
		up.ContentType = "application/octet-stream"
	}
	stored, err := s.store.Put(ctx, path, up.Body, up.Size, up.ContentType)
	if err != nil {
		return nil, fmt.Errorf("store object: %w", err)
	}

	f := &model.File{
		OwnerID:     owner.ID,
		Filename:    up.Filename,
		StoragePath: stored,
		ContentType: up.ContentType,
		Size:        up.Size,
		UploadedAt:  s.now(),
	}
	if err := s.files.Create(ctx, f); err != nil {
		if derr := s.store.Delete(ctx, stored); derr != nil {
			s.log.Error().Err(derr).Str("path", stored).Msg("upload rollback: object left behind")
		}
		return nil, fmt.Errorf("record file metadata: %w", err)
	}
	s.metrics.Uploaded(f.Size)
	s.log.Info().Uint64("user_id", owner.ID).Uint64("file_id", f.ID).Int64("size", f.Size).Msg("file uploaded")
	publish(ctx, s.events, s.log, queue.Event{Type: queue.EventFileUploaded, UserID: owner.ID, Username: owner.Username, FileID: f.ID, Filename: f.Filename, OccurredAt: f.UploadedAt.UTC()})
	return f, nil
}

// List returns the caller's own files.
func (s *FileService) List(ctx context.Context, owner *model.User, skip, limit int) ([]model.File, error) {
	skip, limit = clampPage(skip, limit)
	return s.files.ListByOwner(ctx, owner.ID, skip, limit)
}

// ListAll returns every file, optionally those of one owner. An owner
// filter naming nobody yields an empty list. Access control is the
// router's job.
func (s *FileService) ListAll(ctx context.Context, filter OwnerFilter, skip, limit int) ([]model.File, error) {
	skip, limit = clampPage(skip, limit)

	var (
		owner *model.User
		err   error
	)
	switch {
	case filter.Username != "":
		owner, err = s.users.GetByUsername(ctx, filter.Username)
	case filter.Email != "":
		owner, err = s.users.GetByEmail(ctx, filter.Email)
	default:
		return s.files.ListAll(ctx, skip, limit)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return []model.File{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.files.ListByOwner(ctx, owner.ID, skip, limit)
}

// Share presigns a download URL. A zero ttl means the configured default;
// ttl above the configured maximum, or negative, is rejected.
func (s *FileService) Share(ctx context.Context, u *model.User, id uint64, ttl time.Duration) (*ShareLink, error) {
	if ttl == 0 {
		ttl = s.cfg.PresignDefaultTTL
	}
	if ttl < 0 || ttl > s.cfg.PresignMaxTTL {
		return nil, fmt.Errorf("%w: expiration must be between 1 and %d seconds", ErrValidation, int64(s.cfg.PresignMaxTTL/time.Second))
	}
	f, err := s.load(ctx, u, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	url, err := s.store.Presign(ctx, f.StoragePath, ttl, http.MethodGet, f.Filename)
	if err != nil {
		return nil, fmt.Errorf("presign: %w", err)
	}
	publish(ctx, s.events, s.log, queue.Event{Type: queue.EventFileShareCreated, UserID: u.ID, FileID: f.ID, Filename: f.Filename, OccurredAt: now})
	return &ShareLink{URL: url, Filename: f.Filename, Method: http.MethodGet, ExpiresAt: now.Add(ttl)}, nil
}

// Rename changes the display name of a file.
func (s *FileService) Rename(ctx context.Context, u *model.User, id uint64, filename string) (*model.File, error) {
	if err := validateFilename(filename); err != nil {
		return nil, err
	}
	f, err := s.load(ctx, u, id)
	if err != nil {
		return nil, err
	}
	if err := s.files.UpdateFilename(ctx, id, filename); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	f.Filename = filename
	s.log.Info().Uint64("user_id", u.ID).Uint64("file_id", id).Msg("file renamed")
	return f, nil
}

// Delete removes the object and then its metadata. A storage failure keeps
// the metadata so the delete can be retried.
func (s *FileService) Delete(ctx context.Context, u *model.User, id uint64) error {
	f, err := s.load(ctx, u, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, f.StoragePath); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	if err := s.files.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	s.log.Info().Uint64("user_id", u.ID).Uint64("file_id", id).Msg("file deleted")
	publish(ctx, s.events, s.log, queue.Event{Type: queue.EventFileDeleted, UserID: u.ID, FileID: id, Filename: f.Filename, OccurredAt: time.Now().UTC()})
	return nil
}
