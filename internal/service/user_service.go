package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/iliyamo/filevault/internal/model"
	"github.com/iliyamo/filevault/internal/queue"
	"github.com/iliyamo/filevault/internal/repository"
	"github.com/iliyamo/filevault/internal/utils"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 100
	maxEmailLen    = 255
	minPasswordLen = 6
	// MaxPageSize caps every list endpoint.
	MaxPageSize = 100
)

// NewUser is the input for registration and admin creation.
type NewUser struct {
	Username string
	Email    string
	Password string
	Role     model.Role // defaults to user
	IsActive *bool      // defaults to true
}

// UserService manages the user directory. Changes that weaken an account's
// standing revoke its refresh tokens.
type UserService struct {
	users  UserStore
	ledger *Ledger
	hasher *utils.PasswordHasher
	log    zerolog.Logger
	events EventPublisher
}

func NewUserService(users UserStore, ledger *Ledger, hasher *utils.PasswordHasher, log zerolog.Logger, events EventPublisher) *UserService {
	return &UserService{users: users, ledger: ledger, hasher: hasher, log: log, events: events}
}

func validateUsername(s string) error {
	n := utf8.RuneCountInString(s)
	if n < minUsernameLen || n > maxUsernameLen || strings.TrimSpace(s) != s {
		return fmt.Errorf("%w: username must be %d to %d characters without surrounding spaces", ErrValidation, minUsernameLen, maxUsernameLen)
	}
	return nil
}

func validateEmail(s string) error {
	at := strings.IndexByte(s, '@')
	if at <= 0 || at == len(s)-1 || len(s) > maxEmailLen || strings.ContainsAny(s, " \t\r\n") {
		return fmt.Errorf("%w: invalid email address", ErrValidation)
	}
	return nil
}

func validatePassword(s string) error {
	if utf8.RuneCountInString(s) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLen)
	}
	return nil
}

func mapUserConflict(err error) error {
	switch {
	case errors.Is(err, repository.ErrUsernameExists):
		return ErrUsernameTaken
	case errors.Is(err, repository.ErrEmailExists):
		return ErrEmailTaken
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	}
	return err
}

// Register creates a regular, active account.
func (s *UserService) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	u, err := s.create(ctx, NewUser{Username: username, Email: email, Password: password, Role: model.RoleUser})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.events, s.log, queue.Event{Type: queue.EventUserRegistered, UserID: u.ID, Username: u.Username, OccurredAt: time.Now().UTC()})
	return u, nil
}

// Create is the admin variant of Register: any role, optionally inactive.
func (s *UserService) Create(ctx context.Context, in NewUser) (*model.User, error) {
	return s.create(ctx, in)
}

func (s *UserService) create(ctx context.Context, in NewUser) (*model.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateUsername(in.Username); err != nil {
		return nil, err
	}
	if err := validateEmail(in.Email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = model.RoleUser
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, in.Role)
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	if err := s.ensureFree(ctx, 0, &in.Username, &in.Email); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &model.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		IsActive:     active,
	}
	// the unique keys still decide races the pre-check cannot see
	if err := s.users.Create(ctx, u); err != nil {
		return nil, mapUserConflict(err)
	}
	s.log.Info().Uint64("user_id", u.ID).Str("role", string(u.Role)).Msg("user created")
	return u, nil
}

// ensureFree reports which of username and email already belong to a user
// other than self, checking the username first.
func (s *UserService) ensureFree(ctx context.Context, self uint64, username, email *string) error {
	if username != nil {
		u, err := s.users.GetByUsername(ctx, *username)
		if err == nil && u.ID != self {
			return ErrUsernameTaken
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
	}
	if email != nil {
		u, err := s.users.GetByEmail(ctx, *email)
		if err == nil && u.ID != self {
			return ErrEmailTaken
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
	}
	return nil
}

// List pages through all users. limit is clamped to 1..MaxPageSize.
func (s *UserService) List(ctx context.Context, skip, limit int) ([]model.User, error) {
	skip, limit = clampPage(skip, limit)
	return s.users.List(ctx, skip, limit)
}

// Get loads one user.
func (s *UserService) Get(ctx context.Context, id uint64) (*model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, mapUserConflict(err)
	}
	return u, nil
}

// Update applies an admin change. Deactivation and role changes revoke the
// user's refresh tokens so the new standing takes effect at the next
// refresh.
func (s *UserService) Update(ctx context.Context, id uint64, upd model.UserUpdate) (*model.User, error) {
	cur, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, mapUserConflict(err)
	}
	if upd.Username != nil {
		if err := validateUsername(*upd.Username); err != nil {
			return nil, err
		}
	}
	if upd.Email != nil {
		e := strings.ToLower(strings.TrimSpace(*upd.Email))
		if err := validateEmail(e); err != nil {
			return nil, err
		}
		upd.Email = &e
	}
	if upd.Role != nil && !upd.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, *upd.Role)
	}
	if upd.Empty() {
		return cur, nil
	}
	if err := s.ensureFree(ctx, id, upd.Username, upd.Email); err != nil {
		return nil, err
	}
	if err := s.users.Update(ctx, id, upd); err != nil {
		return nil, mapUserConflict(err)
	}

	deactivated := upd.IsActive != nil && !*upd.IsActive && cur.IsActive
	roleChanged := upd.Role != nil && *upd.Role != cur.Role
	if deactivated || roleChanged {
		if _, err := s.ledger.RevokeAllForUser(ctx, id); err != nil {
			return nil, err
		}
	}
	if deactivated {
		publish(ctx, s.events, s.log, queue.Event{Type: queue.EventUserDeactivated, UserID: id, Username: cur.Username, OccurredAt: time.Now().UTC()})
	}
	s.log.Info().Uint64("user_id", id).Bool("revoked_sessions", deactivated || roleChanged).Msg("user updated")
	return s.Get(ctx, id)
}

// Delete removes a user other than the acting administrator.
func (s *UserService) Delete(ctx context.Context, actorID, id uint64) (*model.User, error) {
	if actorID == id {
		return nil, ErrSelfDelete
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, mapUserConflict(err)
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return nil, mapUserConflict(err)
	}
	s.log.Info().Uint64("user_id", id).Uint64("actor_id", actorID).Msg("user deleted")
	return u, nil
}

// ResetPassword sets a new password chosen by an administrator and ends
// every session of the user.
func (s *UserService) ResetPassword(ctx context.Context, id uint64, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if _, err := s.users.GetByID(ctx, id); err != nil {
		return mapUserConflict(err)
	}
	return s.setPassword(ctx, id, newPassword)
}

// ChangePassword is the self-service flow. The current password must match
// and the confirmation must equal the new password.
func (s *UserService) ChangePassword(ctx context.Context, u *model.User, current, newPassword, confirm string) error {
	if !s.hasher.Verify(u.PasswordHash, current) {
		return ErrWrongPassword
	}
	if newPassword != confirm {
		return ErrPasswordMismatch
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	return s.setPassword(ctx, u.ID, newPassword)
}

func (s *UserService) setPassword(ctx context.Context, id uint64, plain string) error {
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, id, hash); err != nil {
		return mapUserConflict(err)
	}
	n, err := s.ledger.RevokeAllForUser(ctx, id)
	if err != nil {
		return err
	}
	s.log.Info().Uint64("user_id", id).Int64("revoked", n).Msg("password changed")
	publish(ctx, s.events, s.log, queue.Event{Type: queue.EventPasswordChanged, UserID: id, Count: n, OccurredAt: time.Now().UTC()})
	return nil
}

// ChangeUsername renames the calling user. Renaming to the current name
// is a no-op.
func (s *UserService) ChangeUsername(ctx context.Context, u *model.User, username string) (*model.User, error) {
	if username == u.Username {
		return u, nil
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	return s.Update(ctx, u.ID, model.UserUpdate{Username: &username})
}

func clampPage(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	return skip, limit
}
