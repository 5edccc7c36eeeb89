package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/filevault/internal/metrics"
	"github.com/iliyamo/filevault/internal/model"
	"github.com/iliyamo/filevault/internal/queue"
	"github.com/iliyamo/filevault/internal/repository"
	"github.com/iliyamo/filevault/internal/utils"
)

// UserStore is the user directory the services read and write.
// *repository.UserRepo implements it.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id uint64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	List(ctx context.Context, skip, limit int) ([]model.User, error)
	Update(ctx context.Context, id uint64, upd model.UserUpdate) error
	UpdatePassword(ctx context.Context, id uint64, hash string) error
	Delete(ctx context.Context, id uint64) error
}

// AuthConfig carries the token lifetimes.
type AuthConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Session is what a successful login or refresh hands back: an access
// token for the body and a refresh token for the cookie.
type Session struct {
	User    *model.User
	Access  utils.AccessToken
	Refresh *IssuedRefreshToken
}

// AuthService orchestrates login, rotation and logout.
type AuthService struct {
	users   UserStore
	ledger  *Ledger
	issuer  *utils.TokenIssuer
	hasher  *utils.PasswordHasher
	cfg     AuthConfig
	log     zerolog.Logger
	metrics *metrics.Metrics
	events  EventPublisher

	// dummyHash is verified against when the username is unknown so both
	// failure paths cost one bcrypt comparison.
	dummyHash string
}

// NewAuthService wires an AuthService. m and events may be nil.
func NewAuthService(users UserStore, ledger *Ledger, issuer *utils.TokenIssuer, hasher *utils.PasswordHasher,
	cfg AuthConfig, log zerolog.Logger, m *metrics.Metrics, events EventPublisher) (*AuthService, error) {
	dummy, err := hasher.Hash("filevault-timing-equalizer")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &AuthService{
		users:     users,
		ledger:    ledger,
		issuer:    issuer,
		hasher:    hasher,
		cfg:       cfg,
		log:       log,
		metrics:   m,
		events:    events,
		dummyHash: dummy,
	}, nil
}

// Login checks the password and opens a session. Unknown users, wrong
// passwords and inactive accounts all return ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, username, password string) (*Session, error) {
	u, err := s.users.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.hasher.Verify(s.dummyHash, password)
		s.loginFailed(username, "unknown user")
		return nil, ErrInvalidCredentials
	case err != nil:
		s.metrics.Auth("login", false)
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !s.hasher.Verify(u.PasswordHash, password) {
		s.loginFailed(username, "wrong password")
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		s.loginFailed(username, "inactive account")
		return nil, ErrInvalidCredentials
	}

	sess, err := s.openSession(ctx, u)
	if err != nil {
		s.metrics.Auth("login", false)
		return nil, err
	}
	s.metrics.Auth("login", true)
	s.log.Info().Uint64("user_id", u.ID).Msg("login")
	publish(ctx, s.events, s.log, queue.Event{Type: queue.EventUserLoggedIn, UserID: u.ID, Username: u.Username, OccurredAt: time.Now().UTC()})
	return sess, nil
}

func (s *AuthService) loginFailed(username, reason string) {
	s.metrics.Auth("login", false)
	s.log.Debug().Str("username", username).Str("reason", reason).Msg("login rejected")
}

// Refresh rotates value: the presented token is revoked atomically and a
// new access/refresh pair is minted. Any failure is ErrInvalidOrExpiredToken
// unless the store itself failed.
func (s *AuthService) Refresh(ctx context.Context, value string) (*Session, error) {
	sess, err := s.refresh(ctx, value)
	s.metrics.Auth("refresh", err == nil)
	return sess, err
}

func (s *AuthService) refresh(ctx context.Context, value string) (*Session, error) {
	tok, err := s.ledger.Consume(ctx, value)
	if errors.Is(err, ErrTokenNotFound) {
		s.log.Debug().Msg("refresh rejected: token absent, revoked or expired")
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetByID(ctx, tok.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		s.log.Debug().Uint64("user_id", tok.UserID).Msg("refresh rejected: owner missing")
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive {
		s.log.Debug().Uint64("user_id", u.ID).Msg("refresh rejected: inactive account")
		return nil, ErrInvalidOrExpiredToken
	}

	sess, err := s.openSession(ctx, u)
	if err != nil {
		return nil, err
	}
	s.log.Debug().Uint64("user_id", u.ID).Uint64("old_token_id", tok.ID).Uint64("new_token_id", sess.Refresh.Token.ID).Msg("refresh token rotated")
	return sess, nil
}

func (s *AuthService) openSession(ctx context.Context, u *model.User) (*Session, error) {
	at, err := s.issuer.IssueAccessToken(u.Username, s.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	rt, err := s.ledger.Create(ctx, u.ID, s.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Access: at, Refresh: rt}, nil
}

// Logout revokes value if it is still active. It never fails: an unknown
// or dead token is fine, and store errors are logged only.
func (s *AuthService) Logout(ctx context.Context, value string) {
	defer s.metrics.Auth("logout", true)
	if value == "" {
		return
	}
	tok, err := s.ledger.GetActive(ctx, value)
	if err != nil {
		if !errors.Is(err, ErrTokenNotFound) {
			s.log.Error().Err(err).Msg("logout: token lookup failed")
		}
		return
	}
	if err := s.ledger.Revoke(ctx, tok); err != nil {
		s.log.Error().Err(err).Uint64("token_id", tok.ID).Msg("logout: revoke failed")
		return
	}
	s.log.Info().Uint64("user_id", tok.UserID).Msg("logout")
}

// CurrentUser resolves a bearer access token to an active user.
func (s *AuthService) CurrentUser(ctx context.Context, accessToken string) (*model.User, error) {
	sub, err := s.issuer.VerifyAccessToken(accessToken)
	if err != nil {
		s.log.Debug().Err(err).Msg("access token rejected")
		return nil, ErrInvalidCredentials
	}
	u, err := s.users.GetByUsername(ctx, sub)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// LogoutEverywhere revokes every active refresh token of userID.
func (s *AuthService) LogoutEverywhere(ctx context.Context, userID uint64) (int64, error) {
	n, err := s.ledger.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.log.Info().Uint64("user_id", userID).Int64("revoked", n).Msg("all sessions revoked")
	publish(ctx, s.events, s.log, queue.Event{Type: queue.EventSessionsRevoked, UserID: userID, Count: n, OccurredAt: time.Now().UTC()})
	return n, nil
}
