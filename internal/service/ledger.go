// Package service holds the business logic: the refresh token ledger,
// authentication, user management and file bookkeeping. Services depend on
// small store interfaces so the SQL repositories can be swapped in tests.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/filevault/internal/model"
	"github.com/iliyamo/filevault/internal/repository"
	"github.com/iliyamo/filevault/internal/utils"
)

// TokenStore is the persistence the ledger needs. *repository.TokenRepo
// implements it.
type TokenStore interface {
	Insert(ctx context.Context, userID uint64, tokenHash string, createdAt, expiresAt time.Time) (*model.RefreshToken, error)
	GetByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	RevokeIfActive(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	Revoke(ctx context.Context, tokenHash string, now time.Time) error
	RevokeAllForUser(ctx context.Context, userID uint64, now time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RefreshValueSource produces opaque refresh token values.
type RefreshValueSource interface {
	GenerateRefreshValue() (string, error)
}

// IssuedRefreshToken is a freshly created token. Value is the plaintext
// handed to the client; it exists only here and is never stored.
type IssuedRefreshToken struct {
	Value string
	Token *model.RefreshToken
}

// Ledger tracks the lifecycle of refresh tokens:
//
//	ACTIVE --revoke/consume--> REVOKED (terminal)
//	ACTIVE --time passes-----> EXPIRED (derived from expires_at)
//
// Only the SHA-256 hash of a value reaches the store.
type Ledger struct {
	store  TokenStore
	values RefreshValueSource
	now    func() time.Time
}

// NewLedger builds a ledger. A nil clock means time.Now.
func NewLedger(store TokenStore, values RefreshValueSource, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, values: values, now: now}
}

// Create mints a value for userID valid for ttl.
func (l *Ledger) Create(ctx context.Context, userID uint64, ttl time.Duration) (*IssuedRefreshToken, error) {
	value, err := l.values.GenerateRefreshValue()
	if err != nil {
		return nil, fmt.Errorf("generate refresh value: %w", err)
	}
	now := l.now()
	tok, err := l.store.Insert(ctx, userID, utils.HashRefreshRaw(value), now, now.Add(ttl))
	if errors.Is(err, repository.ErrConflict) {
		return nil, ErrTokenCollision
	}
	if err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return &IssuedRefreshToken{Value: value, Token: tok}, nil
}

// GetActive returns the token behind value only while it is active.
// Absent, revoked and expired tokens all yield ErrTokenNotFound.
func (l *Ledger) GetActive(ctx context.Context, value string) (*model.RefreshToken, error) {
	if value == "" {
		return nil, ErrTokenNotFound
	}
	tok, err := l.store.GetByHash(ctx, utils.HashRefreshRaw(value))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load refresh token: %w", err)
	}
	if !tok.ActiveAt(l.now().UTC().Truncate(time.Second)) {
		return nil, ErrTokenNotFound
	}
	return tok, nil
}

// Revoke marks tok revoked. Revoking an already revoked token is a no-op.
func (l *Ledger) Revoke(ctx context.Context, tok *model.RefreshToken) error {
	if tok == nil || tok.RevokedAt != nil {
		return nil
	}
	now := l.now().UTC().Truncate(time.Second)
	if err := l.store.Revoke(ctx, tok.TokenHash, now); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	tok.RevokedAt = &now
	return nil
}

// Consume atomically checks that value is active and revokes it. Of any
// number of concurrent calls with the same value at most one succeeds; the
// rest get ErrTokenNotFound. The returned record reflects the revocation.
func (l *Ledger) Consume(ctx context.Context, value string) (*model.RefreshToken, error) {
	if value == "" {
		return nil, ErrTokenNotFound
	}
	hash := utils.HashRefreshRaw(value)
	ok, err := l.store.RevokeIfActive(ctx, hash, l.now())
	if err != nil {
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}
	if !ok {
		return nil, ErrTokenNotFound
	}
	tok, err := l.store.GetByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("load consumed refresh token: %w", err)
	}
	return tok, nil
}

// RevokeAllForUser revokes every active token of userID and returns how
// many were revoked.
func (l *Ledger) RevokeAllForUser(ctx context.Context, userID uint64) (int64, error) {
	n, err := l.store.RevokeAllForUser(ctx, userID, l.now())
	if err != nil {
		return 0, fmt.Errorf("revoke all refresh tokens: %w", err)
	}
	return n, nil
}

// PurgeExpired deletes tokens past their expiry, revoked or not.
func (l *Ledger) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := l.store.DeleteExpired(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return n, nil
}
