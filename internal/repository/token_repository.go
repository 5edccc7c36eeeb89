package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/filevault/internal/model"
)

// TokenRepo persists refresh tokens (single 'token_hash' column). Every
// method takes the caller's notion of now so expiry is evaluated against one
// clock; times are stored in UTC at second precision.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

func dbTime(t time.Time) time.Time { return t.UTC().Truncate(time.Second) }

const tokenColumns = "id, user_id, token_hash, created_at, expires_at, revoked_at"

// Insert stores a new refresh token row. A duplicate hash returns
// ErrConflict and leaves the existing row untouched.
func (r *TokenRepo) Insert(ctx context.Context, userID uint64, tokenHash string, createdAt, expiresAt time.Time) (*model.RefreshToken, error) {
	createdAt, expiresAt = dbTime(createdAt), dbTime(expiresAt)
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, created_at, expires_at) VALUES (?,?,?,?)",
		userID, tokenHash, createdAt, expiresAt)
	if err != nil {
		if isDuplicate(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &model.RefreshToken{
		ID:        uint64(id),
		UserID:    userID,
		TokenHash: tokenHash,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// GetByHash loads a token row regardless of its state.
func (r *TokenRepo) GetByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	var (
		t         model.RefreshToken
		revokedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM refresh_tokens WHERE token_hash=? LIMIT 1",
		tokenHash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		ts := revokedAt.Time.UTC()
		t.RevokedAt = &ts
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	return &t, nil
}

// RevokeIfActive is the compare-and-revoke used for rotation: the row is
// revoked only if it is still unrevoked and unexpired at now. It reports
// whether this call performed the revocation.
func (r *TokenRepo) RevokeIfActive(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	now = dbTime(now)
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=? WHERE token_hash=? AND revoked_at IS NULL AND expires_at > ?",
		now, tokenHash, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Revoke marks a token as revoked. Already revoked rows keep their
// original timestamp.
func (r *TokenRepo) Revoke(ctx context.Context, tokenHash string, now time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=? WHERE token_hash=? AND revoked_at IS NULL",
		dbTime(now), tokenHash)
	return err
}

// RevokeAllForUser revokes all user's active tokens and returns how many
// rows changed.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64, now time.Time) (int64, error) {
	now = dbTime(now)
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=? WHERE user_id=? AND revoked_at IS NULL AND expires_at > ?",
		now, userID, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired removes every row whose expiry is at or before now,
// revoked or not.
func (r *TokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at <= ?", dbTime(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
