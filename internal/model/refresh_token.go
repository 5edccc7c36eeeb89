package model

import "time"

// RefreshToken models an entry in the `refresh_tokens` table. Each refresh
// token belongs to a user and contains metadata for expiry and revocation.
// The plain token value is not stored; only its SHA‑256 hash.
//
// Fields:
//
//	ID        – primary key identifier.
//	UserID    – owner of the token.
//	TokenHash – SHA‑256 hex digest of the token value.
//	CreatedAt – timestamp of creation.
//	ExpiresAt – expiration timestamp of the token.
//	RevokedAt – when the token was revoked (nil while still usable).
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	CreatedAt time.Time  // refresh_tokens.created_at
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
}

// ActiveAt reports whether the token is usable at instant now: it has not
// been revoked and now is strictly before its expiry.
func (t RefreshToken) ActiveAt(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
