package utils // package utils provides helpers for token creation and hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrTokenExpired is returned when an access token is past its exp claim.
	ErrTokenExpired = errors.New("access token expired")
	// ErrTokenInvalid covers bad signatures, malformed tokens and bad claims.
	ErrTokenInvalid = errors.New("access token invalid")
)

// refreshValueBytes is the amount of randomness in a refresh token value.
const refreshValueBytes = 64

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// TokenIssuer mints HS256 access tokens and opaque refresh token values.
// The signing secret never leaves the issuer.
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

// IssuerOption customizes a TokenIssuer.
type IssuerOption func(*TokenIssuer)

// WithClock replaces the issuer's time source.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *TokenIssuer) { i.now = now }
}

// NewTokenIssuer builds an issuer signing with secret.
func NewTokenIssuer(secret string, opts ...IssuerOption) *TokenIssuer {
	i := &TokenIssuer{secret: []byte(secret), now: time.Now}
	for _, o := range opts {
		o(i)
	}
	return i
}

// IssueAccessToken builds and signs an HS256 JWT for subject that is valid
// for ttl. The jti claim makes every token unique, even for the same
// subject within the same second.
func (i *TokenIssuer) IssueAccessToken(subject string, ttl time.Duration) (AccessToken, error) {
	now := i.now().UTC()
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// VerifyAccessToken checks signature and expiry and returns the subject.
// It fails with ErrTokenExpired or ErrTokenInvalid.
func (i *TokenIssuer) VerifyAccessToken(raw string) (string, error) {
	if raw == "" {
		return "", ErrTokenInvalid
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	claims := &jwt.RegisteredClaims{}
	tok, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrTokenInvalid
	}
	if !tok.Valid || claims.Subject == "" {
		return "", ErrTokenInvalid
	}
	return claims.Subject, nil
}

// GenerateRefreshValue returns a cryptographically secure random token,
// URL-safe base64 encoded without padding.
func (i *TokenIssuer) GenerateRefreshValue() (string, error) {
	buf := make([]byte, refreshValueBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashRefreshRaw returns the SHA‑256 hash of the raw refresh token as a hex
// string. Only the hash is persisted.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
