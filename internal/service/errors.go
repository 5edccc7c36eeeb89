package service

import "errors"

// Sentinel errors returned by the services. Handlers map each one to a
// single HTTP status; wrapped causes stay in the logs.
var (
	ErrValidation            = errors.New("validation failed")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired refresh token")
	ErrUsernameTaken         = errors.New("username already taken")
	ErrEmailTaken            = errors.New("email already registered")
	ErrNotFound              = errors.New("not found")
	ErrForbidden             = errors.New("forbidden")
	ErrSelfDelete            = errors.New("administrators cannot delete their own account")
	ErrWrongPassword         = errors.New("incorrect current password")
	ErrPasswordMismatch      = errors.New("new password and confirmation do not match")

	// ErrTokenNotFound covers absent, revoked and expired refresh tokens
	// alike so callers cannot probe a token's lifecycle state.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrTokenCollision means a freshly generated value hashed onto an
	// existing row. The existing row is never overwritten.
	ErrTokenCollision = errors.New("refresh token collision")
)
