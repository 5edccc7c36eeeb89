package model

import "time"

// User represents an account record as stored in the `users` table.
// Handlers never serialize this struct directly because it carries the
// password hash; they convert it to a response DTO instead.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Username     – unique login name, also the access token subject.
//	Email        – unique email address (stored lower-cased).
//	PasswordHash – bcrypt hash of the password.
//	Role         – one of admin, manager, user.
//	IsActive     – inactive users cannot log in or refresh.
//	CreatedAt    – timestamp of creation.
//	UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64    // users.id
	Username     string    // users.username
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	Role         Role      // users.role
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// UserUpdate carries the optional fields an administrator may change.
// A nil pointer leaves the column untouched.
type UserUpdate struct {
	Username *string
	Email    *string
	Role     *Role
	IsActive *bool
}

// Empty reports whether the update changes nothing.
func (u UserUpdate) Empty() bool {
	return u.Username == nil && u.Email == nil && u.Role == nil && u.IsActive == nil
}
