package model

import "strings"

// Role is the authorization level of a user.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleUser    Role = "user"
)

// rank orders roles from least to most privileged. Unknown roles rank 0 and
// are never allowed anything.
var rank = map[Role]int{
	RoleUser:    1,
	RoleManager: 2,
	RoleAdmin:   3,
}

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	_, ok := rank[r]
	return r, ok
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := rank[r]
	return ok
}

// Allow is the single authorization policy: a user holding role have may
// perform an action that requires role need when have ranks at least as
// high as need.
func Allow(have, need Role) bool {
	h, ok := rank[have]
	if !ok {
		return false
	}
	n, ok := rank[need]
	if !ok {
		return false
	}
	return h >= n
}
