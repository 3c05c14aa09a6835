package models

import (
	"slices"
	"time"
)

// Principal is the authenticated identity as this service sees it.
type Principal struct {
	ID       string
	UserName string
	Email    string
	Roles    []string
	IsActive bool
}

// HasAnyRole reports whether the principal holds at least one of roles.
func (p Principal) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if slices.Contains(p.Roles, r) {
			return true
		}
	}
	return false
}

// AccessToken is a signed bearer credential together with the claims that
// went into it. It is never stored server-side.
type AccessToken struct {
	Token     string
	SubjectID string
	UserName  string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
