package models

import "time"

// RefreshToken is a server-tracked refresh credential.
//
// Token holds the raw value and is only populated on the record returned by
// Create or Rotate; stores persist TokenHash. ReplacedBy is the hash of the
// successor once the record has been rotated. ExpiresAt is fixed at creation.
type RefreshToken struct {
	ID         string
	Token      string
	TokenHash  string
	OwnerID    string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Revoked    bool
	RevokedAt  *time.Time
	ReplacedBy *string
}

// ActiveAt reports whether the record may still be used for a refresh at now.
func (t *RefreshToken) ActiveAt(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
