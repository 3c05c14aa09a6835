package models

import "time"

// Role names recognised by the authorization gate.
const (
	RoleAdmin    = "Admin"
	RoleSupport  = "Support"
	RoleSales    = "Sales"
	RoleCustomer = "Customer"
)

// KnownRoles lists every role that may be assigned to an account.
var KnownRoles = []string{RoleAdmin, RoleSupport, RoleSales, RoleCustomer}

// IsKnownRole reports whether r is one of KnownRoles.
func IsKnownRole(r string) bool {
	for _, k := range KnownRoles {
		if k == r {
			return true
		}
	}
	return false
}

// User is an account row. PasswordHash is never serialised.
type User struct {
	ID           string
	UserName     string
	Email        string
	PasswordHash string `json:"-"`
	IsActive     bool
	CreatedAt    time.Time
}
