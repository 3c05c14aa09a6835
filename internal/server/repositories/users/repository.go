// Package users stores accounts and their role assignments.
package users

import (
	"context"

	"github.com/dmitrijs2005/hostauth/internal/server/models"
)

// Repository is the account store behind the credential verifier.
type Repository interface {
	// Create inserts user together with its roles. A taken username yields
	// common.ErrAlreadyExists.
	Create(ctx context.Context, user *models.User, roles []string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	// GetRoles returns the current role names of the account, sorted.
	GetRoles(ctx context.Context, userID string) ([]string, error)
	Count(ctx context.Context) (int64, error)
}
