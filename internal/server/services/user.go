// Package services contains server-side business logic: the user directory
// that verifies credentials and resolves principals, and the session service
// that issues, rotates and revokes tokens.
package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dmitrijs2005/hostauth/internal/common"
	"github.com/dmitrijs2005/hostauth/internal/cryptox"
	"github.com/dmitrijs2005/hostauth/internal/server/models"
	"github.com/dmitrijs2005/hostauth/internal/server/repositories/users"
)

// CredentialVerifier is what the session service needs from the account
// store.
type CredentialVerifier interface {
	// VerifyCredentials returns the principal for a correct username and
	// password of an active account, and common.ErrInvalidCredentials for
	// every other input.
	VerifyCredentials(ctx context.Context, username, password string) (models.Principal, error)
	// LookupPrincipal loads the account by id with its current roles.
	// Unknown ids yield common.ErrorNotFound.
	LookupPrincipal(ctx context.Context, id string) (models.Principal, error)
	GetRolesFor(ctx context.Context, id string) ([]string, error)
}

// DefaultRoles are assigned when an account is registered without roles.
var DefaultRoles = []string{models.RoleCustomer}

// UserDirectory implements CredentialVerifier over a users.Repository.
type UserDirectory struct {
	users  users.Repository
	params cryptox.Argon2Params
	// dummyHash is verified for unknown usernames so that the response time
	// does not reveal whether an account exists.
	dummyHash string
}

// NewUserDirectory builds a directory hashing new passwords with params.
func NewUserDirectory(repo users.Repository, params cryptox.Argon2Params) *UserDirectory {
	return &UserDirectory{
		users:     repo,
		params:    params,
		dummyHash: cryptox.HashPassword(common.GenerateRandByteArray(16), params),
	}
}

func (d *UserDirectory) VerifyCredentials(ctx context.Context, username, password string) (models.Principal, error) {
	user, err := d.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_, _ = cryptox.VerifyPassword([]byte(password), d.dummyHash)
			return models.Principal{}, common.ErrInvalidCredentials
		}
		return models.Principal{}, fmt.Errorf("%w: loading user: %v", common.ErrorInternal, err)
	}

	ok, err := cryptox.VerifyPassword([]byte(password), user.PasswordHash)
	if err != nil {
		// An unreadable stored hash cannot match anything.
		return models.Principal{}, common.ErrInvalidCredentials
	}
	if !ok || !user.IsActive {
		return models.Principal{}, common.ErrInvalidCredentials
	}

	return d.principal(ctx, user)
}

func (d *UserDirectory) LookupPrincipal(ctx context.Context, id string) (models.Principal, error) {
	user, err := d.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return models.Principal{}, common.ErrorNotFound
		}
		return models.Principal{}, fmt.Errorf("%w: loading user: %v", common.ErrorInternal, err)
	}
	return d.principal(ctx, user)
}

func (d *UserDirectory) GetRolesFor(ctx context.Context, id string) ([]string, error) {
	roles, err := d.users.GetRoles(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: loading roles: %v", common.ErrorInternal, err)
	}
	return roles, nil
}

// Register creates an active account. Roles must be known role names;
// an empty list means DefaultRoles.
func (d *UserDirectory) Register(ctx context.Context, username, email, password string, roles []string) (*models.User, []string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, nil, common.ErrMissingInput
	}
	if len(roles) == 0 {
		roles = DefaultRoles
	}
	for _, r := range roles {
		if !models.IsKnownRole(r) {
			return nil, nil, fmt.Errorf("%w: unknown role %q", common.ErrMissingInput, r)
		}
	}

	user := &models.User{
		UserName:     username,
		Email:        strings.TrimSpace(email),
		PasswordHash: cryptox.HashPassword([]byte(password), d.params),
		IsActive:     true,
	}
	created, err := d.users.Create(ctx, user, roles)
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return nil, nil, common.ErrAlreadyExists
		}
		return nil, nil, fmt.Errorf("%w: creating user: %v", common.ErrorInternal, err)
	}

	assigned := slices.Clone(roles)
	slices.Sort(assigned)
	return created, slices.Compact(assigned), nil
}

func (d *UserDirectory) principal(ctx context.Context, user *models.User) (models.Principal, error) {
	roles, err := d.GetRolesFor(ctx, user.ID)
	if err != nil {
		return models.Principal{}, err
	}
	return models.Principal{
		ID:       user.ID,
		UserName: user.UserName,
		Email:    user.Email,
		Roles:    roles,
		IsActive: user.IsActive,
	}, nil
}
