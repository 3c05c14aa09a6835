package services

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/hostauth/internal/common"
	"github.com/dmitrijs2005/hostauth/internal/server/models"
	"github.com/dmitrijs2005/hostauth/internal/server/repositories/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

// brokenUsers fails every read.
type brokenUsers struct{ users.Repository }

func (brokenUsers) GetByUsername(context.Context, string) (*models.User, error) { return nil, errBoom{} }
func (brokenUsers) GetByID(context.Context, string) (*models.User, error)       { return nil, errBoom{} }

func TestRegister(t *testing.T) {
	repo := users.NewMemoryRepository()
	dir := NewUserDirectory(repo, cheapParams)
	ctx := context.Background()

	u, roles, err := dir.Register(ctx, "  alice ", "alice@example.com", "pw", []string{models.RoleSales, models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, "alice", u.UserName)
	assert.Equal(t, []string{models.RoleAdmin, models.RoleSales}, roles)
	assert.NotContains(t, u.PasswordHash, "pw")

	_, _, err = dir.Register(ctx, "alice", "", "pw2", nil)
	require.ErrorIs(t, err, common.ErrAlreadyExists)

	_, roles, err = dir.Register(ctx, "bob", "", "pw", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultRoles, roles)

	_, _, err = dir.Register(ctx, "carol", "", "pw", []string{"Root"})
	require.ErrorIs(t, err, common.ErrMissingInput)

	_, _, err = dir.Register(ctx, " ", "", "pw", nil)
	require.ErrorIs(t, err, common.ErrMissingInput)
}

func TestVerifyCredentials(t *testing.T) {
	repo := users.NewMemoryRepository()
	dir := NewUserDirectory(repo, cheapParams)
	ctx := context.Background()

	u, _, err := dir.Register(ctx, "alice", "alice@example.com", "s3cret", []string{models.RoleSupport})
	require.NoError(t, err)

	p, err := dir.VerifyCredentials(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, models.Principal{
		ID: u.ID, UserName: "alice", Email: "alice@example.com",
		Roles: []string{models.RoleSupport}, IsActive: true,
	}, p)

	_, err = dir.VerifyCredentials(ctx, "alice", "wrong")
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
	_, err = dir.VerifyCredentials(ctx, "nobody", "s3cret")
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestVerifyCredentials_LegacyBcrypt(t *testing.T) {
	repo := users.NewMemoryRepository()
	dir := NewUserDirectory(repo, cheapParams)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("legacy"), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = repo.Create(ctx, &models.User{UserName: "old", PasswordHash: string(hash), IsActive: true}, []string{models.RoleCustomer})
	require.NoError(t, err)

	p, err := dir.VerifyCredentials(ctx, "old", "legacy")
	require.NoError(t, err)
	assert.Equal(t, []string{models.RoleCustomer}, p.Roles)
}

func TestVerifyCredentials_UnreadableHash(t *testing.T) {
	repo := users.NewMemoryRepository()
	dir := NewUserDirectory(repo, cheapParams)
	ctx := context.Background()

	_, err := repo.Create(ctx, &models.User{UserName: "odd", PasswordHash: "plaintext", IsActive: true}, nil)
	require.NoError(t, err)

	_, err = dir.VerifyCredentials(ctx, "odd", "plaintext")
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestDirectory_StorageErrorsAreInternal(t *testing.T) {
	dir := NewUserDirectory(brokenUsers{}, cheapParams)

	_, err := dir.VerifyCredentials(context.Background(), "alice", "pw")
	require.ErrorIs(t, err, common.ErrorInternal)
	assert.False(t, errors.Is(err, common.ErrInvalidCredentials))

	_, err = dir.LookupPrincipal(context.Background(), "id")
	require.ErrorIs(t, err, common.ErrorInternal)
}

func TestLookupPrincipal(t *testing.T) {
	repo := users.NewMemoryRepository()
	dir := NewUserDirectory(repo, cheapParams)
	ctx := context.Background()

	u, _, err := dir.Register(ctx, "alice", "", "pw", []string{models.RoleAdmin})
	require.NoError(t, err)

	p, err := dir.LookupPrincipal(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{models.RoleAdmin}, p.Roles)

	roles, err := dir.GetRolesFor(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{models.RoleAdmin}, roles)

	_, err = dir.LookupPrincipal(ctx, "missing")
	require.ErrorIs(t, err, common.ErrorNotFound)
}
