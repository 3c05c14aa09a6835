package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/hostauth/internal/common"
	"github.com/dmitrijs2005/hostauth/internal/logging"
	"github.com/dmitrijs2005/hostauth/internal/server/models"
	"github.com/dmitrijs2005/hostauth/internal/server/repositories/users"
)

// SeedAdmin creates the bootstrap Admin account when the user store is empty.
// A populated store or a concurrent seed is logged and otherwise ignored.
func SeedAdmin(ctx context.Context, dir *UserDirectory, repo users.Repository, username, password string, log logging.Logger) error {
	if username == "" || password == "" {
		log.Debug(ctx, "no bootstrap admin configured")
		return nil
	}

	n, err := repo.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting users: %w", err)
	}
	if n > 0 {
		log.Info(ctx, "user store already initialized, skipping admin seed", "users", n)
		return nil
	}

	u, _, err := dir.Register(ctx, username, "", password, []string{models.RoleAdmin})
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			log.Info(ctx, "bootstrap admin already exists", "username", username)
			return nil
		}
		return fmt.Errorf("seeding admin: %w", err)
	}

	log.Info(ctx, "bootstrap admin created", "user_id", u.ID, "username", u.UserName)
	return nil
}
