// Package refreshtokens declares the server-side contract for storing,
// rotating and revoking refresh tokens, with Postgres, Redis and in-memory
// implementations.
package refreshtokens

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/hostauth/internal/common"
	"github.com/dmitrijs2005/hostauth/internal/cryptox"
	"github.com/dmitrijs2005/hostauth/internal/server/models"
	"github.com/google/uuid"
)

// TokenBytes is the entropy of a refresh token value (256 bits).
const TokenBytes = 32

// Lookup is the result of FindActive. Token is nil unless Found.
type Lookup struct {
	Token *models.RefreshToken
	Found bool
}

// Repository defines operations for issuing, looking up, rotating and
// revoking refresh tokens. Raw token values are never persisted; every
// implementation keys records by cryptox.HashToken(token).
type Repository interface {
	// Create stores a fresh token for ownerID valid until now+ttl. The returned
	// record is the only place the raw value appears.
	Create(ctx context.Context, ownerID string, now time.Time) (*models.RefreshToken, error)

	// FindActive reports whether token exists, is not revoked and has not
	// expired at now. Errors are storage failures only.
	FindActive(ctx context.Context, token string, now time.Time) (Lookup, error)

	// Rotate atomically revokes oldToken (which must be active and owned by
	// ownerID) and stores its successor. When the precondition does not hold
	// it returns common.ErrInvalidToken and changes nothing.
	Rotate(ctx context.Context, oldToken, ownerID string, now time.Time) (*models.RefreshToken, error)

	// Revoke marks token revoked. Revoking an already revoked token succeeds;
	// common.ErrorNotFound is returned only for unknown tokens.
	Revoke(ctx context.Context, token string, now time.Time) error

	// RevokeAllForOwner revokes every active token of ownerID and returns how
	// many were changed.
	RevokeAllForOwner(ctx context.Context, ownerID string, now time.Time) (int64, error)

	// RevokeLineage revokes token and every successor reachable through
	// ReplacedBy.
	RevokeLineage(ctx context.Context, token string, now time.Time) (int64, error)

	// Inspect returns the raw record regardless of state, or
	// common.ErrorNotFound.
	Inspect(ctx context.Context, token string) (*models.RefreshToken, error)

	// DeleteExpired removes records that expired at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// newToken builds an unsaved active record for ownerID.
func newToken(ownerID string, now time.Time, ttl time.Duration) (*models.RefreshToken, error) {
	raw, err := common.MakeRandHexString(TokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generating refresh token: %w", err)
	}
	return &models.RefreshToken{
		ID:        uuid.NewString(),
		Token:     raw,
		TokenHash: cryptox.HashToken(raw),
		OwnerID:   ownerID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}
