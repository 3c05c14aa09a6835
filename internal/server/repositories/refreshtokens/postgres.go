package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/hostauth/internal/common"
	"github.com/dmitrijs2005/hostauth/internal/cryptox"
	"github.com/dmitrijs2005/hostauth/internal/dbx"
	"github.com/dmitrijs2005/hostauth/internal/server/models"
)

// PostgresRepository stores refresh tokens in the refresh_tokens table over
// dbx.DBTX (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db  dbx.DBTX
	ttl time.Duration
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
// ttl is the lifetime of every token it creates.
func NewPostgresRepository(db dbx.DBTX, ttl time.Duration) *PostgresRepository {
	return &PostgresRepository{db: db, ttl: ttl}
}

const selectColumns = `id, token_hash, owner_id, issued_at, expires_at, revoked, revoked_at, replaced_by`

// Create inserts a new active token for ownerID.
func (r *PostgresRepository) Create(ctx context.Context, ownerID string, now time.Time) (*models.RefreshToken, error) {
	t, err := newToken(ownerID, now, r.ttl)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO refresh_tokens (id, token_hash, owner_id, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query, t.ID, t.TokenHash, t.OwnerID, t.IssuedAt, t.ExpiresAt); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

// FindActive looks the token up by hash, filtering revoked and expired rows
// in the query itself.
func (r *PostgresRepository) FindActive(ctx context.Context, token string, now time.Time) (Lookup, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM refresh_tokens
		WHERE token_hash = $1 AND revoked = FALSE AND expires_at > $2
	`
	t, err := scanToken(r.db.QueryRowContext(ctx, query, cryptox.HashToken(token), now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lookup{}, nil
		}
		return Lookup{}, fmt.Errorf("db error: %w", err)
	}
	return Lookup{Token: t, Found: true}, nil
}

// Rotate runs the check, the revocation and the successor insert as one
// statement. Concurrent callers serialise on the old row's lock; after the
// first commits, the others re-evaluate the WHERE clause, match nothing and
// insert nothing.
func (r *PostgresRepository) Rotate(ctx context.Context, oldToken, ownerID string, now time.Time) (*models.RefreshToken, error) {
	next, err := newToken(ownerID, now, r.ttl)
	if err != nil {
		return nil, err
	}

	query := `
		WITH old AS (
			UPDATE refresh_tokens
			SET revoked = TRUE, revoked_at = $3, replaced_by = $5
			WHERE token_hash = $1 AND owner_id = $2 AND revoked = FALSE AND expires_at > $3
			RETURNING owner_id
		)
		INSERT INTO refresh_tokens (id, token_hash, owner_id, issued_at, expires_at)
		SELECT $4, $5, owner_id, $3, $6 FROM old
		RETURNING id
	`
	var id string
	err = r.db.QueryRowContext(ctx, query,
		cryptox.HashToken(oldToken), ownerID, now, next.ID, next.TokenHash, next.ExpiresAt).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return next, nil
}

// Revoke marks the token revoked, keeping the first revocation time.
func (r *PostgresRepository) Revoke(ctx context.Context, token string, now time.Time) error {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = COALESCE(revoked_at, $2)
		WHERE token_hash = $1
	`
	res, err := r.db.ExecContext(ctx, query, cryptox.HashToken(token), now)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// RevokeAllForOwner revokes every active token of ownerID.
func (r *PostgresRepository) RevokeAllForOwner(ctx context.Context, ownerID string, now time.Time) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE owner_id = $1 AND revoked = FALSE AND expires_at > $2
	`
	return r.execCount(ctx, query, ownerID, now)
}

// RevokeLineage walks replaced_by from token and revokes the live part of
// the chain.
func (r *PostgresRepository) RevokeLineage(ctx context.Context, token string, now time.Time) (int64, error) {
	query := `
		WITH RECURSIVE chain AS (
			SELECT token_hash, replaced_by FROM refresh_tokens WHERE token_hash = $1
			UNION ALL
			SELECT t.token_hash, t.replaced_by
			FROM refresh_tokens t JOIN chain c ON t.token_hash = c.replaced_by
		)
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE revoked = FALSE AND token_hash IN (SELECT token_hash FROM chain)
	`
	return r.execCount(ctx, query, cryptox.HashToken(token), now)
}

// Inspect returns the record whatever its state.
func (r *PostgresRepository) Inspect(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM refresh_tokens
		WHERE token_hash = $1
	`
	t, err := scanToken(r.db.QueryRowContext(ctx, query, cryptox.HashToken(token)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

// DeleteExpired removes rows past their expiry.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE expires_at <= $1
	`
	return r.execCount(ctx, query, now)
}

func (r *PostgresRepository) execCount(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func scanToken(row *sql.Row) (*models.RefreshToken, error) {
	var (
		t          models.RefreshToken
		revokedAt  sql.NullTime
		replacedBy sql.NullString
	)
	if err := row.Scan(&t.ID, &t.TokenHash, &t.OwnerID, &t.IssuedAt, &t.ExpiresAt, &t.Revoked, &revokedAt, &replacedBy); err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		at := revokedAt.Time
		t.RevokedAt = &at
	}
	if replacedBy.Valid {
		s := replacedBy.String
		t.ReplacedBy = &s
	}
	return &t, nil
}
