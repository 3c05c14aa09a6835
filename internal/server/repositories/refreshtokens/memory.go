package refreshtokens

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/hostauth/internal/common"
	"github.com/dmitrijs2005/hostauth/internal/cryptox"
	"github.com/dmitrijs2005/hostauth/internal/server/models"
)

// MemoryRepository keeps tokens in a map guarded by a single mutex. It is
// meant for development mode and tests; state is lost on restart.
type MemoryRepository struct {
	mu     sync.Mutex
	ttl    time.Duration
	byHash map[string]*models.RefreshToken
}

// NewMemoryRepository returns an empty store issuing tokens valid for ttl.
func NewMemoryRepository(ttl time.Duration) *MemoryRepository {
	return &MemoryRepository{ttl: ttl, byHash: make(map[string]*models.RefreshToken)}
}

func (r *MemoryRepository) Create(ctx context.Context, ownerID string, now time.Time) (*models.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := newToken(ownerID, now, r.ttl)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHash[t.TokenHash] = stored(t)
	return t, nil
}

func (r *MemoryRepository) FindActive(ctx context.Context, token string, now time.Time) (Lookup, error) {
	if err := ctx.Err(); err != nil {
		return Lookup{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byHash[cryptox.HashToken(token)]
	if !ok || !t.ActiveAt(now) {
		return Lookup{}, nil
	}
	return Lookup{Token: clone(t), Found: true}, nil
}

func (r *MemoryRepository) Rotate(ctx context.Context, oldToken, ownerID string, now time.Time) (*models.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	next, err := newToken(ownerID, now, r.ttl)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.byHash[cryptox.HashToken(oldToken)]
	if !ok || old.OwnerID != ownerID || !old.ActiveAt(now) {
		return nil, common.ErrInvalidToken
	}

	revokedAt := now
	successor := next.TokenHash
	old.Revoked = true
	old.RevokedAt = &revokedAt
	old.ReplacedBy = &successor
	r.byHash[next.TokenHash] = stored(next)
	return next, nil
}

func (r *MemoryRepository) Revoke(ctx context.Context, token string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byHash[cryptox.HashToken(token)]
	if !ok {
		return common.ErrorNotFound
	}
	revoke(t, now)
	return nil
}

func (r *MemoryRepository) RevokeAllForOwner(ctx context.Context, ownerID string, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, t := range r.byHash {
		if t.OwnerID == ownerID && t.ActiveAt(now) {
			revoke(t, now)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) RevokeLineage(ctx context.Context, token string, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	seen := make(map[string]bool)
	for hash := cryptox.HashToken(token); hash != "" && !seen[hash]; {
		seen[hash] = true
		t, ok := r.byHash[hash]
		if !ok {
			break
		}
		if !t.Revoked {
			revoke(t, now)
			n++
		}
		hash = ""
		if t.ReplacedBy != nil {
			hash = *t.ReplacedBy
		}
	}
	return n, nil
}

func (r *MemoryRepository) Inspect(ctx context.Context, token string) (*models.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byHash[cryptox.HashToken(token)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(t), nil
}

func (r *MemoryRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for hash, t := range r.byHash {
		if !now.Before(t.ExpiresAt) {
			delete(r.byHash, hash)
			n++
		}
	}
	return n, nil
}

func revoke(t *models.RefreshToken, now time.Time) {
	if t.Revoked {
		return
	}
	at := now
	t.Revoked = true
	t.RevokedAt = &at
}

// stored drops the raw value before a record is kept.
func stored(t *models.RefreshToken) *models.RefreshToken {
	c := clone(t)
	c.Token = ""
	return c
}

func clone(t *models.RefreshToken) *models.RefreshToken {
	c := *t
	if t.RevokedAt != nil {
		at := *t.RevokedAt
		c.RevokedAt = &at
	}
	if t.ReplacedBy != nil {
		s := *t.ReplacedBy
		c.ReplacedBy = &s
	}
	return &c
}
