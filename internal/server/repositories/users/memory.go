package users

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/hostauth/internal/common"
	"github.com/dmitrijs2005/hostauth/internal/server/models"
	"github.com/google/uuid"
)

// MemoryRepository is a process-local account store for development mode
// and tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]*models.User
	byName map[string]string
	roles  map[string][]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*models.User),
		byName: make(map[string]string),
		roles:  make(map[string][]string),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, user *models.User, roles []string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[user.UserName]; taken {
		return nil, common.ErrAlreadyExists
	}

	user.ID = uuid.NewString()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	stored := *user
	r.byID[user.ID] = &stored
	r.byName[user.UserName] = user.ID

	assigned := slices.Clone(roles)
	slices.Sort(assigned)
	r.roles[user.ID] = slices.Compact(assigned)
	return user, nil
}

func (r *MemoryRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byName[username]
	if !ok {
		return nil, common.ErrorNotFound
	}
	u := *r.byID[id]
	return &u, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	found, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	u := *found
	return &u, nil
}

func (r *MemoryRepository) GetRoles(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := slices.Clone(r.roles[userID])
	if roles == nil {
		roles = []string{}
	}
	return roles, nil
}

func (r *MemoryRepository) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.byID)), nil
}

// SetActive flips the account's active flag. Used by tests to model a
// disabled account.
func (r *MemoryRepository) SetActive(id string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.IsActive = active
	}
}

// SetRoles replaces the account's roles.
func (r *MemoryRepository) SetRoles(id string, roles []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	assigned := slices.Clone(roles)
	slices.Sort(assigned)
	r.roles[id] = assigned
}
