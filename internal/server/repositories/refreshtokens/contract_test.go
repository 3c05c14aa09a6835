package refreshtokens

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/hostauth/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ctT0 is a whole-microsecond instant so every backend round-trips it exactly.
var ctT0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

const ctTTL = 7 * 24 * time.Hour

type repoFactory func(t *testing.T) Repository

// runRepositoryContract exercises behaviour every Repository must share.
func runRepositoryContract(t *testing.T, newRepo repoFactory) {
	ctx := context.Background()

	t.Run("create then find", func(t *testing.T) {
		r := newRepo(t)
		tok, err := r.Create(ctx, "u1", ctT0)
		require.NoError(t, err)
		assert.Len(t, tok.Token, 2*TokenBytes)

		got, err := r.FindActive(ctx, tok.Token, ctT0.Add(time.Minute))
		require.NoError(t, err)
		require.True(t, got.Found)
		assert.Equal(t, "u1", got.Token.OwnerID)
		assert.Equal(t, tok.TokenHash, got.Token.TokenHash)
		assert.Equal(t, ctT0.Add(ctTTL), got.Token.ExpiresAt)
		assert.Empty(t, got.Token.Token, "stored records carry no raw value")
	})

	t.Run("unknown token", func(t *testing.T) {
		r := newRepo(t)
		got, err := r.FindActive(ctx, "nope", ctT0)
		require.NoError(t, err)
		assert.False(t, got.Found)

		_, err = r.Inspect(ctx, "nope")
		require.ErrorIs(t, err, common.ErrorNotFound)
	})

	t.Run("expired token is not found", func(t *testing.T) {
		r := newRepo(t)
		tok, err := r.Create(ctx, "u1", ctT0)
		require.NoError(t, err)

		got, err := r.FindActive(ctx, tok.Token, ctT0.Add(ctTTL-time.Second))
		require.NoError(t, err)
		assert.True(t, got.Found)

		got, err = r.FindActive(ctx, tok.Token, ctT0.Add(ctTTL))
		require.NoError(t, err)
		assert.False(t, got.Found)

		_, err = r.Rotate(ctx, tok.Token, "u1", ctT0.Add(ctTTL))
		require.ErrorIs(t, err, common.ErrInvalidToken)
	})

	t.Run("rotate links successor", func(t *testing.T) {
		r := newRepo(t)
		old, err := r.Create(ctx, "u1", ctT0)
		require.NoError(t, err)

		later := ctT0.Add(time.Hour)
		next, err := r.Rotate(ctx, old.Token, "u1", later)
		require.NoError(t, err)
		assert.NotEqual(t, old.Token, next.Token)
		assert.Equal(t, later.Add(ctTTL), next.ExpiresAt)

		lookup, err := r.FindActive(ctx, old.Token, later)
		require.NoError(t, err)
		assert.False(t, lookup.Found)

		rec, err := r.Inspect(ctx, old.Token)
		require.NoError(t, err)
		assert.True(t, rec.Revoked)
		require.NotNil(t, rec.RevokedAt)
		assert.Equal(t, later, *rec.RevokedAt)
		require.NotNil(t, rec.ReplacedBy)
		assert.Equal(t, next.TokenHash, *rec.ReplacedBy)

		succ, err := r.Inspect(ctx, next.Token)
		require.NoError(t, err)
		assert.False(t, succ.Revoked)
		assert.Nil(t, succ.ReplacedBy)

		_, err = r.Rotate(ctx, old.Token, "u1", later)
		require.ErrorIs(t, err, common.ErrInvalidToken)
	})

	t.Run("rotate rejects foreign owner", func(t *testing.T) {
		r := newRepo(t)
		tok, err := r.Create(ctx, "u1", ctT0)
		require.NoError(t, err)

		_, err = r.Rotate(ctx, tok.Token, "u2", ctT0)
		require.ErrorIs(t, err, common.ErrInvalidToken)

		got, err := r.FindActive(ctx, tok.Token, ctT0)
		require.NoError(t, err)
		assert.True(t, got.Found, "failed rotation must not mutate")
	})

	t.Run("concurrent rotation has one winner", func(t *testing.T) {
		r := newRepo(t)
		tok, err := r.Create(ctx, "u1", ctT0)
		require.NoError(t, err)

		const n = 16
		var (
			wg      sync.WaitGroup
			wins    atomic.Int32
			invalid atomic.Int32
			winner  atomic.Value
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				next, err := r.Rotate(ctx, tok.Token, "u1", ctT0.Add(time.Second))
				switch {
				case err == nil:
					wins.Add(1)
					winner.Store(next.Token)
				case errors.Is(err, common.ErrInvalidToken):
					invalid.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 1, wins.Load())
		assert.EqualValues(t, n-1, invalid.Load())

		got, err := r.FindActive(ctx, winner.Load().(string), ctT0.Add(time.Second))
		require.NoError(t, err)
		assert.True(t, got.Found)
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		r := newRepo(t)
		tok, err := r.Create(ctx, "u1", ctT0)
		require.NoError(t, err)

		require.NoError(t, r.Revoke(ctx, tok.Token, ctT0.Add(time.Minute)))
		require.NoError(t, r.Revoke(ctx, tok.Token, ctT0.Add(2*time.Minute)))

		rec, err := r.Inspect(ctx, tok.Token)
		require.NoError(t, err)
		require.NotNil(t, rec.RevokedAt)
		assert.Equal(t, ctT0.Add(time.Minute), *rec.RevokedAt)

		require.ErrorIs(t, r.Revoke(ctx, "never-issued", ctT0), common.ErrorNotFound)
	})

	t.Run("revoke all for owner", func(t *testing.T) {
		r := newRepo(t)
		a, err := r.Create(ctx, "u1", ctT0)
		require.NoError(t, err)
		b, err := r.Create(ctx, "u1", ctT0)
		require.NoError(t, err)
		other, err := r.Create(ctx, "u2", ctT0)
		require.NoError(t, err)
		require.NoError(t, r.Revoke(ctx, b.Token, ctT0))

		n, err := r.RevokeAllForOwner(ctx, "u1", ctT0.Add(time.Minute))
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		got, err := r.FindActive(ctx, a.Token, ctT0.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, got.Found)

		got, err = r.FindActive(ctx, other.Token, ctT0.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, got.Found)
	})

	t.Run("revoke lineage", func(t *testing.T) {
		r := newRepo(t)
		first, err := r.Create(ctx, "u1", ctT0)
		require.NoError(t, err)
		second, err := r.Rotate(ctx, first.Token, "u1", ctT0.Add(time.Minute))
		require.NoError(t, err)
		third, err := r.Rotate(ctx, second.Token, "u1", ctT0.Add(2*time.Minute))
		require.NoError(t, err)

		n, err := r.RevokeLineage(ctx, first.Token, ctT0.Add(3*time.Minute))
		require.NoError(t, err)
		assert.EqualValues(t, 1, n, "only the live tail is changed")

		got, err := r.FindActive(ctx, third.Token, ctT0.Add(3*time.Minute))
		require.NoError(t, err)
		assert.False(t, got.Found)
	})
}
