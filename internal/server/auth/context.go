package auth

import (
	"context"

	"github.com/dmitrijs2005/hostauth/internal/server/models"
)

type ctxKey string

const principalKey ctxKey = "principal"

// WithPrincipal binds p to ctx for downstream handlers.
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal bound by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey).(models.Principal)
	return p, ok
}
