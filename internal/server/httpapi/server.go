// Package httpapi exposes the session operations over HTTP with chi: login,
// refresh, logout and verify, plus admin routes behind the role gate.
package httpapi

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/hostauth/internal/logging"
	"github.com/dmitrijs2005/hostauth/internal/server/metrics"
	"github.com/dmitrijs2005/hostauth/internal/server/models"
	"github.com/dmitrijs2005/hostauth/internal/server/services"
)

// Sessions is the session service as seen by the HTTP layer.
type Sessions interface {
	Login(ctx context.Context, username, password string) (*services.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Logout(ctx context.Context, refreshToken string, p models.Principal) error
	Authenticate(ctx context.Context, accessToken string) (models.Principal, error)
	RevokeAll(ctx context.Context, ownerID string) (int64, error)
}

// Accounts creates accounts for the admin endpoint.
type Accounts interface {
	Register(ctx context.Context, username, email, password string, roles []string) (*models.User, []string, error)
}

// Deps are the collaborators of a Server. Health may be nil.
type Deps struct {
	Sessions Sessions
	Accounts Accounts
	Logger   logging.Logger
	Metrics  *metrics.Metrics
	Health   func(ctx context.Context) error
}

// Server holds the HTTP handlers.
type Server struct {
	sessions Sessions
	accounts Accounts
	log      logging.Logger
	metrics  *metrics.Metrics
	health   func(ctx context.Context) error
}

// New builds a Server.
func New(deps Deps) *Server {
	s := &Server{
		sessions: deps.Sessions,
		accounts: deps.Accounts,
		log:      deps.Logger,
		metrics:  deps.Metrics,
		health:   deps.Health,
	}
	if s.log == nil {
		s.log = logging.Nop{}
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

// Handler returns the routed handler with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}
