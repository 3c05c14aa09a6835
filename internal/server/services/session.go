package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/hostauth/internal/common"
	"github.com/dmitrijs2005/hostauth/internal/logging"
	"github.com/dmitrijs2005/hostauth/internal/server/auth"
	"github.com/dmitrijs2005/hostauth/internal/server/events"
	"github.com/dmitrijs2005/hostauth/internal/server/metrics"
	"github.com/dmitrijs2005/hostauth/internal/server/models"
	"github.com/dmitrijs2005/hostauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/hostauth/internal/timex"
)

// TokenPair is what login and refresh hand back to the client.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	Username     string
	ExpiresAt    time.Time
	Roles        []string
}

// Session summarises a verified access token.
type Session struct {
	ID              string
	Username        string
	Roles           []string
	IsAuthenticated bool
}

// SessionOptions tunes the session service.
type SessionOptions struct {
	// RevokeLineageOnReuse revokes every successor of a rotated token that is
	// presented again. Off by default: two clients racing on the same token
	// would otherwise have the loser revoke the winner's new token.
	RevokeLineageOnReuse bool
}

// SessionService runs the login, refresh, logout and verify flows. Every
// operation reads "now" once from the injected clock.
type SessionService struct {
	verifier  CredentialVerifier
	tokens    refreshtokens.Repository
	codec     *auth.Codec
	clock     timex.Clock
	publisher events.Publisher
	log       logging.Logger
	metrics   *metrics.Metrics
	opts      SessionOptions
}

// NewSessionService wires the service. Nil publisher, logger or metrics are
// replaced with no-op equivalents.
func NewSessionService(
	verifier CredentialVerifier,
	tokens refreshtokens.Repository,
	codec *auth.Codec,
	clock timex.Clock,
	publisher events.Publisher,
	log logging.Logger,
	m *metrics.Metrics,
	opts SessionOptions,
) *SessionService {
	if clock == nil {
		clock = timex.SystemClock{}
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if log == nil {
		log = logging.Nop{}
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &SessionService{
		verifier:  verifier,
		tokens:    tokens,
		codec:     codec,
		clock:     clock,
		publisher: publisher,
		log:       log,
		metrics:   m,
		opts:      opts,
	}
}

// Login verifies credentials and opens a new session.
func (s *SessionService) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	if username == "" || password == "" {
		s.metrics.LoginAttempts.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, common.ErrMissingInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := s.verifier.VerifyCredentials(ctx, username, password)
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			s.metrics.LoginAttempts.WithLabelValues(metrics.OutcomeFailure).Inc()
			s.log.Info(ctx, "login failed", "username", username)
			return nil, common.ErrInvalidCredentials
		}
		s.metrics.LoginAttempts.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, s.internal(ctx, "verifying credentials", err)
	}

	now := s.clock.Now()
	access, err := s.codec.Issue(p, p.Roles, now)
	if err != nil {
		s.metrics.LoginAttempts.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, s.internal(ctx, "issuing access token", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	refresh, err := s.tokens.Create(ctx, p.ID, now)
	if err != nil {
		s.metrics.LoginAttempts.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, s.internal(ctx, "creating refresh token", err)
	}

	s.metrics.LoginAttempts.WithLabelValues(metrics.OutcomeSuccess).Inc()
	s.log.Info(ctx, "login succeeded", "user_id", p.ID)
	s.publish(ctx, events.TypeLogin, p.ID, now, map[string]any{"refreshTokenId": refresh.ID})

	return pair(access, refresh), nil
}

// Refresh rotates refreshToken and issues a new access token with the
// owner's current roles. Any failure before the rotation leaves the store
// untouched; if the rotation itself fails the freshly signed access token is
// discarded.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		s.metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, common.ErrMissingInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	lookup, err := s.tokens.FindActive(ctx, refreshToken, now)
	if err != nil {
		s.metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, s.internal(ctx, "looking up refresh token", err)
	}
	if !lookup.Found {
		s.metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeFailure).Inc()
		s.inspectReuse(ctx, refreshToken, now)
		return nil, common.ErrInvalidOrExpiredToken
	}
	ownerID := lookup.Token.OwnerID

	p, err := s.verifier.LookupPrincipal(ctx, ownerID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeFailure).Inc()
			s.log.Warn(ctx, "refresh token owner no longer exists", "user_id", ownerID)
			return nil, common.ErrInvalidOrExpiredToken
		}
		s.metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, s.internal(ctx, "loading token owner", err)
	}
	if !p.IsActive {
		s.metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeFailure).Inc()
		s.log.Info(ctx, "refresh refused for inactive account", "user_id", ownerID)
		return nil, common.ErrInvalidOrExpiredToken
	}

	access, err := s.codec.Issue(p, p.Roles, now)
	if err != nil {
		s.metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, s.internal(ctx, "issuing access token", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	next, err := s.tokens.Rotate(ctx, refreshToken, ownerID, now)
	if err != nil {
		if errors.Is(err, common.ErrInvalidToken) {
			s.metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeFailure).Inc()
			s.log.Info(ctx, "refresh lost rotation race", "user_id", ownerID)
			return nil, common.ErrInvalidOrExpiredToken
		}
		s.metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, s.internal(ctx, "rotating refresh token", err)
	}

	s.metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeSuccess).Inc()
	s.log.Debug(ctx, "refresh token rotated", "user_id", ownerID, "token_id", next.ID)
	s.publish(ctx, events.TypeRefreshed, ownerID, now, map[string]any{
		"previousTokenId": lookup.Token.ID,
		"refreshTokenId":  next.ID,
	})

	return pair(access, next), nil
}

// Logout revokes refreshToken. Unknown and already revoked tokens are not
// an error. principal is the caller authenticated by the bearer token.
func (s *SessionService) Logout(ctx context.Context, refreshToken string, principal models.Principal) error {
	if refreshToken == "" {
		s.metrics.Logouts.WithLabelValues(metrics.OutcomeRejected).Inc()
		return common.ErrMissingInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.clock.Now()
	err := s.tokens.Revoke(ctx, refreshToken, now)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrorNotFound):
		s.log.Debug(ctx, "logout for unknown refresh token", "user_id", principal.ID)
	default:
		s.metrics.Logouts.WithLabelValues(metrics.OutcomeError).Inc()
		return s.internal(ctx, "revoking refresh token", err)
	}

	s.metrics.Logouts.WithLabelValues(metrics.OutcomeSuccess).Inc()
	s.log.Info(ctx, "logout", "user_id", principal.ID)
	s.publish(ctx, events.TypeLogout, principal.ID, now, nil)
	return nil
}

// Verify checks an access token.
func (s *SessionService) Verify(ctx context.Context, accessToken string) (*Session, error) {
	p, err := s.Authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return &Session{ID: p.ID, Username: p.UserName, Roles: p.Roles, IsAuthenticated: true}, nil
}

// Authenticate verifies accessToken and returns its principal. Every codec
// failure collapses into common.ErrorUnauthorized; the kind is only logged.
func (s *SessionService) Authenticate(ctx context.Context, accessToken string) (models.Principal, error) {
	if accessToken == "" {
		s.metrics.TokenVerifies.WithLabelValues(metrics.OutcomeRejected).Inc()
		return models.Principal{}, common.ErrorUnauthorized
	}
	p, err := s.codec.Verify(accessToken, s.clock.Now())
	if err != nil {
		s.metrics.TokenVerifies.WithLabelValues(metrics.OutcomeFailure).Inc()
		s.log.Debug(ctx, "access token rejected", "reason", err.Error())
		return models.Principal{}, common.ErrorUnauthorized
	}
	s.metrics.TokenVerifies.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return p, nil
}

// RevokeAll ends every session of ownerID.
func (s *SessionService) RevokeAll(ctx context.Context, ownerID string) (int64, error) {
	if ownerID == "" {
		return 0, common.ErrMissingInput
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := s.clock.Now()
	n, err := s.tokens.RevokeAllForOwner(ctx, ownerID, now)
	if err != nil {
		return 0, s.internal(ctx, "revoking sessions", err)
	}

	s.log.Info(ctx, "all sessions revoked", "user_id", ownerID, "count", n)
	s.publish(ctx, events.TypeRevokedAll, ownerID, now, map[string]any{"count": n})
	return n, nil
}

// DeleteExpired purges expired refresh tokens.
func (s *SessionService) DeleteExpired(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, s.internal(ctx, "deleting expired refresh tokens", err)
	}
	s.metrics.ExpiredDeleted.Add(float64(n))
	return n, nil
}

// inspectReuse looks for a rotated token being presented again. It never
// changes the outcome of the refresh.
func (s *SessionService) inspectReuse(ctx context.Context, token string, now time.Time) {
	rec, err := s.tokens.Inspect(ctx, token)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			s.log.Error(ctx, "inspecting refresh token", "error", err)
		}
		return
	}
	if !rec.Revoked || rec.ReplacedBy == nil {
		return
	}

	s.metrics.ReuseDetected.Inc()
	s.log.Warn(ctx, "rotated refresh token presented again", "user_id", rec.OwnerID, "token_id", rec.ID)

	data := map[string]any{"tokenId": rec.ID}
	if s.opts.RevokeLineageOnReuse {
		n, err := s.tokens.RevokeLineage(ctx, token, now)
		if err != nil {
			s.log.Error(ctx, "revoking refresh token lineage", "user_id", rec.OwnerID, "error", err)
		} else {
			data["revoked"] = n
		}
	}
	s.publish(ctx, events.TypeReuseDetected, rec.OwnerID, now, data)
}

func (s *SessionService) publish(ctx context.Context, typ, subject string, at time.Time, data map[string]any) {
	err := s.publisher.Publish(ctx, events.Event{Type: typ, Subject: subject, Time: at, Data: data})
	if err != nil {
		s.log.Warn(ctx, "publishing session event", "type", typ, "error", err)
	}
}

func (s *SessionService) internal(ctx context.Context, op string, err error) error {
	s.log.Error(ctx, op, "error", err)
	return fmt.Errorf("%w: %s", common.ErrorInternal, op)
}

func pair(access models.AccessToken, refresh *models.RefreshToken) *TokenPair {
	return &TokenPair{
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		Username:     access.UserName,
		ExpiresAt:    access.ExpiresAt,
		Roles:        access.Roles,
	}
}
