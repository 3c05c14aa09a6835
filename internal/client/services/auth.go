// Package services contains application services for the hostauth client.
// This file defines the authentication service: login, token refresh,
// verification and logout, with the session persisted locally between runs.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/hostauth/internal/client/client"
	"github.com/dmitrijs2005/hostauth/internal/client/repositories/session"
)

// ErrNotLoggedIn is returned when an operation needs a stored session.
var ErrNotLoggedIn = errors.New("not logged in")

// AuthService defines authentication operations for the CLI.
//
// Contract:
//   - Login: authenticate and persist the returned tokens.
//   - Refresh: rotate the stored refresh token and persist the new pair.
//   - Verify: check the stored access token, refreshing once when it was
//     rejected.
//   - Logout: revoke the refresh token on the server and forget the session.
//   - Current: the stored session, or ErrNotLoggedIn.
type AuthService interface {
	Login(ctx context.Context, username string, password []byte) (*session.Session, error)
	Refresh(ctx context.Context) (*session.Session, error)
	Verify(ctx context.Context) (*client.Identity, error)
	Logout(ctx context.Context) error
	Current(ctx context.Context) (*session.Session, error)
	Ping(ctx context.Context) error
}

// authService is the concrete AuthService backed by a remote Client and a
// local session repository.
type authService struct {
	client   client.Client
	sessions session.Repository
}

// NewAuthService constructs an AuthService bound to the given API client
// and session store.
func NewAuthService(c client.Client, sessions session.Repository) AuthService {
	return &authService{client: c, sessions: sessions}
}

func toSession(t *client.Tokens) *session.Session {
	return &session.Session{
		Username:     t.Username,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.ExpiresAt,
		Roles:        t.Roles,
	}
}

func (a *authService) Login(ctx context.Context, username string, password []byte) (*session.Session, error) {
	tokens, err := a.client.Login(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("login error: %w", err)
	}
	s := toSession(tokens)
	if err := a.sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("session saving error: %w", err)
	}
	return s, nil
}

func (a *authService) Current(ctx context.Context) (*session.Session, error) {
	s, err := a.sessions.Load(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return nil, ErrNotLoggedIn
		}
		return nil, err
	}
	return s, nil
}

// Refresh rotates the stored refresh token. A rejected token means the
// session is over, so the local copy is removed.
func (a *authService) Refresh(ctx context.Context) (*session.Session, error) {
	current, err := a.Current(ctx)
	if err != nil {
		return nil, err
	}

	tokens, err := a.client.Refresh(ctx, current.RefreshToken)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			if clearErr := a.sessions.Clear(ctx); clearErr != nil {
				return nil, clearErr
			}
		}
		return nil, fmt.Errorf("refresh error: %w", err)
	}

	next := toSession(tokens)
	if err := a.sessions.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("session saving error: %w", err)
	}
	return next, nil
}

func (a *authService) Verify(ctx context.Context) (*client.Identity, error) {
	current, err := a.Current(ctx)
	if err != nil {
		return nil, err
	}

	id, err := a.client.Verify(ctx, current.AccessToken)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, client.ErrUnauthorized) {
		return nil, fmt.Errorf("verify error: %w", err)
	}

	next, err := a.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	id, err = a.client.Verify(ctx, next.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("verify error: %w", err)
	}
	return id, nil
}

// Logout revokes the stored refresh token and forgets the session. The local
// session is removed even when the server rejects the call; an unreachable
// server is reported after the local cleanup.
func (a *authService) Logout(ctx context.Context) error {
	current, err := a.Current(ctx)
	if err != nil {
		if errors.Is(err, ErrNotLoggedIn) {
			return nil
		}
		return err
	}

	remoteErr := a.client.Logout(ctx, current.AccessToken, current.RefreshToken)
	if errors.Is(remoteErr, client.ErrUnauthorized) {
		// The access token expired; rotate once so the logout can be
		// authorized, which also leaves only the new token to revoke.
		if next, err := a.Refresh(ctx); err == nil {
			remoteErr = a.client.Logout(ctx, next.AccessToken, next.RefreshToken)
		} else {
			remoteErr = nil
		}
	}

	if err := a.sessions.Clear(ctx); err != nil {
		return err
	}
	if remoteErr != nil && !errors.Is(remoteErr, client.ErrUnauthorized) {
		return fmt.Errorf("logout error: %w", remoteErr)
	}
	return nil
}

// Ping proxies a liveness check to the underlying client.
func (a *authService) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}
