package client

import (
	"context"
	"time"
)

// Tokens is a session as returned by login and refresh.
type Tokens struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	Username     string    `json:"username"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Roles        []string  `json:"roles"`
}

// Identity is what the server reports for a valid access token.
type Identity struct {
	ID              string   `json:"id"`
	Username        string   `json:"username"`
	Roles           []string `json:"roles"`
	IsAuthenticated bool     `json:"isAuthenticated"`
}

// Client is the hostauth API as seen by the CLI.
type Client interface {
	Login(ctx context.Context, username string, password []byte) (*Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (*Tokens, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	Verify(ctx context.Context, accessToken string) (*Identity, error)
	Ping(ctx context.Context) error
}
