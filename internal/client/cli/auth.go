package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/hostauth/internal/client/client"
	"github.com/dmitrijs2005/hostauth/internal/client/services"
	"github.com/dmitrijs2005/hostauth/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Login prompts for a username and password and starts a session. The
// password byte slice is wiped before returning.
func (a *App) Login(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	s, err := a.authService.Login(ctx, userName, password)
	if err != nil {
		a.report("Login unsuccessful", err)
		return err
	}

	a.userName = s.Username
	a.setMode(ModeOnline)
	a.printf("Login successful, roles: %s", strings.Join(s.Roles, ", "))
	return nil
}

// Refresh rotates the stored tokens.
func (a *App) Refresh(ctx context.Context) error {
	s, err := a.authService.Refresh(ctx)
	if err != nil {
		a.report("Refresh unsuccessful", err)
		if errors.Is(err, client.ErrUnauthorized) {
			a.userName = ""
		}
		return err
	}
	a.printf("Tokens refreshed, access token valid until %s", s.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
	return nil
}

// Verify asks the server who the stored access token belongs to.
func (a *App) Verify(ctx context.Context) error {
	id, err := a.authService.Verify(ctx)
	if err != nil {
		a.report("Verify unsuccessful", err)
		if errors.Is(err, client.ErrUnauthorized) {
			a.userName = ""
		}
		return err
	}
	a.printf("Authenticated as %s (%s), roles: %s", id.Username, id.ID, strings.Join(id.Roles, ", "))
	return nil
}

// Logout ends the session on the server and removes the local copy.
func (a *App) Logout(ctx context.Context) error {
	err := a.authService.Logout(ctx)
	a.userName = ""
	if err != nil {
		a.report("Logged out locally", err)
		return err
	}
	a.printf("Logged out successfully")
	return nil
}

// report prints msg with the server's message when there is one.
func (a *App) report(msg string, err error) {
	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Message != "":
		a.printf("%s: %s", msg, apiErr.Message)
	case errors.Is(err, services.ErrNotLoggedIn):
		a.printf("%s: not logged in", msg)
	case errors.Is(err, client.ErrUnavailable):
		a.setMode(ModeOffline)
		a.printf("%s: server unavailable", msg)
	default:
		a.printf("%s: %s", msg, err.Error())
	}
}
