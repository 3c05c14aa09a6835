// Package client is the CLI's view of the hostauth server.
//
// HTTPClient implements Client over the JSON API: Login, Refresh, Logout,
// Verify and Ping. Non-2xx responses become *APIError values that unwrap to
// a sentinel, so callers match them with errors.Is:
//
//   - ErrUnauthorized for 401 (bad credentials, expired or reused tokens)
//   - ErrForbidden for 403
//   - ErrBadRequest for other 4xx
//   - ErrUnavailable for 5xx and transport failures
//
// All methods honor context cancellation.
package client
