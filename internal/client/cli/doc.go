// Package cli provides the interactive hostauth command-line client.
//
// It wires configuration, the local session file and the HTTP API client
// into a small REPL. Typical flow: log in with a username and a password
// read without echo, then refresh, verify or log out. Tokens survive
// restarts in the session file, and a background watcher reports whether
// the server is reachable.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
