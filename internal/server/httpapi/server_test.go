package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/hostauth/internal/cryptox"
	"github.com/dmitrijs2005/hostauth/internal/logging"
	"github.com/dmitrijs2005/hostauth/internal/server/auth"
	"github.com/dmitrijs2005/hostauth/internal/server/metrics"
	"github.com/dmitrijs2005/hostauth/internal/server/models"
	"github.com/dmitrijs2005/hostauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/hostauth/internal/server/repositories/users"
	"github.com/dmitrijs2005/hostauth/internal/server/services"
	"github.com/dmitrijs2005/hostauth/internal/timex"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = cryptox.Argon2Params{Time: 1, Memory: 8, Threads: 1, SaltLen: 8, KeyLen: 16}

type testEnv struct {
	handler  http.Handler
	clock    *timex.ManualClock
	dir      *services.UserDirectory
	sessions *services.SessionService
	codec    *auth.Codec
	metrics  *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	codec, err := auth.NewCodec([]byte("http-test-secret"), "hostauth", 30*time.Minute)
	require.NoError(t, err)

	clock := timex.NewManualClock(time.Now().UTC().Truncate(time.Second))
	dir := services.NewUserDirectory(users.NewMemoryRepository(), testParams)
	m := metrics.New(nil)
	sessions := services.NewSessionService(dir, refreshtokens.NewMemoryRepository(7*24*time.Hour),
		codec, clock, nil, logging.Nop{}, m, services.SessionOptions{})

	srv := New(Deps{Sessions: sessions, Accounts: dir, Logger: logging.Nop{}, Metrics: m})
	return &testEnv{handler: srv.Handler(), clock: clock, dir: dir, sessions: sessions, codec: codec, metrics: m}
}

func (e *testEnv) register(t *testing.T, username, password string, roles ...string) *models.User {
	t.Helper()
	u, _, err := e.dir.Register(context.Background(), username, "", password, roles)
	require.NoError(t, err)
	return u
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, username, password string) tokenResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/login", "", loginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

func TestLogin_Scenario(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "authuser", "Auth@1234", models.RoleSupport, models.RoleSales)

	rec := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "authuser", "password": "Auth@1234"})
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	for _, key := range []string{"accessToken", "refreshToken", "username", "expiresAt", "roles"} {
		assert.Contains(t, raw, key)
	}

	var out tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out.AccessToken)
	assert.NotEmpty(t, out.RefreshToken)
	assert.Equal(t, "authuser", out.Username)
	assert.True(t, out.ExpiresAt.After(env.clock.Now()))
	assert.ElementsMatch(t, []string{models.RoleSupport, models.RoleSales}, out.Roles)
}

func TestLogin_Failures(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "authuser", "Auth@1234")

	tests := []struct {
		name    string
		body    any
		status  int
		message string
	}{
		{"empty username", loginRequest{Password: "x"}, http.StatusBadRequest, msgMissingLogin},
		{"empty password", loginRequest{Username: "authuser"}, http.StatusBadRequest, msgMissingLogin},
		{"invalid json", "{not json", http.StatusBadRequest, MsgInvalidBody},
		{"wrong password", loginRequest{Username: "authuser", Password: "nope"}, http.StatusUnauthorized, MsgInvalidCredentials},
		{"unknown user", loginRequest{Username: "ghost", Password: "Auth@1234"}, http.StatusUnauthorized, MsgInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/auth/login", "", tt.body)
			require.Equal(t, tt.status, rec.Code)
			e := decodeError(t, rec)
			assert.Equal(t, tt.status, e.Status)
			assert.Equal(t, tt.message, e.Message)
			assert.NotEmpty(t, e.Code)
		})
	}
}

func TestRefresh_Scenario(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "authuser", "Auth@1234")
	first := env.login(t, "authuser", "Auth@1234")

	env.clock.Advance(1000 * time.Millisecond)

	rec := env.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: first.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var second tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	rec = env.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: first.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid or expired refresh token")

	rec = env.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogout_Scenario(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "authuser", "Auth@1234")
	pair := env.login(t, "authuser", "Auth@1234")

	rec := env.do(t, http.MethodPost, "/auth/logout", "", refreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code, "bearer is required")

	rec = env.do(t, http.MethodPost, "/auth/logout", pair.AccessToken, refreshRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/logout", pair.AccessToken, refreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Logged out successfully")

	rec = env.do(t, http.MethodPost, "/auth/logout", pair.AccessToken, refreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, "logout is idempotent")

	rec = env.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerify_Scenario(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "authuser", "Auth@1234", models.RoleAdmin)
	pair := env.login(t, "authuser", "Auth@1234")

	rec := env.do(t, http.MethodGet, "/auth/verify", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/auth/verify", "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ4In0.bogus", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/auth/verify", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out verifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, verifyResponse{ID: u.ID, Username: "authuser", Roles: []string{models.RoleAdmin}, IsAuthenticated: true}, out)

	env.clock.Advance(30 * time.Minute)
	rec = env.do(t, http.MethodGet, "/auth/verify", pair.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerify_SingleTokenCheck(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "authuser", "Auth@1234")
	pair := env.login(t, "authuser", "Auth@1234")

	verified := env.metrics.TokenVerifies.WithLabelValues(metrics.OutcomeSuccess)
	before := testutil.ToFloat64(verified)

	rec := env.do(t, http.MethodGet, "/auth/verify", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(verified))
}

func TestVerifyHandler_WithoutPrincipal(t *testing.T) {
	srv := New(Deps{Sessions: failingSessions{}})
	rec := httptest.NewRecorder()
	srv.handleVerify(rec, httptest.NewRequest(http.MethodGet, "/auth/verify", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthorizationHeaderForms(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "authuser", "Auth@1234")
	pair := env.login(t, "authuser", "Auth@1234")

	for _, h := range []string{pair.AccessToken, "Basic " + pair.AccessToken, "Bearer", "Bearer   "} {
		req := httptest.NewRequest(http.MethodGet, "/auth/verify", nil)
		req.Header.Set("Authorization", h)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", h)
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/verify", nil)
	req.Header.Set("Authorization", "bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoleGate(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "admin", "Admin@1", models.RoleAdmin)
	customer := env.register(t, "customer", "Cust@1", models.RoleCustomer)
	admin := env.login(t, "admin", "Admin@1")
	cust := env.login(t, "customer", "Cust@1")

	body := registerRequest{Username: "newbie", Password: "pw", Roles: []string{models.RoleSales}}

	rec := env.do(t, http.MethodPost, "/auth/users", "", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code, "unauthenticated is 401 before any role check")

	rec = env.do(t, http.MethodPost, "/auth/users", "garbage", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/users", cust.AccessToken, body)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, MsgInsufficientRole, decodeError(t, rec).Message)

	rec = env.do(t, http.MethodPost, "/auth/users", admin.AccessToken, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created registerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "newbie", created.Username)
	assert.Equal(t, []string{models.RoleSales}, created.Roles)

	rec = env.do(t, http.MethodPost, "/auth/users", admin.AccessToken, body)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/users", admin.AccessToken, registerRequest{Username: "x", Password: "pw", Roles: []string{"Root"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/users/"+customer.ID+"/revoke", cust.AccessToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/users/"+customer.ID+"/revoke", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"revoked":1}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: cust.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hostauth_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestHealth_Unavailable(t *testing.T) {
	srv := New(Deps{Health: func(context.Context) error { return errors.New("postgres down") }})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "postgres")
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/health", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestBodyTooLarge(t *testing.T) {
	env := newTestEnv(t)
	huge := `{"username":"` + strings.Repeat("a", maxRequestBodySize) + `","password":"x"}`

	rec := env.do(t, http.MethodPost, "/auth/login", "", huge)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrCodeNotFound, decodeError(t, rec).Code)
}

// failingSessions answers every call with a storage-style error.
type failingSessions struct{ Sessions }

func (failingSessions) Login(context.Context, string, string) (*services.TokenPair, error) {
	return nil, errors.New("pq: connection refused")
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	srv := New(Deps{Sessions: failingSessions{}})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"a","password":"b"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, MsgInternal, e.Message)
	assert.NotContains(t, rec.Body.String(), "pq")
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := New(Deps{})
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, MsgInternal, decodeError(t, rec).Message)
}
