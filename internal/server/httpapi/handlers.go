package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/hostauth/internal/server/auth"
	"github.com/dmitrijs2005/hostauth/internal/server/services"
	"github.com/go-chi/chi/v5"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	Username     string    `json:"username"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Roles        []string  `json:"roles"`
}

type verifyResponse struct {
	ID              string   `json:"id"`
	Username        string   `json:"username"`
	Roles           []string `json:"roles"`
	IsAuthenticated bool     `json:"isAuthenticated"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type registerRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

type registerResponse struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

type revokeResponse struct {
	Revoked int64 `json:"revoked"`
}

const (
	msgMissingLogin   = "Username and password are required"
	msgMissingRefresh = "Refresh token is required"
)

func toTokenResponse(p *services.TokenPair) tokenResponse {
	roles := p.Roles
	if roles == nil {
		roles = []string{}
	}
	return tokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		Username:     p.Username,
		ExpiresAt:    p.ExpiresAt,
		Roles:        roles,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.log.Warn(r.Context(), "health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "Storage unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pair, err := s.sessions.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeServiceError(w, r, err, msgMissingLogin)
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pair, err := s.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeServiceError(w, r, err, msgMissingRefresh)
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	if err := s.sessions.Logout(r.Context(), req.RefreshToken, p); err != nil {
		s.writeServiceError(w, r, err, msgMissingRefresh)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: MsgLoggedOut})
}

// handleVerify reports the principal the Authenticate middleware already
// resolved from the bearer token.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, MsgMissingBearer)
		return
	}
	roles := p.Roles
	if roles == nil {
		roles = []string{}
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		ID:              p.ID,
		Username:        p.UserName,
		Roles:           roles,
		IsAuthenticated: true,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.accounts == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Not found")
		return
	}
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, roles, err := s.accounts.Register(r.Context(), req.Username, req.Email, req.Password, req.Roles)
	if err != nil {
		s.writeServiceError(w, r, err, "Username, password and known roles are required")
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{ID: u.ID, Username: u.UserName, Roles: roles})
}

func (s *Server) handleRevokeAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.sessions.RevokeAll(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err, "User id is required")
		return
	}
	writeJSON(w, http.StatusOK, revokeResponse{Revoked: n})
}
