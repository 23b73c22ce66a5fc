package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/raine/rentals-client/internal/grant"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

type accessClaims struct {
	jwt.RegisteredClaims
	Generation int `json:"gen"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

type userIDKey struct{}

// AddUser registers an account directly, for seeding.
func (s *Server) AddUser(email, password, firstName, lastName string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(email)
	if _, ok := s.users[key]; ok {
		return errors.New("user already exists")
	}
	s.users[key] = &user{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    firstName,
		LastName:     lastName,
		PasswordHash: hash,
	}
	return nil
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	failure := s.tokenFailure
	s.mu.Unlock()
	if failure != 0 {
		writeError(w, failure, "temporarily_unavailable", "")
		return
	}

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "password":
		s.passwordGrants.Add(1)
		s.handlePasswordGrant(w, r.PostForm.Get("username"), r.PostForm.Get("password"))
	case "refresh_token":
		s.refreshGrants.Add(1)
		s.handleRefreshGrant(w, r.PostForm.Get("refresh_token"))
	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "")
	}
}

func (s *Server) handlePasswordGrant(w http.ResponseWriter, username, password string) {
	s.mu.Lock()
	u := s.users[strings.ToLower(username)]
	s.mu.Unlock()

	if u == nil || bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		log.Debug().Str("username", username).Msg("password grant rejected")
		writeError(w, http.StatusBadRequest, "invalid_grant", "invalid username or password")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.issueLocked(u.ID, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRefreshGrant(w http.ResponseWriter, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.refreshTokens[refreshToken]
	if !ok || refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_grant", "refresh token is invalid or already used")
		return
	}
	if !s.fixed {
		delete(s.refreshTokens, refreshToken)
	}

	res, err := s.issueLocked(userID, !s.fixed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// issueLocked signs an access token and, when withRefresh is set, a new
// refresh token. Caller holds s.mu.
func (s *Server) issueLocked(userID string, withRefresh bool) (*tokenResponse, error) {
	now := s.now()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Generation: s.generation,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		log.Error().Err(err).Msg("failed to sign access token")
		return nil, err
	}

	res := &tokenResponse{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresIn:   int(s.lifetime.Seconds()),
	}
	if withRefresh {
		res.RefreshToken = uuid.NewString()
		s.refreshTokens[res.RefreshToken] = userID
	}
	return res, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req grant.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}
	if err := s.AddUser(req.Email, req.Password, req.FirstName, req.LastName); err != nil {
		writeError(w, http.StatusConflict, "conflict", err.Error())
		return
	}

	s.mu.Lock()
	u := s.users[strings.ToLower(req.Email)]
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, userBody(u))
}

// userBody uses lower-case name keys, matching the production backend.
func userBody(u *user) map[string]string {
	return map[string]string{
		"id":        u.ID,
		"email":     u.Email,
		"firstname": u.FirstName,
		"lastname":  u.LastName,
	}
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.resourceCalls.Add(1)

		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		var claims accessClaims
		_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
		if err != nil {
			log.Debug().Err(err).Msg("access token rejected")
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid access token")
			return
		}

		s.mu.Lock()
		current := claims.Generation == s.generation
		s.mu.Unlock()
		if !current {
			writeError(w, http.StatusUnauthorized, "unauthorized", "access token revoked")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey{}).(string)
	return id
}
