// Package mockapi is an in-memory implementation of the rentals backend
// contract. It issues HS256 access tokens and rotating single-use refresh
// tokens, and stores entities per user.
package mockapi

import (
	"crypto/rand"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/raine/rentals-client/internal/rentals"
	"github.com/rs/zerolog/log"
)

const DefaultAccessTokenLifetime = 15 * time.Minute

type Options struct {
	// AccessTokenLifetime is reported as expires_in and written to exp.
	AccessTokenLifetime time.Duration
	// FixedRefreshTokens stops rotation: refresh responses omit
	// refresh_token and the presented token stays valid.
	FixedRefreshTokens bool
	Secret             []byte
	Now                func() time.Time
}

type Server struct {
	router   *mux.Router
	secret   []byte
	lifetime time.Duration
	fixed    bool
	now      func() time.Time

	mu            sync.Mutex
	users         map[string]*user // by email
	refreshTokens map[string]string
	generation    int
	tokenFailure  int

	properties map[string]*rentals.Property
	owners     map[string]string // property id -> user id
	leases     map[string]*rentals.Lease
	rooms      map[string]*rentals.Room
	furniture  map[string]*rentals.Furniture
	damages    map[string]*rentals.Damage

	passwordGrants atomic.Int64
	refreshGrants  atomic.Int64
	resourceCalls  atomic.Int64
}

type user struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash []byte
}

func New(opts Options) *Server {
	s := &Server{
		secret:        opts.Secret,
		lifetime:      opts.AccessTokenLifetime,
		fixed:         opts.FixedRefreshTokens,
		now:           opts.Now,
		users:         make(map[string]*user),
		refreshTokens: make(map[string]string),
		properties:    make(map[string]*rentals.Property),
		owners:        make(map[string]string),
		leases:        make(map[string]*rentals.Lease),
		rooms:         make(map[string]*rentals.Room),
		furniture:     make(map[string]*rentals.Furniture),
		damages:       make(map[string]*rentals.Damage),
	}
	if s.lifetime <= 0 {
		s.lifetime = DefaultAccessTokenLifetime
	}
	if s.now == nil {
		s.now = time.Now
	}
	if len(s.secret) == 0 {
		s.secret = make([]byte, 32)
		if _, err := rand.Read(s.secret); err != nil {
			panic(err)
		}
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/auth/token", s.handleToken).Methods("POST")
	r.HandleFunc("/auth/register", s.handleRegister).Methods("POST")

	api := r.NewRoute().Subrouter()
	api.Use(s.requireBearer)
	api.HandleFunc("/profile", s.handleProfile).Methods("GET")
	api.HandleFunc("/dashboard", s.handleDashboard).Methods("GET")
	api.HandleFunc("/properties", s.handleListProperties).Methods("GET")
	api.HandleFunc("/properties", s.handleCreateProperty).Methods("POST")
	api.HandleFunc("/properties/{id}", s.handleGetProperty).Methods("GET")
	api.HandleFunc("/properties/{id}", s.handleUpdateProperty).Methods("PUT")
	api.HandleFunc("/properties/{id}", s.handleDeleteProperty).Methods("DELETE")
	api.HandleFunc("/properties/{id}/leases", s.handleListLeases).Methods("GET")
	api.HandleFunc("/properties/{id}/leases", s.handleCreateLease).Methods("POST")
	api.HandleFunc("/leases/{id}/end", s.handleEndLease).Methods("POST")
	api.HandleFunc("/properties/{id}/rooms", s.handleListRooms).Methods("GET")
	api.HandleFunc("/properties/{id}/rooms", s.handleCreateRoom).Methods("POST")
	api.HandleFunc("/rooms/{id}/furniture", s.handleListFurniture).Methods("GET")
	api.HandleFunc("/rooms/{id}/furniture", s.handleAddFurniture).Methods("POST")
	api.HandleFunc("/properties/{id}/damages", s.handleListDamages).Methods("GET")
	api.HandleFunc("/properties/{id}/damages", s.handleReportDamage).Methods("POST")
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Str("requestId", r.Header.Get("X-Request-ID")).Msg("mockapi request")
	s.router.ServeHTTP(w, r)
}

// ExpireAccessTokens makes every access token issued so far fail with 401,
// as if the server had rotated its signing key.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
}

// RevokeRefreshTokens invalidates every outstanding refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = make(map[string]string)
}

// FailTokenRequests makes /auth/token answer with status until reset with 0.
func (s *Server) FailTokenRequests(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenFailure = status
}

func (s *Server) PasswordGrants() int64 { return s.passwordGrants.Load() }
func (s *Server) RefreshGrants() int64  { return s.refreshGrants.Load() }

// ResourceCalls counts requests that reached a bearer-protected route,
// rejected ones included.
func (s *Server) ResourceCalls() int64 { return s.resourceCalls.Load() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorBody{Error: code, Description: description})
}
