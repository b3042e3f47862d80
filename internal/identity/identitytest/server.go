// Package identitytest provides an in-process fake of the identity service.
package identitytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vovakirdan/synergy/internal/identity"
)

// Account is one identity known to the fake service.
type Account struct {
	Username   string
	Privileges map[string]any
}

// Server serves /users/{aid}/username and /users/{aid}/privileges.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	accounts map[string]Account
	token    *identity.TokenConfig
	requests atomic.Int64
}

// NewServer starts a fake identity service. When token is non-nil every
// request must carry a bearer token valid for that config.
func NewServer(token *identity.TokenConfig) *Server {
	s := &Server{
		accounts: make(map[string]Account),
		token:    token,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Add registers an account.
func (s *Server) Add(aid string, acc Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[aid] = acc
}

// AddMaster registers an account carrying Synergy.canBeMaster.
func (s *Server) AddMaster(aid, username string) {
	s.Add(aid, Account{
		Username:   username,
		Privileges: map[string]any{"Synergy": map[string]any{"canBeMaster": true}},
	})
}

// Requests returns the number of requests served so far.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)

	if s.token.Enabled() {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if _, err := identity.ValidateToken(s.token, raw); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	parts := strings.Split(strings.Trim(r.URL.EscapedPath(), "/"), "/")
	if len(parts) != 3 || parts[0] != "users" {
		http.NotFound(w, r)
		return
	}
	aid, err := url.PathUnescape(parts[1])
	if err != nil {
		http.NotFound(w, r)
		return
	}
	scope := parts[2]

	s.mu.Lock()
	acc, known := s.accounts[aid]
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch scope {
	case "username":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"valid_aid": known,
			"username":  acc.Username,
		})
	case "privileges":
		privileges := acc.Privileges
		if privileges == nil {
			privileges = map[string]any{}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"privileges": privileges})
	default:
		http.NotFound(w, r)
	}
}
