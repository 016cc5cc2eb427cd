package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/rcourtman/vmlab-orchestrator/internal/apierr"
	"github.com/rcourtman/vmlab-orchestrator/internal/models"
)

type session struct {
	userID    int64
	role      models.Role
	expiresAt time.Time
}

// sessionStore is a process-local bearer-token table. It is intentionally
// not persisted: a restart forces re-login, the same tradeoff the
// orchestrator makes for its other in-memory caches.
type sessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]session
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{ttl: ttl, sessions: make(map[string]session)}
}

func (s *sessionStore) create(userID int64, role models.Role) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	s.mu.Lock()
	s.sessions[token] = session{userID: userID, role: role, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return token, nil
}

func (s *sessionStore) lookup(token string) (session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok || time.Now().After(sess.expiresAt) {
		delete(s.sessions, token)
		return session{}, false
	}
	return sess, true
}

func (s *sessionStore) revoke(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

type ctxKey string

const ctxUserKey ctxKey = "api.user"

func userFromContext(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(ctxUserKey).(models.User)
	return u, ok
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// withAuth requires a valid session and injects the authenticated user
// into the request context.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, apierr.AccessDeniedf("missing bearer token"))
			return
		}
		sess, ok := s.sessions.lookup(token)
		if !ok {
			writeError(w, apierr.AccessDeniedf("session expired or invalid"))
			return
		}
		user, err := s.store.GetUser(r.Context(), sess.userID)
		if err != nil {
			writeError(w, apierr.AccessDeniedf("session user no longer exists"))
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserKey, user)
		next(w, r.WithContext(ctx))
	}
}

// withRole requires a valid session whose role is one of allowed.
func (s *Server) withRole(next http.HandlerFunc, allowed ...models.Role) http.HandlerFunc {
	return s.withAuth(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userFromContext(r.Context())
		for _, role := range allowed {
			if user.Role == role {
				next(w, r)
				return
			}
		}
		writeError(w, apierr.AccessDeniedf("role %s may not perform this action", user.Role))
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apierr.InvalidInputf("malformed login body"))
		return
	}
	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, apierr.AccessDeniedf("invalid username or password"))
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, apierr.AccessDeniedf("invalid username or password"))
		return
	}
	token, err := s.sessions.create(user.ID, user.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "role": user.Role, "user_id": user.ID})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.revoke(bearerToken(r))
	w.WriteHeader(http.StatusNoContent)
}
