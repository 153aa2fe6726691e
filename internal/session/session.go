package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// SessionCookie carries the opaque server-side session ID.
	SessionCookie = "mathsnap_session"
	// RememberCookie carries the signed long-lived remember-me token.
	RememberCookie = "mathsnap_remember"
)

// ErrNoSession indicates the request carries no valid session.
var ErrNoSession = errors.New("no session")

// Identity is the per-session snapshot of who is logged in. It is built once
// at login or token restore and passed explicitly to whatever needs it.
type Identity struct {
	Email     string `json:"email"`
	IsAdmin   bool   `json:"is_admin"`
	IsPremium bool   `json:"is_premium"`
}

// Manager stores session identities in Redis keyed by a cookie-held ID.
type Manager struct {
	rdb    *redis.Client
	ttl    time.Duration
	secure bool
}

func NewManager(rdb *redis.Client, ttl time.Duration, secure bool) *Manager {
	return &Manager{rdb: rdb, ttl: ttl, secure: secure}
}

func (m *Manager) key(id string) string {
	return "session:" + id
}

// Open creates a new session for identity and sets the session cookie.
func (m *Manager) Open(ctx context.Context, w http.ResponseWriter, identity Identity) error {
	payload, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	id := uuid.NewString()
	if err := m.rdb.Set(ctx, m.key(id), payload, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Load resolves the request's session cookie to an Identity.
func (m *Manager) Load(ctx context.Context, r *http.Request) (*Identity, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, ErrNoSession
	}

	payload, err := m.rdb.Get(ctx, m.key(cookie.Value)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var identity Identity
	if err := json.Unmarshal(payload, &identity); err != nil {
		return nil, ErrNoSession
	}
	return &identity, nil
}

// Destroy removes the session and expires both auth cookies.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		if err := m.rdb.Del(ctx, m.key(cookie.Value)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}

	for _, name := range []string{SessionCookie, RememberCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   m.secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return nil
}
