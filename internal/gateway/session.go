package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Default safety margin subtracted from a token's lifetime so a token is
// refreshed before the service would reject it.
const defaultExpiryMargin = 30 * time.Second

// TokenFunc obtains a fresh bearer token and its lifetime from the service.
type TokenFunc func(ctx context.Context) (token string, lifetime time.Duration, err error)

// Authorizer applies credentials to an outgoing request.
type Authorizer interface {
	Authorize(ctx context.Context, req *http.Request) error

	// Invalidate discards any cached credential so the next Authorize
	// fetches a fresh one. A no-op for static credentials.
	Invalidate()
}

// Session caches a bearer token for one remote service family. The token and
// its expiry are guarded by a mutex so concurrent jobs share one refresh.
type Session struct {
	mu      sync.Mutex
	token   string
	expiry  time.Time
	margin  time.Duration
	refresh TokenFunc
	now     func() time.Time
}

// NewSession creates a session that fetches tokens via refresh.
func NewSession(refresh TokenFunc) *Session {
	return &Session{
		margin:  defaultExpiryMargin,
		refresh: refresh,
		now:     time.Now,
	}
}

// Authorize sets the bearer token on req, refreshing it when missing or
// within the expiry margin.
func (s *Session) Authorize(ctx context.Context, req *http.Request) error {
	token, err := s.currentToken(ctx)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+token)

	return nil
}

// Invalidate discards the cached token. The next Authorize refreshes it.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	s.expiry = time.Time{}
}

func (s *Session) currentToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Add(s.margin).Before(s.expiry) {
		return s.token, nil
	}

	token, lifetime, err := s.refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to refresh session token: %w", err)
	}

	s.token = token
	s.expiry = s.now().Add(lifetime)

	return s.token, nil
}

// StaticKey is an Authorizer for services authenticated by a fixed API key
// header instead of a bearer session.
type StaticKey struct {
	Header string
	Key    string
}

// Authorize sets the API key header on req. A StaticKey with no header name
// leaves the request unauthenticated.
func (k *StaticKey) Authorize(_ context.Context, req *http.Request) error {
	if k.Header != "" {
		req.Header.Set(k.Header, k.Key)
	}

	return nil
}

// Invalidate is a no-op for static keys.
func (k *StaticKey) Invalidate() {}
