// Package session is a bearer-token session: the signed-in state is a JWT
// access token, and sign-in transitions are announced to listeners.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

var _ messaging.Session = (*TokenSession)(nil)

var (
	// ErrNoSubject is returned when an access token does not name an account.
	ErrNoSubject = errors.New("access token has no subject")
	// ErrInvalidSubject is returned when the token subject is not an account URN.
	ErrInvalidSubject = errors.New("access token subject is not an account urn")
)

// TokenSession holds the current access token.
type TokenSession struct {
	// secret, when set, verifies HMAC signatures. Otherwise tokens are parsed
	// unverified and the directory is trusted to reject bad ones.
	secret []byte
	now    func() time.Time
	logger *slog.Logger

	mu        sync.RWMutex
	token     string
	claims    *jwt.RegisteredClaims
	account   urn.URN
	listeners []messaging.SessionListener
}

// Option configures a TokenSession.
type Option func(*TokenSession)

// WithHMACSecret verifies token signatures with secret.
func WithHMACSecret(secret []byte) Option {
	return func(s *TokenSession) { s.secret = secret }
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *TokenSession) { s.now = now }
}

func New(logger *slog.Logger, opts ...Option) *TokenSession {
	s := &TokenSession{
		now:    time.Now,
		logger: logger.With("component", "TokenSession"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignIn installs accessToken and notifies listeners. Listener errors are
// joined and returned; the session stays signed in regardless.
func (s *TokenSession) SignIn(ctx context.Context, accessToken string) error {
	claims, account, err := s.parse(accessToken)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.token = accessToken
	s.claims = claims
	s.account = account
	s.mu.Unlock()

	s.logger.Info("Signed in", "account", account.String())
	return s.notify(ctx, func(l messaging.SessionListener) error { return l.DidSignIn(ctx) })
}

// SignOut runs WillSignOut while the token is still valid, drops it, then
// runs DidSignOut.
func (s *TokenSession) SignOut(ctx context.Context) error {
	if !s.IsSignedIn() {
		s.clear()
		return nil
	}
	willErr := s.notify(ctx, func(l messaging.SessionListener) error { return l.WillSignOut(ctx) })
	s.clear()
	s.logger.Info("Signed out")
	didErr := s.notify(ctx, func(l messaging.SessionListener) error { return l.DidSignOut(ctx) })
	return errors.Join(willErr, didErr)
}

// IsSignedIn reports whether an unexpired access token is held.
func (s *TokenSession) IsSignedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && !s.expiredLocked()
}

// AccessToken returns the bearer token, or "" when signed out.
func (s *TokenSession) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" || s.expiredLocked() {
		return ""
	}
	return s.token
}

// Account returns the signed-in account. ok is false when signed out.
func (s *TokenSession) Account() (account urn.URN, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.claims == nil || s.expiredLocked() {
		return account, false
	}
	return s.account, true
}

func (s *TokenSession) AddListener(l messaging.SessionListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *TokenSession) RemoveListener(l messaging.SessionListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.listeners {
		if existing == l {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *TokenSession) notify(ctx context.Context, call func(messaging.SessionListener) error) error {
	s.mu.RLock()
	listeners := make([]messaging.SessionListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	var errs []error
	for _, l := range listeners {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := call(l); err != nil {
			s.logger.Warn("Session listener failed", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *TokenSession) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var signedOut urn.URN
	s.token = ""
	s.claims = nil
	s.account = signedOut
}

func (s *TokenSession) expiredLocked() bool {
	if s.claims == nil || s.claims.ExpiresAt == nil {
		return false
	}
	return !s.now().Before(s.claims.ExpiresAt.Time)
}

func (s *TokenSession) parse(accessToken string) (*jwt.RegisteredClaims, urn.URN, error) {
	var account urn.URN
	claims := &jwt.RegisteredClaims{}
	if len(s.secret) > 0 {
		parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithTimeFunc(s.now))
		if _, err := parser.ParseWithClaims(accessToken, claims, func(*jwt.Token) (any, error) {
			return s.secret, nil
		}); err != nil {
			return nil, account, fmt.Errorf("invalid access token: %w", err)
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
			return nil, account, fmt.Errorf("malformed access token: %w", err)
		}
		if claims.ExpiresAt != nil && !s.now().Before(claims.ExpiresAt.Time) {
			return nil, account, fmt.Errorf("invalid access token: %w", jwt.ErrTokenExpired)
		}
	}
	if claims.Subject == "" {
		return nil, account, ErrNoSubject
	}
	account, err := urn.Parse(claims.Subject)
	if err != nil {
		return nil, account, fmt.Errorf("%w: %v", ErrInvalidSubject, err)
	}
	return claims, account, nil
}
