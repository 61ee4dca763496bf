// Package session tracks the signed-in user and page presence, and notifies
// subscribers of transitions.
package session

import (
	"sync"
	"time"

	"inkdown-notes/internal/domain"
	"inkdown-notes/pkg/jwt"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

var ErrInvalidToken = errors.New("invalid session token")

// Session holds the authenticated user of the remote replica.
type Session struct {
	secret string
	log    *zap.Logger

	mu        sync.RWMutex
	user      *domain.User
	expiresAt time.Time
	listeners []func(*domain.User)
}

func NewSession(secret string, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{secret: secret, log: log}
}

// OnAuthStateChange registers fn for every sign-in and sign-out. Sign-out
// passes nil.
func (s *Session) OnAuthStateChange(fn func(*domain.User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SignIn validates token and makes its subject the current user.
func (s *Session) SignIn(token string) (*domain.User, error) {
	claims, err := jwt.ValidateToken(token, s.secret)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to sign in"), ErrInvalidToken)
	}

	user := &domain.User{ID: claims.UserID, Email: claims.Email}

	s.mu.Lock()
	s.user = user
	if claims.ExpiresAt != nil {
		s.expiresAt = claims.ExpiresAt.Time
	}
	listeners := s.listeners
	s.mu.Unlock()

	s.log.Info("session started", zap.String("user_id", user.ID))
	for _, fn := range listeners {
		fn(user)
	}
	return user, nil
}

// SignOut clears the user. Listeners only hear about it if someone was
// signed in.
func (s *Session) SignOut() {
	s.mu.Lock()
	wasSignedIn := s.user != nil
	s.user = nil
	s.expiresAt = time.Time{}
	listeners := s.listeners
	s.mu.Unlock()

	if !wasSignedIn {
		return
	}
	s.log.Info("session ended")
	for _, fn := range listeners {
		fn(nil)
	}
}

// CurrentUser returns the signed-in user, or nil. An expired session reads
// as signed out.
func (s *Session) CurrentUser() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.user == nil || (!s.expiresAt.IsZero() && time.Now().After(s.expiresAt)) {
		return nil
	}
	cp := *s.user
	return &cp
}
