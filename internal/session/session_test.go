package session

import (
	"errors"
	"testing"
	"time"

	"inkdown-notes/internal/domain"
	"inkdown-notes/pkg/jwt"
)

const testSecret = "session-test-secret"

func TestSession_SignInAndOut(t *testing.T) {
	s := NewSession(testSecret, nil)

	var events []*domain.User
	s.OnAuthStateChange(func(u *domain.User) {
		events = append(events, u)
	})

	token, err := jwt.GenerateToken("user-1", "writer@example.com", time.Hour, testSecret)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	user, err := s.SignIn(token)
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if user.ID != "user-1" || user.Email != "writer@example.com" {
		t.Errorf("SignIn() user = %+v", user)
	}
	if got := s.CurrentUser(); got == nil || got.ID != "user-1" {
		t.Errorf("CurrentUser() = %+v", got)
	}

	s.SignOut()
	s.SignOut()

	if s.CurrentUser() != nil {
		t.Error("CurrentUser() should be nil after SignOut()")
	}
	if len(events) != 2 {
		t.Fatalf("got %d auth events, want 2", len(events))
	}
	if events[0] == nil || events[1] != nil {
		t.Errorf("events = %+v, want [user, nil]", events)
	}
}

func TestSession_SignInRejectsBadTokens(t *testing.T) {
	wrongSecret, _ := jwt.GenerateToken("user-1", "", time.Hour, "other-secret")
	expired, _ := jwt.GenerateToken("user-1", "", -time.Hour, testSecret)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-token"},
		{name: "wrong secret", token: wrongSecret},
		{name: "expired", token: expired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(testSecret, nil)
			notified := false
			s.OnAuthStateChange(func(*domain.User) { notified = true })

			_, err := s.SignIn(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("SignIn() error = %v, want ErrInvalidToken", err)
			}
			if notified {
				t.Error("failed sign-in should not notify listeners")
			}
			if s.CurrentUser() != nil {
				t.Error("failed sign-in should leave no user")
			}
		})
	}
}
