package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ckdtjq0011/saas-survey/internal/models"
)

type authStubStore struct {
	users map[string]*models.User
}

func newAuthStubStore() *authStubStore {
	return &authStubStore{users: map[string]*models.User{}}
}

func (s *authStubStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	if u, ok := s.users[email]; ok {
		copy := *u
		return &copy, nil
	}
	return nil, nil
}

func (s *authStubStore) InsertUser(_ context.Context, u *models.User) error {
	if _, ok := s.users[u.Email]; ok {
		return errors.New("duplicate user")
	}
	copy := *u
	s.users[u.Email] = &copy
	return nil
}

func TestAuthRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	store := newAuthStubStore()
	svc := NewAuthService(store, func(uid, email string, ttl time.Duration) (string, error) {
		return "token:" + uid + ":" + email, nil
	}, time.Hour)
	svc.now = func() time.Time { return time.Unix(0, 0) }
	svc.idGen = func() string { return "U1" }
	svc.cost = bcrypt.MinCost

	res, err := svc.Register(ctx, " User@Example.com ", "Secret123")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if res.UserID != "U1" {
		t.Fatalf("expected user id in result: %+v", res)
	}
	if res.Token != "token:U1:user@example.com" {
		t.Fatalf("unexpected token %q", res.Token)
	}

	_, err = svc.Register(ctx, "user@example.com", "Secret123")
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorConflict {
		t.Fatalf("expected conflict error on duplicate registration, got %v", err)
	}

	loginRes, err := svc.Login(ctx, "USER@example.com", "Secret123")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if loginRes.Token == "" {
		t.Fatalf("expected token in login response")
	}

	_, err = svc.Login(ctx, "user@example.com", "wrong")
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorUnauthorized {
		t.Fatalf("expected unauthorized for wrong password, got %v", err)
	}
	if _, err := svc.Login(ctx, "missing@example.com", "Secret123"); err == nil {
		t.Fatalf("expected error for missing user")
	}
}

func TestAuthValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewAuthService(newAuthStubStore(), func(uid, email string, ttl time.Duration) (string, error) {
		return "tok", nil
	}, 0)

	if _, err := svc.Register(ctx, "", ""); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := svc.Login(ctx, "", ""); err == nil {
		t.Fatalf("expected validation error on login")
	}
	if svc.TokenTTL() != 30*24*time.Hour {
		t.Fatalf("unexpected default ttl %s", svc.TokenTTL())
	}
}
