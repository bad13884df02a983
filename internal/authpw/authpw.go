package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"fieldqa/api/internal/qa"
	"fieldqa/api/internal/store"
)

var ErrBadCredentials = errors.New("invalid email or password")

type Store interface {
	CreateProfile(ctx context.Context, profile store.Profile) (store.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (store.Profile, error)
	GetProfileByID(ctx context.Context, userID string) (store.Profile, error)
}

// Service owns password sign-up and sign-in. New accounts start as
// junior_engineer; an admin promotes them afterwards.
type Service struct {
	store Store
}

func NewService(s Store) *Service {
	return &Service{store: s}
}

func (s *Service) SignUp(ctx context.Context, email, fullName, password string) (store.Profile, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return store.Profile{}, fmt.Errorf("invalid email %q", email)
	}
	if len(password) < 8 {
		return store.Profile{}, errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return store.Profile{}, fmt.Errorf("hash password: %w", err)
	}
	return s.store.CreateProfile(ctx, store.Profile{
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		PasswordHash: string(hash),
		Role:         qa.RoleJuniorEngineer,
	})
}

func (s *Service) SignIn(ctx context.Context, email, password string) (store.Profile, error) {
	profile, err := s.store.GetProfileByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Profile{}, ErrBadCredentials
		}
		return store.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)) != nil {
		return store.Profile{}, ErrBadCredentials
	}
	return profile, nil
}
