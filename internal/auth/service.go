package auth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/pratsy91/periskope-chat/internal/models"
	"github.com/pratsy91/periskope-chat/internal/store"
)

var (
	ErrUsernameRequired   = errors.New("username is required")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Service signs users in by username.
type Service struct {
	Store  store.Store
	Tokens *Tokens
	Logger *zap.Logger
}

// SignUp creates a new account. A non-empty password is stored as a bcrypt
// hash; without one the account is username-only.
func (s *Service) SignUp(ctx context.Context, username, password string) (*models.AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrUsernameRequired
	}
	user, err := s.create(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return s.result(user)
}

// SignIn logs in as username, creating the account when it does not exist
// yet. Accounts with a password hash require the matching password.
func (s *Service) SignIn(ctx context.Context, username, password string) (*models.AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrUsernameRequired
	}

	user, err := s.Store.GetUserByUsername(ctx, username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		user, err = s.create(ctx, username, password)
		if errors.Is(err, store.ErrConflict) {
			// created concurrently
			return s.SignIn(ctx, username, password)
		}
		if err != nil {
			return nil, err
		}
		s.Logger.Info("Created user on first sign-in", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	case err != nil:
		return nil, err
	case user.PasswordHash != "":
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
			return nil, ErrInvalidCredentials
		}
	}

	return s.result(user)
}

func (s *Service) create(ctx context.Context, username, password string) (*models.User, error) {
	var hash string
	if password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hash = string(hashed)
	}
	return s.Store.CreateUser(ctx, username, hash)
}

func (s *Service) result(user *models.User) (*models.AuthResult, error) {
	token, err := s.Tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &models.AuthResult{User: *user, Token: token}, nil
}
