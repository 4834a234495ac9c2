package sqlstore

import (
	"context"
	"strings"

	"github.com/pratsy91/periskope-chat/internal/models"
)

func (s *SQLStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{Username: username, PasswordHash: passwordHash}
	query := s.db.Rebind("INSERT INTO users (username, password_hash) VALUES (?, ?) RETURNING id")
	if err := s.db.QueryRowxContext(ctx, query, username, passwordHash).Scan(&user.ID); err != nil {
		return nil, translate(err)
	}
	return user, nil
}

// GetUserByUsername matches usernames case-insensitively.
func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	query := s.db.Rebind("SELECT id, username, password_hash, avatar_url FROM users WHERE LOWER(username) = LOWER(?)")
	if err := s.db.GetContext(ctx, &user, query, username); err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	query := s.db.Rebind("SELECT id, username, password_hash, avatar_url FROM users WHERE id = ?")
	if err := s.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// SearchUsers returns users whose username contains query, ignoring case.
// The user with excludeID is left out.
func (s *SQLStore) SearchUsers(ctx context.Context, query string, excludeID int64, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	q := s.db.Rebind(`
		SELECT id, username, avatar_url
		FROM users
		WHERE LOWER(username) LIKE ? ESCAPE '\' AND id <> ?
		ORDER BY username
		LIMIT ?
	`)
	users := []models.User{}
	if err := s.db.SelectContext(ctx, &users, q, pattern, excludeID, limit); err != nil {
		return nil, err
	}
	return users, nil
}
