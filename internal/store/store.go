package store

import (
	"context"
	"errors"
	"time"

	"github.com/pratsy91/periskope-chat/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type Store interface {
	// User operations
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	SearchUsers(ctx context.Context, query string, excludeID int64, limit int) ([]models.User, error)

	// Chat operations
	CreateChat(ctx context.Context, name string) (*models.Chat, error)
	GetChat(ctx context.Context, chatID int64) (*models.Chat, error)
	MarkChatOpened(ctx context.Context, chatID int64, at time.Time) error
	DeleteChat(ctx context.Context, chatID int64) error

	// Membership operations
	AddMembers(ctx context.Context, chatID int64, userIDs ...int64) error
	IsMember(ctx context.Context, chatID, userID int64) (bool, error)
	ChatMembers(ctx context.Context, chatID int64) ([]models.Member, error)
	UserMemberships(ctx context.Context, userID int64) ([]models.Membership, error)

	// Label operations
	UpsertLabel(ctx context.Context, name string) (*models.Label, error)
	LinkLabel(ctx context.Context, chatID, labelID int64) error

	// Message operations
	SaveMessage(ctx context.Context, msg *models.Message) error
	ChatMessages(ctx context.Context, chatID int64) ([]models.Message, error)
}
