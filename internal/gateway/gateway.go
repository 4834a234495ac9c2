// Package gateway is the client's single point of contact with the backend:
// relational reads and writes, change subscriptions and blob uploads.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pratsy91/periskope-chat/internal/models"
	"github.com/pratsy91/periskope-chat/internal/store"
)

var (
	ErrNotFound     = store.ErrNotFound
	ErrConflict     = store.ErrConflict
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalid      = errors.New("invalid request")
)

// Error is a failed gateway call. Err is matched by errors.Is against the
// sentinels above.
type Error struct {
	Op       string
	Relation string
	Err      error
}

func (e *Error) Error() string {
	if e.Relation == "" {
		return fmt.Sprintf("gateway: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway: %s %s: %v", e.Op, e.Relation, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op, relation string, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	return &Error{Op: op, Relation: relation, Err: err}
}

// Subscription is a live change subscription. Events is closed when the
// subscription ends for any reason.
type Subscription interface {
	Events() <-chan models.ChangeEvent
	Close() error
}

// Gateway performs single-shot backend operations. Calls are never retried.
type Gateway interface {
	SignIn(ctx context.Context, username, password string) (*models.AuthResult, error)
	SearchUsers(ctx context.Context, query string, excludeID int64) ([]models.User, error)

	Memberships(ctx context.Context, userID int64) ([]models.Membership, error)
	Members(ctx context.Context, chatID int64) ([]models.Member, error)
	IsMember(ctx context.Context, chatID, userID int64) (bool, error)
	AddMembers(ctx context.Context, chatID int64, userIDs ...int64) error

	CreateChat(ctx context.Context, name string) (*models.Chat, error)
	MarkChatOpened(ctx context.Context, chatID int64) error
	DeleteChat(ctx context.Context, chatID int64) error

	UpsertLabel(ctx context.Context, name string) (*models.Label, error)
	LinkLabel(ctx context.Context, chatID, labelID int64) error

	Messages(ctx context.Context, chatID int64) ([]models.Message, error)
	InsertMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error)

	Subscribe(ctx context.Context, sub models.Subscription) (Subscription, error)
	Upload(ctx context.Context, bucket, path, contentType string, body io.Reader) (string, error)
}
