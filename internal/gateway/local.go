package gateway

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/pratsy91/periskope-chat/internal/auth"
	"github.com/pratsy91/periskope-chat/internal/blob"
	"github.com/pratsy91/periskope-chat/internal/models"
	"github.com/pratsy91/periskope-chat/internal/realtime"
	"github.com/pratsy91/periskope-chat/internal/store"
)

// Local serves the gateway in-process. Writes should go through a store
// wrapped with realtime.Observe on Hub so subscribers see them. Local acts
// with full privileges: no membership checks are made.
type Local struct {
	Store store.Store
	Hub   *realtime.Hub
	Blob  *blob.Store
	Auth  *auth.Service
}

var _ Gateway = (*Local)(nil)

func (l *Local) SignIn(ctx context.Context, username, password string) (*models.AuthResult, error) {
	res, err := l.Auth.SignIn(ctx, username, password)
	switch {
	case errors.Is(err, auth.ErrUsernameRequired):
		err = errors.Join(ErrInvalid, err)
	case errors.Is(err, auth.ErrInvalidCredentials):
		err = errors.Join(ErrUnauthorized, err)
	}
	return res, wrap("sign in", models.RelationUsers, err)
}

func (l *Local) SearchUsers(ctx context.Context, query string, excludeID int64) ([]models.User, error) {
	users, err := l.Store.SearchUsers(ctx, query, excludeID, 0)
	return users, wrap("query", models.RelationUsers, err)
}

func (l *Local) Memberships(ctx context.Context, userID int64) ([]models.Membership, error) {
	ms, err := l.Store.UserMemberships(ctx, userID)
	return ms, wrap("query", models.RelationChatMembers, err)
}

func (l *Local) Members(ctx context.Context, chatID int64) ([]models.Member, error) {
	ms, err := l.Store.ChatMembers(ctx, chatID)
	return ms, wrap("query", models.RelationChatMembers, err)
}

func (l *Local) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	ok, err := l.Store.IsMember(ctx, chatID, userID)
	return ok, wrap("query", models.RelationChatMembers, err)
}

func (l *Local) AddMembers(ctx context.Context, chatID int64, userIDs ...int64) error {
	return wrap("insert", models.RelationChatMembers, l.Store.AddMembers(ctx, chatID, userIDs...))
}

func (l *Local) CreateChat(ctx context.Context, name string) (*models.Chat, error) {
	chat, err := l.Store.CreateChat(ctx, name)
	return chat, wrap("insert", models.RelationChats, err)
}

func (l *Local) MarkChatOpened(ctx context.Context, chatID int64) error {
	return wrap("update", models.RelationChats, l.Store.MarkChatOpened(ctx, chatID, time.Now().UTC()))
}

func (l *Local) DeleteChat(ctx context.Context, chatID int64) error {
	return wrap("delete", models.RelationChats, l.Store.DeleteChat(ctx, chatID))
}

func (l *Local) UpsertLabel(ctx context.Context, name string) (*models.Label, error) {
	label, err := l.Store.UpsertLabel(ctx, name)
	return label, wrap("upsert", models.RelationLabels, err)
}

func (l *Local) LinkLabel(ctx context.Context, chatID, labelID int64) error {
	return wrap("insert", models.RelationChatLabels, l.Store.LinkLabel(ctx, chatID, labelID))
}

func (l *Local) Messages(ctx context.Context, chatID int64) ([]models.Message, error) {
	msgs, err := l.Store.ChatMessages(ctx, chatID)
	return msgs, wrap("query", models.RelationMessages, err)
}

func (l *Local) InsertMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error) {
	m := &models.Message{
		ChatID:         msg.ChatID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		AttachmentURL:  msg.AttachmentURL,
		AttachmentType: msg.AttachmentType,
	}
	if err := l.Store.SaveMessage(ctx, m); err != nil {
		return nil, wrap("insert", models.RelationMessages, err)
	}
	return m, nil
}

func (l *Local) Subscribe(ctx context.Context, sub models.Subscription) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap("subscribe", sub.Relation, err)
	}
	return l.Hub.Subscribe(sub), nil
}

func (l *Local) Upload(ctx context.Context, bucket, path, contentType string, body io.Reader) (string, error) {
	url, err := l.Blob.Upload(ctx, bucket, path, body)
	switch {
	case errors.Is(err, blob.ErrInvalidPath):
		err = errors.Join(ErrInvalid, err)
	case errors.Is(err, blob.ErrExists):
		err = errors.Join(ErrConflict, err)
	}
	return url, wrap("upload", bucket, err)
}
