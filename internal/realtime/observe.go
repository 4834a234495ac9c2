package realtime

import (
	"context"
	"strconv"
	"time"

	"github.com/pratsy91/periskope-chat/internal/models"
	"github.com/pratsy91/periskope-chat/internal/store"
)

// Observe wraps s so that every successful write publishes a change event
// on h, the way a database change feed would.
func Observe(s store.Store, h *Hub) store.Store {
	return &observedStore{Store: s, hub: h}
}

type observedStore struct {
	store.Store
	hub *Hub
}

func id(v int64) string {
	return strconv.FormatInt(v, 10)
}

func (o *observedStore) publish(relation string, typ models.EventType, record map[string]string) {
	o.hub.Publish(models.ChangeEvent{
		Relation: relation,
		Type:     typ,
		Record:   record,
		At:       time.Now().UTC(),
	})
}

func (o *observedStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user, err := o.Store.CreateUser(ctx, username, passwordHash)
	if err != nil {
		return nil, err
	}
	o.publish(models.RelationUsers, models.EventInsert, map[string]string{
		"id": id(user.ID), "username": user.Username,
	})
	return user, nil
}

func (o *observedStore) CreateChat(ctx context.Context, name string) (*models.Chat, error) {
	chat, err := o.Store.CreateChat(ctx, name)
	if err != nil {
		return nil, err
	}
	// chats subscriptions are unscoped, so the record carries no name
	o.publish(models.RelationChats, models.EventInsert, map[string]string{"id": id(chat.ID)})
	return chat, nil
}

func (o *observedStore) MarkChatOpened(ctx context.Context, chatID int64, at time.Time) error {
	if err := o.Store.MarkChatOpened(ctx, chatID, at); err != nil {
		return err
	}
	o.publish(models.RelationChats, models.EventUpdate, map[string]string{"id": id(chatID)})
	return nil
}

// DeleteChat publishes a DELETE for every membership of the chat as well as
// for the chat itself, so member-scoped subscriptions see the removal.
func (o *observedStore) DeleteChat(ctx context.Context, chatID int64) error {
	members, err := o.Store.ChatMembers(ctx, chatID)
	if err != nil {
		return err
	}
	if err := o.Store.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	for _, m := range members {
		o.publish(models.RelationChatMembers, models.EventDelete, map[string]string{
			"chat_id": id(chatID), "user_id": id(m.UserID),
		})
	}
	o.publish(models.RelationChats, models.EventDelete, map[string]string{"id": id(chatID)})
	return nil
}

func (o *observedStore) AddMembers(ctx context.Context, chatID int64, userIDs ...int64) error {
	if err := o.Store.AddMembers(ctx, chatID, userIDs...); err != nil {
		return err
	}
	for _, userID := range userIDs {
		o.publish(models.RelationChatMembers, models.EventInsert, map[string]string{
			"chat_id": id(chatID), "user_id": id(userID),
		})
	}
	return nil
}

func (o *observedStore) UpsertLabel(ctx context.Context, name string) (*models.Label, error) {
	label, err := o.Store.UpsertLabel(ctx, name)
	if err != nil {
		return nil, err
	}
	o.publish(models.RelationLabels, models.EventInsert, map[string]string{
		"id": id(label.ID), "name": label.Name,
	})
	return label, nil
}

func (o *observedStore) LinkLabel(ctx context.Context, chatID, labelID int64) error {
	if err := o.Store.LinkLabel(ctx, chatID, labelID); err != nil {
		return err
	}
	o.publish(models.RelationChatLabels, models.EventInsert, map[string]string{
		"chat_id": id(chatID), "label_id": id(labelID),
	})
	return nil
}

func (o *observedStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if err := o.Store.SaveMessage(ctx, msg); err != nil {
		return err
	}
	o.publish(models.RelationMessages, models.EventInsert, map[string]string{
		"id": id(msg.ID), "chat_id": id(msg.ChatID), "sender_id": id(msg.SenderID),
	})
	return nil
}
