// Package chatsync keeps the client's chat list and the open chat's messages
// in step with the backend. Every trigger recomputes full state from the
// backend, so redundant or racing refreshes are harmless.
package chatsync

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/gateway"
	"github.com/pratsy91/periskope-chat/internal/mirror"
	"github.com/pratsy91/periskope-chat/internal/models"
)

// ChatList is the list of chats a user belongs to.
type ChatList struct {
	gw     gateway.Gateway
	mirror mirror.Store
	userID int64
	logger *zap.Logger

	// ResubscribeDelay is the pause before reopening a dropped change stream.
	ResubscribeDelay time.Duration

	refreshMu sync.Mutex

	mu       sync.RWMutex
	chats    []models.ChatSummary
	synced   bool
	onChange func([]models.ChatSummary)
}

func NewChatList(gw gateway.Gateway, m mirror.Store, userID int64, logger *zap.Logger) *ChatList {
	return &ChatList{
		gw:               gw,
		mirror:           m,
		userID:           userID,
		logger:           logger.With(zap.Int64("user_id", userID)),
		ResubscribeDelay: DefaultResubscribeDelay,
	}
}

// OnChange registers fn to receive the list after every change.
func (c *ChatList) OnChange(fn func([]models.ChatSummary)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Chats returns a copy of the current list.
func (c *ChatList) Chats() []models.ChatSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.chats)
}

func (c *ChatList) set(chats []models.ChatSummary, synced bool) {
	c.mu.Lock()
	if !synced && c.synced {
		// never paint cached state over a backend result
		c.mu.Unlock()
		return
	}
	c.chats = chats
	c.synced = c.synced || synced
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn(slices.Clone(chats))
	}
}

// Load paints the list from the mirror. It has no effect once a refresh
// has succeeded.
func (c *ChatList) Load(ctx context.Context) error {
	cached, err := c.mirror.Chats(ctx)
	if err != nil {
		c.logger.Warn("Failed to read cached chats", zap.Error(err))
		return err
	}
	SortChats(cached)
	c.set(cached, false)
	return nil
}

// Refresh replaces the list with the chats the user is a member of and
// brings the mirror in line with it. On a backend failure the current list
// is kept and the error returned.
func (c *ChatList) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	memberships, err := c.gw.Memberships(ctx, c.userID)
	if err != nil {
		c.logger.Error("Failed to fetch chats", zap.Error(err))
		return err
	}

	cached, err := c.mirror.Chats(ctx)
	if err != nil {
		c.logger.Warn("Failed to read cached chats", zap.Error(err))
		cached = nil
	}

	chats, orphans := MergeChats(memberships, cached)
	c.set(chats, true)

	// drops orphans even when the cached read failed
	if err := c.mirror.ReplaceChats(ctx, chats); err != nil {
		c.logger.Warn("Failed to cache chats", zap.Error(err))
	}
	c.logger.Debug("Chat list refreshed", zap.Int("chats", len(chats)), zap.Int("dropped", len(orphans)))
	return nil
}

// Run paints from the mirror, then keeps the list synchronized with
// membership, chat and label link changes until ctx is done.
func (c *ChatList) Run(ctx context.Context) error {
	c.Load(ctx)
	c.Refresh(ctx)

	f := &follower{
		gw:     c.gw,
		delay:  c.ResubscribeDelay,
		logger: c.logger,
		onSubscribed: func(ctx context.Context) {
			c.Refresh(ctx)
		},
		onEvent: func(ctx context.Context, ev models.ChangeEvent) {
			c.logger.Debug("Change received", zap.String("relation", ev.Relation), zap.String("type", string(ev.Type)))
			c.Refresh(ctx)
		},
	}
	return f.run(ctx,
		models.Subscription{
			Relation: models.RelationChatMembers,
			Events:   models.MaskAll,
			Filter:   &models.Filter{Column: "user_id", Value: strconv.FormatInt(c.userID, 10)},
		},
		models.Subscription{
			Relation: models.RelationChats,
			Events:   models.MaskAll,
		},
		models.Subscription{
			Relation: models.RelationChatLabels,
			Events:   models.MaskAll,
		},
	)
}
