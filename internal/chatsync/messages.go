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

// Messages is the message history of the selected chat.
type Messages struct {
	gw     gateway.Gateway
	mirror mirror.Store
	logger *zap.Logger

	// ResubscribeDelay is the pause before reopening a dropped change stream.
	ResubscribeDelay time.Duration

	refreshMu sync.Mutex

	mu       sync.RWMutex
	chatID   int64
	messages []models.Message
	onChange func(chatID int64, messages []models.Message)
}

func NewMessages(gw gateway.Gateway, m mirror.Store, logger *zap.Logger) *Messages {
	return &Messages{
		gw:               gw,
		mirror:           m,
		logger:           logger,
		ResubscribeDelay: DefaultResubscribeDelay,
	}
}

// OnChange registers fn to receive the history after every change.
func (m *Messages) OnChange(fn func(chatID int64, messages []models.Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Selected returns the selected chat, or 0.
func (m *Messages) Selected() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chatID
}

// Messages returns a copy of the selected chat's history.
func (m *Messages) Messages() []models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.messages)
}

// apply replaces the history if chatID is still selected.
func (m *Messages) apply(chatID int64, messages []models.Message) bool {
	m.mu.Lock()
	if m.chatID != chatID {
		m.mu.Unlock()
		return false
	}
	m.messages = messages
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(chatID, slices.Clone(messages))
	}
	return true
}

// Open selects chatID, paints its cached history and then fetches it.
func (m *Messages) Open(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	m.chatID = chatID
	m.messages = nil
	m.mu.Unlock()

	cached, err := m.mirror.Messages(ctx, chatID)
	if err != nil {
		m.logger.Warn("Failed to read cached messages", zap.Int64("chat_id", chatID), zap.Error(err))
	} else {
		SortMessages(cached)
		m.apply(chatID, cached)
	}
	return m.Refresh(ctx)
}

// Clear deselects the chat.
func (m *Messages) Clear() {
	m.mu.Lock()
	m.chatID = 0
	m.messages = nil
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(0, nil)
	}
}

// Refresh replaces the history with the backend's, oldest first. A result
// arriving after the selection moved on is discarded.
func (m *Messages) Refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	chatID := m.Selected()
	if chatID == 0 {
		return nil
	}

	messages, err := m.gw.Messages(ctx, chatID)
	if err != nil {
		m.logger.Error("Failed to fetch messages", zap.Int64("chat_id", chatID), zap.Error(err))
		return err
	}
	SortMessages(messages)

	if !m.apply(chatID, messages) {
		m.logger.Debug("Discarding messages of deselected chat", zap.Int64("chat_id", chatID))
		return nil
	}

	if err := m.mirror.PutMessages(ctx, messages); err != nil {
		m.logger.Warn("Failed to cache messages", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return nil
}

// Run opens chatID and refreshes it on every message inserted into it
// until ctx is done.
func (m *Messages) Run(ctx context.Context, chatID int64) error {
	key := strconv.FormatInt(chatID, 10)
	m.Open(ctx, chatID)

	f := &follower{
		gw:     m.gw,
		delay:  m.ResubscribeDelay,
		logger: m.logger.With(zap.Int64("chat_id", chatID)),
		onSubscribed: func(ctx context.Context) {
			if m.Selected() == chatID {
				m.Refresh(ctx)
			}
		},
		onEvent: func(ctx context.Context, ev models.ChangeEvent) {
			if ev.Record["chat_id"] != key || m.Selected() != chatID {
				return
			}
			m.Refresh(ctx)
		},
	}
	return f.run(ctx, models.Subscription{
		Relation: models.RelationMessages,
		Events:   models.MaskInsert,
		Filter:   &models.Filter{Column: "chat_id", Value: key},
	})
}
