// Package mirror keeps a local copy of the chat list and message histories
// so the client can paint before the backend answers.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pratsy91/periskope-chat/internal/models"
)

// Store is the local mirror. Put* replace records by id.
type Store interface {
	PutChats(ctx context.Context, chats []models.ChatSummary) error
	ReplaceChats(ctx context.Context, chats []models.ChatSummary) error
	Chats(ctx context.Context) ([]models.ChatSummary, error)
	DeleteChat(ctx context.Context, chatID int64) error

	PutMessages(ctx context.Context, messages []models.Message) error
	Messages(ctx context.Context, chatID int64) ([]models.Message, error)

	Close() error
}

type chatRow struct {
	ID           int64 `gorm:"primaryKey;autoIncrement:false"`
	Name         string
	LastOpenedAt *time.Time
	Labels       []string `gorm:"serializer:json"`
}

func (chatRow) TableName() string { return "chats" }

type messageRow struct {
	ID             int64 `gorm:"primaryKey;autoIncrement:false"`
	ChatID         int64 `gorm:"index"`
	SenderID       int64
	Content        string
	AttachmentURL  string
	AttachmentType string
	SentAt         time.Time `gorm:"index"`
}

func (messageRow) TableName() string { return "messages" }

// DB is a mirror kept in a SQLite file.
type DB struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ Store = (*DB)(nil)

// Open opens or creates the mirror at path.
func Open(path string, logger *zap.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create mirror directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror %s: %w", path, err)
	}
	if err := db.AutoMigrate(&chatRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("mirror migration failed: %w", err)
	}
	logger.Debug("Mirror opened", zap.String("path", path))
	return &DB{db: db, logger: logger}, nil
}

func (m *DB) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PutChats upserts every chat in one transaction.
func (m *DB) PutChats(ctx context.Context, chats []models.ChatSummary) error {
	if len(chats) == 0 {
		return nil
	}
	rows := make([]chatRow, len(chats))
	for i, c := range chats {
		rows[i] = chatRow{ID: c.ID, Name: c.Name, LastOpenedAt: c.LastOpenedAt, Labels: c.Labels}
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	})
}

// ReplaceChats makes chats the whole cached chat list. Chats not in the list
// are dropped with their messages, in the same transaction as the upsert.
func (m *DB) ReplaceChats(ctx context.Context, chats []models.ChatSummary) error {
	ids := make([]int64, len(chats))
	rows := make([]chatRow, len(chats))
	for i, c := range chats {
		ids[i] = c.ID
		rows[i] = chatRow{ID: c.ID, Name: c.Name, LastOpenedAt: c.LastOpenedAt, Labels: c.Labels}
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		staleMessages, staleChats := tx.Where("1 = 1"), tx.Where("1 = 1")
		if len(ids) > 0 {
			staleMessages = tx.Where("chat_id NOT IN ?", ids)
			staleChats = tx.Where("id NOT IN ?", ids)
		}
		if err := staleMessages.Delete(&messageRow{}).Error; err != nil {
			return err
		}
		res := staleChats.Delete(&chatRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			m.logger.Debug("Dropped stale chats from mirror", zap.Int64("count", res.RowsAffected))
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	})
}

func (m *DB) Chats(ctx context.Context) ([]models.ChatSummary, error) {
	var rows []chatRow
	if err := m.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	chats := make([]models.ChatSummary, len(rows))
	for i, r := range rows {
		chats[i] = models.ChatSummary{ID: r.ID, Name: r.Name, LastOpenedAt: r.LastOpenedAt, Labels: r.Labels}
	}
	return chats, nil
}

// DeleteChat removes a chat and its cached messages.
func (m *DB) DeleteChat(ctx context.Context, chatID int64) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&messageRow{}).Error; err != nil {
			return err
		}
		return tx.Delete(&chatRow{}, chatID).Error
	})
}

// PutMessages upserts every message in one transaction.
func (m *DB) PutMessages(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	rows := make([]messageRow, len(messages))
	for i, msg := range messages {
		rows[i] = messageRow{
			ID:             msg.ID,
			ChatID:         msg.ChatID,
			SenderID:       msg.SenderID,
			Content:        msg.Content,
			AttachmentURL:  msg.AttachmentURL,
			AttachmentType: msg.AttachmentType,
			SentAt:         msg.CreatedAt.UTC(),
		}
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	})
}

// Messages returns the cached messages of a chat, oldest first.
func (m *DB) Messages(ctx context.Context, chatID int64) ([]models.Message, error) {
	var rows []messageRow
	err := m.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("sent_at, id").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	messages := make([]models.Message, len(rows))
	for i, r := range rows {
		messages[i] = models.Message{
			ID:             r.ID,
			ChatID:         r.ChatID,
			SenderID:       r.SenderID,
			Content:        r.Content,
			AttachmentURL:  r.AttachmentURL,
			AttachmentType: r.AttachmentType,
			CreatedAt:      r.SentAt,
		}
	}
	return messages, nil
}

// Nop is the mirror used when no persistent store is configured. It stores
// nothing and never fails.
type Nop struct{}

var _ Store = Nop{}

func (Nop) PutChats(context.Context, []models.ChatSummary) error      { return nil }
func (Nop) ReplaceChats(context.Context, []models.ChatSummary) error  { return nil }
func (Nop) Chats(context.Context) ([]models.ChatSummary, error)       { return nil, nil }
func (Nop) DeleteChat(context.Context, int64) error                   { return nil }
func (Nop) PutMessages(context.Context, []models.Message) error       { return nil }
func (Nop) Messages(context.Context, int64) ([]models.Message, error) { return nil, nil }
func (Nop) Close() error                                              { return nil }
