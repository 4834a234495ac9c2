package sqlstore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pratsy91/periskope-chat/internal/models"
	"github.com/pratsy91/periskope-chat/internal/store"
)

func (s *SQLStore) CreateChat(ctx context.Context, name string) (*models.Chat, error) {
	chat := &models.Chat{Name: name, CreatedAt: time.Now().UTC()}
	query := s.db.Rebind("INSERT INTO chats (name, created_at) VALUES (?, ?) RETURNING id")
	if err := s.db.QueryRowxContext(ctx, query, chat.Name, chat.CreatedAt).Scan(&chat.ID); err != nil {
		return nil, translate(err)
	}
	return chat, nil
}

func (s *SQLStore) GetChat(ctx context.Context, chatID int64) (*models.Chat, error) {
	var chat models.Chat
	query := s.db.Rebind("SELECT id, name, created_at, last_opened_at FROM chats WHERE id = ?")
	if err := s.db.GetContext(ctx, &chat, query, chatID); err != nil {
		return nil, translate(err)
	}
	return &chat, nil
}

func (s *SQLStore) MarkChatOpened(ctx context.Context, chatID int64, at time.Time) error {
	query := s.db.Rebind("UPDATE chats SET last_opened_at = ? WHERE id = ?")
	res, err := s.db.ExecContext(ctx, query, at.UTC(), chatID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteChat removes the chat together with its messages, labels and
// memberships in one transaction.
func (s *SQLStore) DeleteChat(ctx context.Context, chatID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM messages WHERE chat_id = ?",
		"DELETE FROM chat_labels WHERE chat_id = ?",
		"DELETE FROM chat_members WHERE chat_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, tx.Rebind(q), chatID); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM chats WHERE id = ?"), chatID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

// AddMembers inserts one membership row per user. The insert is all or
// nothing; an existing pair fails the whole call with store.ErrConflict.
func (s *SQLStore) AddMembers(ctx context.Context, chatID int64, userIDs ...int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := tx.Rebind("INSERT INTO chat_members (chat_id, user_id) VALUES (?, ?)")
	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx, query, chatID, userID); err != nil {
			return translate(err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	var exists bool
	query := s.db.Rebind("SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id = ? AND user_id = ?)")
	err := s.db.QueryRowxContext(ctx, query, chatID, userID).Scan(&exists)
	return exists, err
}

func (s *SQLStore) ChatMembers(ctx context.Context, chatID int64) ([]models.Member, error) {
	query := s.db.Rebind(`
		SELECT m.chat_id, m.user_id, COALESCE(u.username, '') AS username
		FROM chat_members m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = ?
		ORDER BY m.user_id
	`)
	members := []models.Member{}
	if err := s.db.SelectContext(ctx, &members, query, chatID); err != nil {
		return nil, err
	}
	for i := range members {
		if members[i].Username == "" {
			members[i].Username = models.UnknownUser
		}
	}
	return members, nil
}

type membershipRow struct {
	ChatID       int64      `db:"chat_id"`
	HasChat      bool       `db:"has_chat"`
	Name         string     `db:"name"`
	LastOpenedAt *time.Time `db:"last_opened_at"`
}

type chatLabelRow struct {
	ChatID int64  `db:"chat_id"`
	Name   string `db:"name"`
}

// UserMemberships returns the user's memberships joined to chat name,
// last-opened time and label names, most recently opened first.
func (s *SQLStore) UserMemberships(ctx context.Context, userID int64) ([]models.Membership, error) {
	query := s.db.Rebind(`
		SELECT m.chat_id, c.id IS NOT NULL AS has_chat, COALESCE(c.name, '') AS name, c.last_opened_at
		FROM chat_members m
		LEFT JOIN chats c ON c.id = m.chat_id
		WHERE m.user_id = ?
		ORDER BY c.last_opened_at IS NULL, c.last_opened_at DESC, m.chat_id
	`)
	var rows []membershipRow
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}

	memberships := make([]models.Membership, 0, len(rows))
	if len(rows) == 0 {
		return memberships, nil
	}

	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ChatID)
	}
	labels, err := s.labelsFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, r := range rows {
		m := models.Membership{ChatID: r.ChatID}
		if r.HasChat {
			m.Chat = &models.ChatRef{
				Name:         r.Name,
				LastOpenedAt: r.LastOpenedAt,
				Labels:       labels[r.ChatID],
			}
			if m.Chat.Labels == nil {
				m.Chat.Labels = []string{}
			}
		}
		memberships = append(memberships, m)
	}
	return memberships, nil
}

func (s *SQLStore) labelsFor(ctx context.Context, chatIDs []int64) (map[int64][]string, error) {
	query, args, err := sqlx.In(`
		SELECT cl.chat_id, l.name
		FROM chat_labels cl
		JOIN labels l ON l.id = cl.label_id
		WHERE cl.chat_id IN (?)
		ORDER BY l.name
	`, chatIDs)
	if err != nil {
		return nil, err
	}
	var rows []chatLabelRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make(map[int64][]string, len(chatIDs))
	for _, r := range rows {
		out[r.ChatID] = append(out[r.ChatID], r.Name)
	}
	return out, nil
}

// UpsertLabel returns the label with the given name, creating it if needed.
func (s *SQLStore) UpsertLabel(ctx context.Context, name string) (*models.Label, error) {
	var label models.Label
	query := s.db.Rebind(`
		INSERT INTO labels (name) VALUES (?)
		ON CONFLICT (name) DO UPDATE SET name = excluded.name
		RETURNING id, name
	`)
	if err := s.db.QueryRowxContext(ctx, query, name).StructScan(&label); err != nil {
		return nil, translate(err)
	}
	return &label, nil
}

func (s *SQLStore) LinkLabel(ctx context.Context, chatID, labelID int64) error {
	query := s.db.Rebind("INSERT INTO chat_labels (chat_id, label_id) VALUES (?, ?)")
	_, err := s.db.ExecContext(ctx, query, chatID, labelID)
	return translate(err)
}

// SaveMessage inserts msg and fills in its id, stamping CreatedAt when unset.
func (s *SQLStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	query := s.db.Rebind(`
		INSERT INTO messages (chat_id, sender_id, content, attachment_url, attachment_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`)
	err := s.db.QueryRowxContext(ctx, query, msg.ChatID, msg.SenderID, msg.Content,
		msg.AttachmentURL, msg.AttachmentType, msg.CreatedAt.UTC()).Scan(&msg.ID)
	return translate(err)
}

func (s *SQLStore) ChatMessages(ctx context.Context, chatID int64) ([]models.Message, error) {
	query := s.db.Rebind(`
		SELECT id, chat_id, sender_id, content, attachment_url, attachment_type, created_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at ASC, id ASC
	`)
	messages := []models.Message{}
	if err := s.db.SelectContext(ctx, &messages, query, chatID); err != nil {
		return nil, err
	}
	return messages, nil
}
