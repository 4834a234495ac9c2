// Package chatops implements the chat and member mutations offered to the
// user. Steps of one operation are separate backend calls: a failure leaves
// the effects of earlier steps in place.
package chatops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/blob"
	"github.com/pratsy91/periskope-chat/internal/gateway"
	"github.com/pratsy91/periskope-chat/internal/mirror"
	"github.com/pratsy91/periskope-chat/internal/models"
)

// MinSearchLength is the shortest query SearchUsers sends to the backend.
const MinSearchLength = 2

var (
	ErrGroupTooSmall = errors.New("select at least 2 other members")
	ErrNameRequired  = errors.New("chat name is required")
	ErrEmptyMessage  = errors.New("message needs content or an attachment")
	ErrAlreadyMember = errors.New("user is already a member")
	ErrSelfChat      = errors.New("cannot start a chat with yourself")
)

// Refresher resynchronizes the chat list after a mutation.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type Service struct {
	Gateway gateway.Gateway
	Mirror  mirror.Store
	Logger  *zap.Logger

	// ChatList is refreshed after chats are created or deleted. Optional.
	ChatList Refresher

	// Now stamps attachment paths. Defaults to time.Now.
	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) refreshList(ctx context.Context) {
	if s.ChatList == nil {
		return
	}
	if err := s.ChatList.Refresh(ctx); err != nil {
		s.Logger.Warn("Chat list refresh after mutation failed", zap.Error(err))
	}
}

// FindDirectChat returns the first chat of me whose members are exactly me
// and other, or nil.
func (s *Service) FindDirectChat(ctx context.Context, me, other int64) (*models.ChatSummary, error) {
	memberships, err := s.Gateway.Memberships(ctx, me)
	if err != nil {
		return nil, err
	}
	for _, m := range memberships {
		members, err := s.Gateway.Members(ctx, m.ChatID)
		if err != nil {
			return nil, err
		}
		if !isPair(members, me, other) {
			continue
		}
		summary := &models.ChatSummary{ID: m.ChatID, Name: models.UnnamedChat, Labels: []string{}}
		if m.Chat != nil {
			if m.Chat.Name != "" {
				summary.Name = m.Chat.Name
			}
			summary.LastOpenedAt = m.Chat.LastOpenedAt
			summary.Labels = m.Chat.Labels
		}
		return summary, nil
	}
	return nil, nil
}

func isPair(members []models.Member, a, b int64) bool {
	if len(members) != 2 {
		return false
	}
	ids := []int64{members[0].UserID, members[1].UserID}
	return slices.Contains(ids, a) && slices.Contains(ids, b)
}

// StartDirectChat returns the existing direct chat between me and other or
// creates it. created reports whether a new chat was made.
func (s *Service) StartDirectChat(ctx context.Context, me, other int64, name, label string) (chat *models.ChatSummary, created bool, err error) {
	if me == other {
		return nil, false, ErrSelfChat
	}

	existing, err := s.FindDirectChat(ctx, me, other)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	chat, err = s.createChat(ctx, name, label, []int64{me, other})
	if err != nil {
		return nil, false, err
	}
	s.Logger.Info("Direct chat created", zap.Int64("chat_id", chat.ID), zap.Int64("user_id", me), zap.Int64("other_id", other))
	return chat, true, nil
}

type GroupRequest struct {
	Name      string
	MemberIDs []int64
	Label     string
}

// CreateGroupChat creates a named chat for me and at least two others.
// Invalid requests are rejected before any backend call.
func (s *Service) CreateGroupChat(ctx context.Context, me int64, req GroupRequest) (*models.ChatSummary, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrNameRequired
	}

	members := []int64{me}
	for _, id := range req.MemberIDs {
		if !slices.Contains(members, id) {
			members = append(members, id)
		}
	}
	if len(members)-1 < 2 {
		return nil, ErrGroupTooSmall
	}

	chat, err := s.createChat(ctx, name, req.Label, members)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("Group chat created", zap.Int64("chat_id", chat.ID), zap.Int("members", len(members)))
	return chat, nil
}

// createChat inserts the chat and its members, then links the optional label.
func (s *Service) createChat(ctx context.Context, name, label string, members []int64) (*models.ChatSummary, error) {
	chat, err := s.Gateway.CreateChat(ctx, name)
	if err != nil {
		return nil, err
	}
	summary := &models.ChatSummary{ID: chat.ID, Name: chat.Name, Labels: []string{}}
	if summary.Name == "" {
		summary.Name = models.UnnamedChat
	}

	if err := s.Gateway.AddMembers(ctx, chat.ID, members...); err != nil {
		return nil, err
	}

	// labels can only be linked by members
	if label = strings.TrimSpace(label); label != "" {
		l, err := s.Gateway.UpsertLabel(ctx, label)
		if err != nil {
			return nil, err
		}
		if err := s.Gateway.LinkLabel(ctx, chat.ID, l.ID); err != nil {
			return nil, err
		}
		summary.Labels = []string{l.Name}
	}
	s.refreshList(ctx)
	return summary, nil
}

// AddMember adds userID to the chat. ErrAlreadyMember is returned when the
// membership exists, whether found by the check or by the insert.
func (s *Service) AddMember(ctx context.Context, chatID, userID int64) error {
	isMember, err := s.Gateway.IsMember(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if isMember {
		return ErrAlreadyMember
	}

	err = s.Gateway.AddMembers(ctx, chatID, userID)
	if errors.Is(err, gateway.ErrConflict) {
		return ErrAlreadyMember
	}
	return err
}

// DeleteChat deletes the chat remotely and locally, then resynchronizes the
// chat list. The caller clears its selection. A chat already gone remotely
// is not an error.
func (s *Service) DeleteChat(ctx context.Context, chatID int64) error {
	if err := s.Gateway.DeleteChat(ctx, chatID); err != nil && !errors.Is(err, gateway.ErrNotFound) {
		return err
	}
	if err := s.Mirror.DeleteChat(ctx, chatID); err != nil {
		s.Logger.Warn("Failed to drop cached chat", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	s.Logger.Info("Chat deleted", zap.Int64("chat_id", chatID))
	s.refreshList(ctx)
	return nil
}

// OpenChat records that the chat was opened now.
func (s *Service) OpenChat(ctx context.Context, chatID int64) error {
	return s.Gateway.MarkChatOpened(ctx, chatID)
}

type Attachment struct {
	URL  string
	Type string
}

// SendMessage posts a message from sender. Content or an attachment is
// required.
func (s *Service) SendMessage(ctx context.Context, chatID, sender int64, content string, att *Attachment) (*models.Message, error) {
	msg := models.NewMessage{ChatID: chatID, SenderID: sender, Content: content}
	if att != nil {
		msg.AttachmentURL = att.URL
		msg.AttachmentType = att.Type
	}
	if strings.TrimSpace(msg.Content) == "" && msg.AttachmentURL == "" {
		return nil, ErrEmptyMessage
	}
	return s.Gateway.InsertMessage(ctx, msg)
}

// UploadAttachment stores the file under the chat's attachment path and
// sends it as a message without text.
func (s *Service) UploadAttachment(ctx context.Context, chatID, sender int64, filename, contentType string, body io.Reader) (*models.Message, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, fmt.Errorf("%w: filename is required", gateway.ErrInvalid)
	}
	path := blob.ObjectPath(chatID, s.now(), filename)
	url, err := s.Gateway.Upload(ctx, blob.AttachmentsBucket, path, contentType, body)
	if err != nil {
		return nil, err
	}
	return s.SendMessage(ctx, chatID, sender, "", &Attachment{URL: url, Type: contentType})
}

// SearchUsers finds other users whose name contains query. Queries shorter
// than MinSearchLength return no users without a backend call.
func (s *Service) SearchUsers(ctx context.Context, me int64, query string) ([]models.User, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < MinSearchLength {
		return nil, nil
	}
	return s.Gateway.SearchUsers(ctx, query, me)
}

// Members lists the chat's members for its header.
func (s *Service) Members(ctx context.Context, chatID int64) ([]models.Member, error) {
	return s.Gateway.Members(ctx, chatID)
}
