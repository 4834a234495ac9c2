package models

import "time"

// Relation names as exposed by the backend and its change feed.
const (
	RelationUsers       = "users"
	RelationChats       = "chats"
	RelationChatMembers = "chat_members"
	RelationLabels      = "labels"
	RelationChatLabels  = "chat_labels"
	RelationMessages    = "messages"
)

// UnnamedChat is shown for chats that have no name remotely or in the mirror.
const UnnamedChat = "Unnamed Chat"

// UnknownUser is shown for members whose user row could not be joined.
const UnknownUser = "Unknown User"

type User struct {
	ID           int64  `db:"id" json:"id"`
	Username     string `db:"username" json:"username"`
	PasswordHash string `db:"password_hash" json:"-"`
	AvatarURL    string `db:"avatar_url" json:"avatar_url,omitempty"`
}

type Chat struct {
	ID           int64      `db:"id" json:"id"`
	Name         string     `db:"name" json:"name"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	LastOpenedAt *time.Time `db:"last_opened_at" json:"last_opened_at,omitempty"`
}

// Member is a chat_members row joined to the member's username.
type Member struct {
	ChatID   int64  `db:"chat_id" json:"chat_id"`
	UserID   int64  `db:"user_id" json:"user_id"`
	Username string `db:"username" json:"username"`
}

// ChatRef is the chat side of a membership join. It is nil on a Membership
// whose chat row is missing.
type ChatRef struct {
	Name         string     `json:"name"`
	LastOpenedAt *time.Time `json:"last_opened_at,omitempty"`
	Labels       []string   `json:"labels"`
}

// Membership is one chat_members row of a user, joined to its chat and labels.
type Membership struct {
	ChatID int64    `json:"chat_id"`
	Chat   *ChatRef `json:"chat,omitempty"`
}

type Label struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

type Message struct {
	ID             int64     `db:"id" json:"id"`
	ChatID         int64     `db:"chat_id" json:"chat_id"`
	SenderID       int64     `db:"sender_id" json:"sender_id"`
	Content        string    `db:"content" json:"content"`
	AttachmentURL  string    `db:"attachment_url" json:"attachment_url,omitempty"`
	AttachmentType string    `db:"attachment_type" json:"attachment_type,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// NewMessage is the insert payload for a message.
type NewMessage struct {
	ChatID         int64  `json:"chat_id"`
	SenderID       int64  `json:"sender_id"`
	Content        string `json:"content"`
	AttachmentURL  string `json:"attachment_url,omitempty"`
	AttachmentType string `json:"attachment_type,omitempty"`
}

// ChatSummary is an entry of a user's chat list and the record kept for it
// in the local mirror.
type ChatSummary struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	LastOpenedAt *time.Time `json:"last_opened_at,omitempty"`
	Labels       []string   `json:"labels"`
}

// AuthResult is returned by a successful sign-in. Token is empty for
// in-process gateways.
type AuthResult struct {
	User  User   `json:"user"`
	Token string `json:"token,omitempty"`
}
