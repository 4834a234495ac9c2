package chatsync

import (
	"sort"
	"strings"

	"github.com/pratsy91/periskope-chat/internal/models"
)

// MergeChats derives the chat list from the user's memberships. Names
// missing remotely are taken from cached, else UnnamedChat. orphans lists
// the cached chats the user no longer belongs to.
func MergeChats(memberships []models.Membership, cached []models.ChatSummary) (chats []models.ChatSummary, orphans []int64) {
	cachedNames := make(map[int64]string, len(cached))
	for _, c := range cached {
		cachedNames[c.ID] = c.Name
	}

	current := make(map[int64]bool, len(memberships))
	chats = make([]models.ChatSummary, 0, len(memberships))
	for _, m := range memberships {
		if current[m.ChatID] {
			continue
		}
		current[m.ChatID] = true

		summary := models.ChatSummary{ID: m.ChatID, Labels: []string{}}
		if m.Chat != nil {
			summary.Name = m.Chat.Name
			summary.LastOpenedAt = m.Chat.LastOpenedAt
			if m.Chat.Labels != nil {
				summary.Labels = m.Chat.Labels
			}
		}
		if summary.Name == "" {
			summary.Name = cachedNames[m.ChatID]
		}
		if summary.Name == "" {
			summary.Name = models.UnnamedChat
		}
		chats = append(chats, summary)
	}
	SortChats(chats)

	for _, c := range cached {
		if !current[c.ID] {
			orphans = append(orphans, c.ID)
		}
	}
	return chats, orphans
}

// SortChats orders chats most recently opened first. Chats never opened
// come last, by id.
func SortChats(chats []models.ChatSummary) {
	sort.SliceStable(chats, func(i, j int) bool {
		a, b := chats[i].LastOpenedAt, chats[j].LastOpenedAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return chats[i].ID < chats[j].ID
	})
}

// FilterChats returns the chats whose name contains query, ignoring case.
// A blank query matches every chat.
func FilterChats(chats []models.ChatSummary, query string) []models.ChatSummary {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return chats
	}
	matched := make([]models.ChatSummary, 0, len(chats))
	for _, c := range chats {
		if strings.Contains(strings.ToLower(c.Name), query) {
			matched = append(matched, c)
		}
	}
	return matched
}

// SortMessages orders messages by creation time, then id.
func SortMessages(messages []models.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		a, b := messages[i], messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
