package visibility

import (
	"context"
	"fmt"
	"time"

	"github.com/dreamerumesh/connecTu-backend/internal/apperr"
	"github.com/dreamerumesh/connecTu-backend/internal/models"
)

// MessageReader is the read side of the message log the resolver needs.
type MessageReader interface {
	History(ctx context.Context, chatID string, rule Rule, page Page) ([]*models.Message, error)
	LastVisible(ctx context.Context, chatID string, rule Rule) (*models.Message, error)
	CountUnread(ctx context.Context, chatID string, rule Rule) (int64, error)
}

type ChatLister interface {
	ListForUser(ctx context.Context, userID string, limit int64) ([]*models.Chat, error)
}

type UserGetter interface {
	GetMany(ctx context.Context, ids []string) (map[string]*models.User, error)
}

// ChatUser is the other participant as shown in the viewer's chat list.
type ChatUser struct {
	ID         string    `json:"id"`
	Phone      string    `json:"phone"`
	Name       string    `json:"name"`
	ProfilePic string    `json:"profilePic"`
	IsOnline   bool      `json:"isOnline"`
	LastSeen   time.Time `json:"lastSeen"`
}

type ChatEntry struct {
	ChatID          string             `json:"chatId"`
	User            ChatUser           `json:"user"`
	LastMessage     string             `json:"lastMessage"`
	LastMessageTime *time.Time         `json:"lastMessageTime"`
	LastMessageType models.MessageType `json:"lastMessageType,omitempty"`
	UnreadCount     int64              `json:"unreadCount"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// Resolver derives per-viewer views from the message log. Summaries are
// recomputed on every call; the chat's lastMessage snapshot is never trusted.
type Resolver struct {
	messages MessageReader
	chats    ChatLister
	users    UserGetter
}

func NewResolver(messages MessageReader, chats ChatLister, users UserGetter) *Resolver {
	return &Resolver{messages: messages, chats: chats, users: users}
}

// DisplayName is the viewer's saved name for other, falling back to the phone.
func DisplayName(viewer, other *models.User) string {
	if viewer != nil {
		if name, ok := viewer.ContactName(other.Phone); ok && name != "" {
			return name
		}
	}
	return other.Phone
}

// ChatList returns the viewer's chats, most recently active first.
func (r *Resolver) ChatList(ctx context.Context, viewer *models.User, limit int64) ([]ChatEntry, error) {
	chats, err := r.chats.ListForUser(ctx, viewer.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	if len(chats) == 0 {
		return []ChatEntry{}, nil
	}

	ids := make([]string, 0, len(chats))
	for _, c := range chats {
		ids = append(ids, c.Other(viewer.ID))
	}
	others, err := r.users.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}

	out := make([]ChatEntry, 0, len(chats))
	for _, c := range chats {
		other, ok := others[c.Other(viewer.ID)]
		if !ok {
			continue
		}
		entry, err := r.Entry(ctx, c, viewer, other)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// Entry builds a single chat-list row for viewer.
func (r *Resolver) Entry(ctx context.Context, chat *models.Chat, viewer, other *models.User) (ChatEntry, error) {
	rule := For(chat, viewer.ID)

	last, err := r.messages.LastVisible(ctx, chat.ID, rule)
	if err != nil {
		return ChatEntry{}, fmt.Errorf("last message: %w", err)
	}
	unread, err := r.UnreadCount(ctx, chat, viewer.ID)
	if err != nil {
		return ChatEntry{}, err
	}

	entry := ChatEntry{
		ChatID: chat.ID,
		User: ChatUser{
			ID:         other.ID,
			Phone:      other.Phone,
			Name:       DisplayName(viewer, other),
			ProfilePic: other.ProfilePic,
			IsOnline:   other.IsOnline,
			LastSeen:   other.LastSeen,
		},
		UnreadCount: unread,
		UpdatedAt:   chat.UpdatedAt,
	}
	if last != nil {
		t := last.CreatedAt
		entry.LastMessage = last.Content
		entry.LastMessageTime = &t
		entry.LastMessageType = last.Type
	}
	return entry, nil
}

// History returns the viewer's view of the chat in ascending order. A nil
// chat is reported exactly like a chat the viewer is not part of.
func (r *Resolver) History(ctx context.Context, chat *models.Chat, viewerID string, page Page) ([]*models.Message, error) {
	if chat == nil || !chat.HasParticipant(viewerID) {
		return nil, apperr.Forbidden("Access denied")
	}
	rule := For(chat, viewerID)
	rule.IncludeTombstones = true
	msgs, err := r.messages.History(ctx, chat.ID, rule, page)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return msgs, nil
}

// UnreadCount is the strict-rule unread counter for one viewer.
func (r *Resolver) UnreadCount(ctx context.Context, chat *models.Chat, viewerID string) (int64, error) {
	n, err := r.messages.CountUnread(ctx, chat.ID, For(chat, viewerID))
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}
