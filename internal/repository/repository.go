package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dreamerumesh/connecTu-backend/internal/models"
	"github.com/dreamerumesh/connecTu-backend/internal/visibility"
	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicate       = errors.New("duplicate")
	ErrNotSender       = errors.New("requester is not the sender")
	ErrNotParticipant  = errors.New("requester is not a participant")
	ErrMessageDeleted  = errors.New("message was deleted for everyone")
	ErrSameParticipant = errors.New("a chat needs two distinct participants")
)

const opTimeout = 3 * time.Second

// MessageStore is the per-chat message log.
type MessageStore interface {
	Append(ctx context.Context, chatID, sender, receiver, content string, typ models.MessageType) (*models.Message, error)
	Get(ctx context.Context, id string) (*models.Message, error)
	Edit(ctx context.Context, id, requester, content string) (*models.Message, error)
	DeleteForMe(ctx context.Context, id, requester string) (*models.Message, error)
	// DeleteForEveryone reports whether this call performed the deletion.
	DeleteForEveryone(ctx context.Context, id, requester string) (*models.Message, bool, error)
	// AdvanceStatus reports whether the status moved forward.
	AdvanceStatus(ctx context.Context, id string, status models.MessageStatus) (*models.Message, bool, error)
	MarkAllRead(ctx context.Context, chatID, receiver string) (int64, error)

	History(ctx context.Context, chatID string, rule visibility.Rule, page visibility.Page) ([]*models.Message, error)
	// LastVisible returns nil without error when nothing is visible.
	LastVisible(ctx context.Context, chatID string, rule visibility.Rule) (*models.Message, error)
	CountUnread(ctx context.Context, chatID string, rule visibility.Rule) (int64, error)
}

// ChatLedger holds one record per unordered pair of participants.
type ChatLedger interface {
	FindOrCreate(ctx context.Context, a, b string) (*models.Chat, bool, error)
	Get(ctx context.Context, id string) (*models.Chat, error)
	ListForUser(ctx context.Context, userID string, limit int64) ([]*models.Chat, error)
	ListIDsForUser(ctx context.Context, userID string) ([]string, error)
	SetClearWatermark(ctx context.Context, chatID, userID string) (*models.Chat, error)
	TouchLastMessage(ctx context.Context, chatID string, snap models.LastMessage) error
	RefreshLastMessageText(ctx context.Context, chatID, messageID, text string) (bool, error)
}

type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByPhone(ctx context.Context, phone string) (*models.User, error)
	FindByPhones(ctx context.Context, phones []string) ([]*models.User, error)
	GetMany(ctx context.Context, ids []string) (map[string]*models.User, error)
	UpdateProfile(ctx context.Context, id string, upd models.ProfileUpdate) (*models.User, error)
	UpdateSettings(ctx context.Context, id string, s models.Settings) (*models.User, error)
	// SetPresence leaves lastSeen untouched when it is nil.
	SetPresence(ctx context.Context, id string, online bool, lastSeen *time.Time) (*models.User, error)
	SetStatus(ctx context.Context, id string, status models.UserStatus) (*models.User, error)
	AddContact(ctx context.Context, id string, c models.Contact) error
}

// clock hands out strictly increasing millisecond timestamps, the precision
// BSON dates keep, so a watermark and a later message never collide.
type clock struct {
	mu   sync.Mutex
	last time.Time
}

var storeClock = &clock{}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := time.Now().UTC().Truncate(time.Millisecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Millisecond)
	}
	c.last = t
	return t
}

func now() time.Time { return storeClock.now() }

// newID returns a time-ordered id so ties on created_at keep insertion order.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
