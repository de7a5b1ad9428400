package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dreamerumesh/connecTu-backend/internal/models"
	"github.com/dreamerumesh/connecTu-backend/internal/visibility"
)

// The memory driver backs storage.driver=memory and the tests. Every value
// handed out is a copy so callers can never mutate stored state.

func cloneMessage(m *models.Message) *models.Message {
	c := *m
	c.DeletedFor = append([]string{}, m.DeletedFor...)
	if m.EditedAt != nil {
		t := *m.EditedAt
		c.EditedAt = &t
	}
	if m.Timestamps.DeliveredAt != nil {
		t := *m.Timestamps.DeliveredAt
		c.Timestamps.DeliveredAt = &t
	}
	if m.Timestamps.ReadAt != nil {
		t := *m.Timestamps.ReadAt
		c.Timestamps.ReadAt = &t
	}
	return &c
}

func cloneChat(ch *models.Chat) *models.Chat {
	c := *ch
	c.Participants = append([]string{}, ch.Participants...)
	if ch.LastMessage != nil {
		lm := *ch.LastMessage
		c.LastMessage = &lm
	}
	if ch.ClearedAt != nil {
		c.ClearedAt = make(map[string]time.Time, len(ch.ClearedAt))
		for k, v := range ch.ClearedAt {
			c.ClearedAt[k] = v
		}
	}
	return &c
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.Contacts = append([]models.Contact{}, u.Contacts...)
	return &c
}

type MemoryMessageStore struct {
	mu     sync.RWMutex
	byID   map[string]*models.Message
	byChat map[string][]*models.Message
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		byID:   make(map[string]*models.Message),
		byChat: make(map[string][]*models.Message),
	}
}

func (s *MemoryMessageStore) Append(_ context.Context, chatID, sender, receiver, content string, typ models.MessageType) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := now()
	m := &models.Message{
		ID:         newID(),
		ChatID:     chatID,
		SenderID:   sender,
		ReceiverID: receiver,
		Type:       typ,
		Content:    content,
		Status:     models.StatusSent,
		Timestamps: models.Timestamps{SentAt: at},
		DeletedFor: []string{},
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	s.byID[m.ID] = m
	s.byChat[chatID] = append(s.byChat[chatID], m)
	return cloneMessage(m), nil
}

func (s *MemoryMessageStore) Get(_ context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *MemoryMessageStore) Edit(_ context.Context, id, requester, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	switch {
	case !ok:
		return nil, ErrNotFound
	case m.SenderID != requester:
		return nil, ErrNotSender
	case m.IsDeletedForEveryone:
		return nil, ErrMessageDeleted
	}
	at := now()
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &at
	m.UpdatedAt = at
	return cloneMessage(m), nil
}

func (s *MemoryMessageStore) DeleteForMe(_ context.Context, id, requester string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !m.Involves(requester) {
		return nil, ErrNotParticipant
	}
	if !m.DeletedForUser(requester) {
		m.DeletedFor = append(m.DeletedFor, requester)
	}
	return cloneMessage(m), nil
}

func (s *MemoryMessageStore) DeleteForEveryone(_ context.Context, id, requester string) (*models.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if m.SenderID != requester {
		return nil, false, ErrNotSender
	}
	if m.IsDeletedForEveryone {
		return cloneMessage(m), false, nil
	}
	m.IsDeletedForEveryone = true
	m.Content = models.Tombstone
	m.UpdatedAt = now()
	return cloneMessage(m), true, nil
}

func advance(m *models.Message, status models.MessageStatus, at time.Time) bool {
	if status.Rank() <= m.Status.Rank() {
		return false
	}
	m.Status = status
	m.UpdatedAt = at
	if m.Timestamps.DeliveredAt == nil {
		t := at
		m.Timestamps.DeliveredAt = &t
	}
	if status == models.StatusRead {
		t := at
		m.Timestamps.ReadAt = &t
	}
	return true
}

func (s *MemoryMessageStore) AdvanceStatus(_ context.Context, id string, status models.MessageStatus) (*models.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	changed := advance(m, status, now())
	return cloneMessage(m), changed, nil
}

func (s *MemoryMessageStore) MarkAllRead(_ context.Context, chatID, receiver string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := now()
	var n int64
	for _, m := range s.byChat[chatID] {
		if m.ReceiverID == receiver && advance(m, models.StatusRead, at) {
			n++
		}
	}
	return n, nil
}

// visible returns the chat's messages visible under rule, oldest first.
func (s *MemoryMessageStore) visible(chatID string, rule visibility.Rule) []*models.Message {
	var out []*models.Message
	for _, m := range s.byChat[chatID] {
		if rule.Visible(m) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (s *MemoryMessageStore) History(_ context.Context, chatID string, rule visibility.Rule, page visibility.Page) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.visible(chatID, rule)
	if !page.Before.IsZero() {
		cut := sort.Search(len(msgs), func(i int) bool { return !msgs[i].CreatedAt.Before(page.Before) })
		msgs = msgs[:cut]
	}
	if page.Limit > 0 && int64(len(msgs)) > page.Limit {
		msgs = msgs[int64(len(msgs))-page.Limit:]
	}
	out := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, cloneMessage(m))
	}
	return out, nil
}

func (s *MemoryMessageStore) LastVisible(_ context.Context, chatID string, rule visibility.Rule) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.visible(chatID, rule)
	if len(msgs) == 0 {
		return nil, nil
	}
	return cloneMessage(msgs[len(msgs)-1]), nil
}

func (s *MemoryMessageStore) CountUnread(_ context.Context, chatID string, rule visibility.Rule) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, m := range s.visible(chatID, rule) {
		if m.ReceiverID == rule.Viewer && m.Status != models.StatusRead {
			n++
		}
	}
	return n, nil
}

type MemoryChatLedger struct {
	mu     sync.RWMutex
	byID   map[string]*models.Chat
	byPair map[string]*models.Chat
}

func NewMemoryChatLedger() *MemoryChatLedger {
	return &MemoryChatLedger{
		byID:   make(map[string]*models.Chat),
		byPair: make(map[string]*models.Chat),
	}
}

func (l *MemoryChatLedger) FindOrCreate(_ context.Context, a, b string) (*models.Chat, bool, error) {
	if a == b {
		return nil, false, ErrSameParticipant
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := models.PairKey(a, b)
	if c, ok := l.byPair[key]; ok {
		return cloneChat(c), false, nil
	}
	at := now()
	c := &models.Chat{
		ID:           newID(),
		Participants: models.SortedPair(a, b),
		PairKey:      key,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	l.byID[c.ID] = c
	l.byPair[key] = c
	return cloneChat(c), true, nil
}

func (l *MemoryChatLedger) Get(_ context.Context, id string) (*models.Chat, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneChat(c), nil
}

func (l *MemoryChatLedger) forUser(userID string) []*models.Chat {
	var out []*models.Chat
	for _, c := range l.byID {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (l *MemoryChatLedger) ListForUser(_ context.Context, userID string, limit int64) ([]*models.Chat, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	chats := l.forUser(userID)
	if limit > 0 && int64(len(chats)) > limit {
		chats = chats[:limit]
	}
	out := make([]*models.Chat, 0, len(chats))
	for _, c := range chats {
		out = append(out, cloneChat(c))
	}
	return out, nil
}

func (l *MemoryChatLedger) ListIDsForUser(_ context.Context, userID string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ids []string
	for _, c := range l.forUser(userID) {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (l *MemoryChatLedger) SetClearWatermark(_ context.Context, chatID, userID string) (*models.Chat, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.byID[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	if !c.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	if c.ClearedAt == nil {
		c.ClearedAt = make(map[string]time.Time)
	}
	at := now()
	if prev, ok := c.ClearedAt[userID]; !ok || at.After(prev) {
		c.ClearedAt[userID] = at
	}
	return cloneChat(c), nil
}

func (l *MemoryChatLedger) TouchLastMessage(_ context.Context, chatID string, snap models.LastMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.byID[chatID]
	if !ok {
		return nil
	}
	if c.LastMessage != nil && snap.Time.Before(c.LastMessage.Time) {
		return nil
	}
	lm := snap
	c.LastMessage = &lm
	c.UpdatedAt = snap.Time
	return nil
}

func (l *MemoryChatLedger) RefreshLastMessageText(_ context.Context, chatID, messageID, text string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.byID[chatID]
	if !ok || c.LastMessage == nil || c.LastMessage.MessageID != messageID {
		return false, nil
	}
	c.LastMessage.Text = text
	return true, nil
}

type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*models.User
	byPhone map[string]*models.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*models.User),
		byPhone: make(map[string]*models.User),
	}
}

func (s *MemoryUserStore) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byPhone[u.Phone]; ok {
		return ErrDuplicate
	}
	if u.ID == "" {
		u.ID = newID()
	}
	at := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = at, at
	if u.Contacts == nil {
		u.Contacts = []models.Contact{}
	}
	stored := cloneUser(u)
	s.byID[u.ID] = stored
	s.byPhone[u.Phone] = stored
	return nil
}

func (s *MemoryUserStore) GetByID(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryUserStore) GetByPhone(_ context.Context, phone string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byPhone[phone]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryUserStore) FindByPhones(_ context.Context, phones []string) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*models.User{}
	seen := make(map[string]bool, len(phones))
	for _, p := range phones {
		if seen[p] {
			continue
		}
		seen[p] = true
		if u, ok := s.byPhone[p]; ok {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

func (s *MemoryUserStore) GetMany(_ context.Context, ids []string) (map[string]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*models.User, len(ids))
	for _, id := range ids {
		if u, ok := s.byID[id]; ok {
			out[id] = cloneUser(u)
		}
	}
	return out, nil
}

func (s *MemoryUserStore) mutate(id string, fn func(u *models.User)) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return cloneUser(u), nil
}

func (s *MemoryUserStore) UpdateProfile(_ context.Context, id string, upd models.ProfileUpdate) (*models.User, error) {
	return s.mutate(id, func(u *models.User) {
		if upd.Name != nil {
			u.Name = *upd.Name
		}
		if upd.About != nil {
			u.About = *upd.About
		}
		if upd.ProfilePic != nil {
			u.ProfilePic = *upd.ProfilePic
		}
	})
}

func (s *MemoryUserStore) UpdateSettings(_ context.Context, id string, st models.Settings) (*models.User, error) {
	return s.mutate(id, func(u *models.User) { u.Settings = st })
}

func (s *MemoryUserStore) SetPresence(_ context.Context, id string, online bool, lastSeen *time.Time) (*models.User, error) {
	return s.mutate(id, func(u *models.User) {
		u.IsOnline = online
		if lastSeen != nil {
			u.LastSeen = *lastSeen
		}
	})
}

func (s *MemoryUserStore) SetStatus(_ context.Context, id string, status models.UserStatus) (*models.User, error) {
	return s.mutate(id, func(u *models.User) { u.Status = status })
}

func (s *MemoryUserStore) AddContact(_ context.Context, id string, c models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if _, saved := u.ContactName(c.Phone); saved {
		return ErrDuplicate
	}
	u.Contacts = append(u.Contacts, c)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

var (
	_ MessageStore = (*MemoryMessageStore)(nil)
	_ MessageStore = (*MongoMessageStore)(nil)
	_ ChatLedger   = (*MemoryChatLedger)(nil)
	_ ChatLedger   = (*MongoChatLedger)(nil)
	_ UserStore    = (*MemoryUserStore)(nil)
	_ UserStore    = (*MongoUserStore)(nil)
)
