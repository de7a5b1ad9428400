package service

import (
	"context"
	"sync"
	"testing"

	"github.com/dreamerumesh/connecTu-backend/internal/models"
	"github.com/dreamerumesh/connecTu-backend/internal/repository"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	Room    string
	Event   string
	Payload interface{}
	Except  string
}

// recorder is a Broadcaster that keeps everything it was asked to send.
type recorder struct {
	mu     sync.Mutex
	events []emitted
	joins  map[string][]string
}

func newRecorder() *recorder { return &recorder{joins: make(map[string][]string)} }

func (r *recorder) EmitToRoom(_ context.Context, chatID, event string, payload interface{}, except string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{Room: chatID, Event: event, Payload: payload, Except: except})
}

func (r *recorder) EmitToAll(_ context.Context, event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{Event: event, Payload: payload})
}

func (r *recorder) JoinUser(_ context.Context, userID, chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins[userID] = append(r.joins[userID], chatID)
}

func (r *recorder) named(event string) []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emitted
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type env struct {
	messages *repository.MemoryMessageStore
	chats    *repository.MemoryChatLedger
	users    *repository.MemoryUserStore
	bc       *recorder
	chat     *ChatService
	user     *UserService
	alice    *models.User
	bob      *models.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		messages: repository.NewMemoryMessageStore(),
		chats:    repository.NewMemoryChatLedger(),
		users:    repository.NewMemoryUserStore(),
		bc:       newRecorder(),
	}
	e.chat = NewChatService(ChatDeps{
		Messages:    e.messages,
		Chats:       e.chats,
		Users:       e.users,
		Broadcaster: e.bc,
	})
	e.user = NewUserService(e.users, e.bc, nil, nil, nil)
	e.alice = e.addUser(t, "9000000001", "Alice")
	e.bob = e.addUser(t, "9000000002", "Bob")
	return e
}

func (e *env) addUser(t *testing.T, phone, name string) *models.User {
	t.Helper()
	u := &models.User{
		Phone:    phone,
		Name:     name,
		Status:   models.UserActive,
		Settings: models.Settings{ReadReceipts: true},
	}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u
}
