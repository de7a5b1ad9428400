package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, s *Session) Envelope {
	t.Helper()
	select {
	case b := <-s.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(b, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return Envelope{}
	}
}

func assertSilent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case b := <-s.send:
		t.Fatalf("unexpected frame %s", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitToRoomSkipsOrigin(t *testing.T) {
	h := NewHub(nil, "", nil)
	a1 := NewSession(nil, "alice", 8, 10)
	a2 := NewSession(nil, "alice", 8, 10)
	guest := NewSession(nil, "", 8, 10)
	outsider := NewSession(nil, "carol", 8, 10)
	for _, s := range []*Session{a1, a2, guest, outsider} {
		h.Register(s)
	}
	h.Join(a1, "chat-1")
	h.Join(a2, "chat-1")
	h.Join(a2, "chat-1")
	h.Join(guest, "chat-1")

	h.EmitToRoom(context.Background(), "chat-1", "receive-message", map[string]string{"content": "hi"}, a1.ID())

	env := recv(t, a2)
	assert.Equal(t, "receive-message", env.Type)
	assert.Equal(t, "chat-1", env.ChatID)
	assert.JSONEq(t, `{"content":"hi"}`, string(env.Payload))
	assert.Equal(t, "receive-message", recv(t, guest).Type)
	assertSilent(t, a2)
	assertSilent(t, a1)
	assertSilent(t, outsider)
}

func TestJoinUserAndUnregister(t *testing.T) {
	h := NewHub(nil, "", nil)
	a1 := NewSession(nil, "alice", 8, 10)
	a2 := NewSession(nil, "alice", 8, 10)
	h.Register(a1)
	h.Register(a2)

	h.JoinUser(context.Background(), "alice", "chat-9")
	assert.True(t, h.InRoom(a1, "chat-9"))
	assert.True(t, h.InRoom(a2, "chat-9"))

	h.Unregister(a1)
	h.Unregister(a1)
	assert.False(t, h.InRoom(a1, "chat-9"))

	h.EmitToAll(context.Background(), "user-status", map[string]bool{"isOnline": true})
	assert.Equal(t, "user-status", recv(t, a2).Type)
	assertSilent(t, a1)
}

func TestSlowConsumerIsDropped(t *testing.T) {
	h := NewHub(nil, "", nil)
	slow := NewSession(nil, "bob", 1, 10)
	h.Register(slow)
	h.Join(slow, "chat-1")

	h.EmitToRoom(context.Background(), "chat-1", "receive-message", "one", "")
	h.EmitToRoom(context.Background(), "chat-1", "receive-message", "two", "")

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow session was not closed")
	}
	assert.False(t, h.InRoom(slow, "chat-1"))
	assert.Equal(t, `"one"`, string(recv(t, slow).Payload))
}

func TestRelayAcrossNodes(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodeA := NewHub(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "ws:test", nil)
	nodeB := NewHub(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "ws:test", nil)
	require.NoError(t, nodeA.Start(ctx))
	require.NoError(t, nodeB.Start(ctx))
	defer nodeA.Close()
	defer nodeB.Close()

	onA := NewSession(nil, "alice", 8, 10)
	onB := NewSession(nil, "bob", 8, 10)
	nodeA.Register(onA)
	nodeB.Register(onB)

	nodeA.JoinUser(ctx, "bob", "chat-1")
	require.Eventually(t, func() bool { return nodeB.InRoom(onB, "chat-1") }, 2*time.Second, 10*time.Millisecond)

	nodeA.Join(onA, "chat-1")
	nodeA.EmitToRoom(ctx, "chat-1", "receive-message", "hello", onA.ID())
	env := recv(t, onB)
	assert.Equal(t, "receive-message", env.Type)
	assert.Equal(t, `"hello"`, string(env.Payload))
	assertSilent(t, onA)

	nodeB.EmitToRoom(ctx, "chat-1", "messages_read", "r", onB.ID())
	assert.Equal(t, "messages_read", recv(t, onA).Type)
	assertSilent(t, onB)
}
