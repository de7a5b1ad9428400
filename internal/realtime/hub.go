// Package realtime keeps the live socket sessions of this node, groups them
// into per-chat rooms and relays events to the other nodes over Redis.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dreamerumesh/connecTu-backend/internal/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type sessionSet map[*Session]struct{}

type Hub struct {
	mu     sync.RWMutex
	users  map[string]sessionSet
	rooms  map[string]sessionSet
	joined map[*Session]map[string]struct{}

	rdb     *redis.Client
	channel string
	node    string
	logger  *zap.Logger
	pubsub  *redis.PubSub
}

// NewHub builds a hub. A nil rdb keeps fan-out on this node only.
func NewHub(rdb *redis.Client, channel string, logger *zap.Logger) *Hub {
	if channel == "" {
		channel = "ws:global"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		users:   make(map[string]sessionSet),
		rooms:   make(map[string]sessionSet),
		joined:  make(map[*Session]map[string]struct{}),
		rdb:     rdb,
		channel: channel,
		node:    uuid.NewString(),
		logger:  logger,
	}
}

// Start subscribes to the relay channel and returns once the subscription
// is confirmed. Frames are consumed until ctx is done or Close is called.
func (h *Hub) Start(ctx context.Context) error {
	if h.rdb == nil {
		return nil
	}
	ps := h.rdb.Subscribe(ctx, h.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", h.channel, err)
	}
	h.pubsub = ps

	go func() {
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var f relayFrame
				if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
					h.logger.Warn("bad relay frame", zap.Error(err))
					continue
				}
				if f.Node == h.node {
					continue
				}
				metrics.RelayFrames.WithLabelValues("in").Inc()
				h.apply(f)
			}
		}
	}()
	return nil
}

func (h *Hub) Close() error {
	if h.pubsub != nil {
		return h.pubsub.Close()
	}
	return nil
}

func (h *Hub) apply(f relayFrame) {
	switch f.Kind {
	case relayRoom:
		h.deliver(h.roomTargets(f.Room, f.Except), f.Data)
	case relayAll:
		h.deliver(h.allTargets(), f.Data)
	case relayJoin:
		h.joinLocal(f.User, f.Room)
	}
}

func (h *Hub) publish(ctx context.Context, f relayFrame) {
	if h.rdb == nil {
		return
	}
	f.Node = h.node
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := h.rdb.Publish(ctx, h.channel, b).Err(); err != nil {
		h.logger.Warn("relay publish failed", zap.String("kind", string(f.Kind)), zap.Error(err))
		return
	}
	metrics.RelayFrames.WithLabelValues("out").Inc()
}

func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.joined[s]; ok {
		return
	}
	h.joined[s] = make(map[string]struct{})
	if s.Authenticated() {
		if h.users[s.userID] == nil {
			h.users[s.userID] = make(sessionSet)
		}
		h.users[s.userID][s] = struct{}{}
	}
}

// Unregister removes s from every room. Safe to call more than once.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.joined[s]
	if !ok {
		return
	}
	for chatID := range rooms {
		h.leave(s, chatID)
	}
	delete(h.joined, s)
	if set := h.users[s.userID]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(h.users, s.userID)
		}
	}
}

func (h *Hub) leave(s *Session, chatID string) {
	if set := h.rooms[chatID]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// Join adds a registered session to a room. Joining twice is a no-op.
func (h *Hub) Join(s *Session, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(s, chatID)
}

func (h *Hub) joinLocked(s *Session, chatID string) {
	rooms, ok := h.joined[s]
	if !ok {
		return
	}
	rooms[chatID] = struct{}{}
	if h.rooms[chatID] == nil {
		h.rooms[chatID] = make(sessionSet)
	}
	h.rooms[chatID][s] = struct{}{}
}

func (h *Hub) InRoom(s *Session, chatID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[chatID][s]
	return ok
}

func (h *Hub) joinLocal(userID, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.users[userID] {
		h.joinLocked(s, chatID)
	}
}

// JoinUser joins every live session of userID, on any node, to the room.
func (h *Hub) JoinUser(ctx context.Context, userID, chatID string) {
	h.joinLocal(userID, chatID)
	h.publish(ctx, relayFrame{Kind: relayJoin, User: userID, Room: chatID})
}

func (h *Hub) roomTargets(chatID, except string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.rooms[chatID]))
	for s := range h.rooms[chatID] {
		if except != "" && s.id == except {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (h *Hub) allTargets() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.joined))
	for s := range h.joined {
		out = append(out, s)
	}
	return out
}

// deliver enqueues data on every target. A session whose buffer is full is
// closed and removed.
func (h *Hub) deliver(targets []*Session, data []byte) {
	for _, s := range targets {
		if s.enqueue(data) {
			continue
		}
		h.logger.Warn("dropping slow consumer", zap.String("session_id", s.id), zap.String("user_id", s.userID))
		metrics.DroppedSessions.Inc()
		h.Unregister(s)
		s.close()
	}
}

func encode(event, chatID string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: event, ChatID: chatID, Payload: raw})
}

// EmitToRoom sends event to every member of the chat room on every node,
// skipping the session whose id is exceptSession.
func (h *Hub) EmitToRoom(ctx context.Context, chatID, event string, payload interface{}, exceptSession string) {
	data, err := encode(event, chatID, payload)
	if err != nil {
		h.logger.Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	h.deliver(h.roomTargets(chatID, exceptSession), data)
	h.publish(ctx, relayFrame{Kind: relayRoom, Room: chatID, Except: exceptSession, Data: data})
}

func (h *Hub) EmitToAll(ctx context.Context, event string, payload interface{}) {
	data, err := encode(event, "", payload)
	if err != nil {
		h.logger.Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	h.deliver(h.allTargets(), data)
	h.publish(ctx, relayFrame{Kind: relayAll, Data: data})
}
