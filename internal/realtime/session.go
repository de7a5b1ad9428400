package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// Session is one socket connection. userID is empty for unauthenticated
// sessions.
type Session struct {
	id      string
	userID  string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

func NewSession(conn *websocket.Conn, userID string, buffer, rps int) *Session {
	if buffer <= 0 {
		buffer = 256
	}
	if rps <= 0 {
		rps = 20
	}
	return &Session{
		id:      uuid.NewString(),
		userID:  userID,
		conn:    conn,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

func (s *Session) ID() string            { return s.id }
func (s *Session) UserID() string        { return s.userID }
func (s *Session) Authenticated() bool   { return s.userID != "" }
func (s *Session) Done() <-chan struct{} { return s.done }

// enqueue reports false when the buffer is full or the session is closed.
func (s *Session) enqueue(b []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- b:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

func (s *Session) sendEnvelope(env Envelope) bool {
	b, err := json.Marshal(env)
	if err != nil {
		return false
	}
	return s.enqueue(b)
}

func (s *Session) sendError(chatID, msg string) {
	payload, _ := json.Marshal(map[string]string{"message": msg})
	s.sendEnvelope(Envelope{Type: TypeError, ChatID: chatID, Payload: payload})
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// readPump blocks until the connection fails or the session is closed.
// Frames over the rate limit are answered with an error and dropped.
func (s *Session) readPump(maxBytes int64, handle func(Envelope)) {
	defer s.close()

	s.conn.SetReadLimit(maxBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		if !s.limiter.Allow() {
			s.sendError("", "rate limit exceeded")
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			s.sendError("", "malformed event")
			continue
		}
		handle(env)
	}
}
