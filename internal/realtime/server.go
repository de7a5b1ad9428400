package realtime

import (
	"context"
	"strings"
	"time"

	"github.com/dreamerumesh/connecTu-backend/internal/apperr"
	"github.com/dreamerumesh/connecTu-backend/internal/auth"
	"github.com/dreamerumesh/connecTu-backend/internal/metrics"
	"github.com/dreamerumesh/connecTu-backend/internal/models"
	"github.com/dreamerumesh/connecTu-backend/internal/presence"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const (
	localToken = "ws_token"
	opTimeout  = 5 * time.Second
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, *auth.Claims, error)
}

// ChatOps is the slice of the chat service sockets drive.
type ChatOps interface {
	ChatIDsFor(ctx context.Context, userID string) ([]string, error)
	CanJoin(ctx context.Context, userID, chatID string) (bool, error)
	MarkDelivered(ctx context.Context, requester, chatID, messageID, origin string) error
	MarkChatRead(ctx context.Context, requester, chatID, origin string) (int64, error)
}

type PresenceOps interface {
	Connected(ctx context.Context, userID string)
	Disconnected(ctx context.Context, userID string)
}

type Options struct {
	RateLimitPerSec int
	SendBuffer      int
	MaxMessageBytes int64
	// Heartbeat is how often live sessions refresh their presence entry.
	Heartbeat       time.Duration
}

type Server struct {
	hub      *Hub
	auth     Authenticator
	chats    ChatOps
	presence PresenceOps
	tracker  presence.Tracker
	opts     Options
	logger   *zap.Logger
}

func NewServer(hub *Hub, authn Authenticator, chats ChatOps, pres PresenceOps, tracker presence.Tracker, opts Options, logger *zap.Logger) *Server {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 64 * 1024
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = pingPeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		hub:      hub,
		auth:     authn,
		chats:    chats,
		presence: pres,
		tracker:  tracker,
		opts:     opts,
		logger:   logger,
	}
}

// Upgrade rejects plain HTTP requests and captures the token before the
// connection is hijacked.
func (s *Server) Upgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		token := c.Query("token")
		if token == "" {
			token = strings.TrimSpace(strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "))
		}
		c.Locals(localToken, token)
		return c.Next()
	}
}

func (s *Server) Handler() fiber.Handler {
	return websocket.New(s.serve)
}

func (s *Server) serve(conn *websocket.Conn) {
	token, _ := conn.Locals(localToken).(string)
	userID := s.identify(token)

	sess := NewSession(conn, userID, s.opts.SendBuffer, s.opts.RateLimitPerSec)
	s.Attach(sess)
	defer s.Detach(sess)

	if sess.Authenticated() {
		go s.heartbeat(sess)
	}
	go sess.writePump()
	sess.readPump(s.opts.MaxMessageBytes, func(env Envelope) {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		s.Handle(ctx, sess, env)
	})
}

// identify returns the user id behind token, or "" for a guest session.
func (s *Server) identify(token string) string {
	if token == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	u, _, err := s.auth.Authenticate(ctx, token)
	if err != nil {
		s.logger.Debug("socket auth failed", zap.Error(err))
		return ""
	}
	return u.ID
}

// Attach registers the session, joins it to the user's chats and flips the
// user online on their first connection across all nodes.
func (s *Server) Attach(sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	s.hub.Register(sess)
	metrics.Connections.Inc()
	if !sess.Authenticated() {
		return
	}

	ids, err := s.chats.ChatIDsFor(ctx, sess.userID)
	if err != nil {
		s.logger.Warn("load chat rooms failed", zap.String("user_id", sess.userID), zap.Error(err))
	}
	for _, id := range ids {
		s.hub.Join(sess, id)
	}

	first, err := s.tracker.Connect(ctx, sess.userID, sess.id)
	if err != nil {
		s.logger.Warn("presence connect failed", zap.String("user_id", sess.userID), zap.Error(err))
		return
	}
	if first {
		s.presence.Connected(ctx, sess.userID)
	}
	s.logger.Debug("socket connected", zap.String("user_id", sess.userID), zap.String("session_id", sess.id))
}

// heartbeat refreshes the session's presence entry until it closes.
func (s *Server) heartbeat(sess *Session) {
	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-sess.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			if err := s.tracker.Touch(ctx, sess.userID, sess.id); err != nil {
				s.logger.Warn("presence heartbeat failed", zap.String("user_id", sess.userID), zap.Error(err))
			}
			cancel()
		}
	}
}

func (s *Server) Detach(sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	s.hub.Unregister(sess)
	sess.close()
	metrics.Connections.Dec()
	if !sess.Authenticated() {
		return
	}
	last, err := s.tracker.Disconnect(ctx, sess.userID, sess.id)
	if err != nil {
		s.logger.Warn("presence disconnect failed", zap.String("user_id", sess.userID), zap.Error(err))
		return
	}
	if last {
		s.presence.Disconnected(ctx, sess.userID)
	}
}

// Handle runs one client event. Failures are answered on the session only.
func (s *Server) Handle(ctx context.Context, sess *Session, env Envelope) {
	err := s.handle(ctx, sess, env)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		sess.sendError(env.ChatID, apperr.PublicMessage(err))
		if apperr.Is(err, apperr.KindInternal) {
			s.logger.Error("socket event failed", zap.String("type", env.Type), zap.String("session_id", sess.id), zap.Error(err))
		}
	}
	metrics.SocketEvents.WithLabelValues(env.Type, outcome).Inc()
}

func (s *Server) handle(ctx context.Context, sess *Session, env Envelope) error {
	switch env.Type {
	case TypeJoinChat:
		if env.ChatID == "" {
			return apperr.Validation("chat_id is required")
		}
		if sess.Authenticated() {
			ok, err := s.chats.CanJoin(ctx, sess.userID, env.ChatID)
			if err != nil {
				return apperr.Internal(err)
			}
			if !ok {
				return apperr.Forbidden("Access denied")
			}
		}
		s.hub.Join(sess, env.ChatID)
		return nil

	case TypeTypingStart, TypeTypingStop:
		if err := s.requireRoom(sess, env.ChatID); err != nil {
			return err
		}
		event := TypeUserTyping
		if env.Type == TypeTypingStop {
			event = TypeUserTypingStop
		}
		s.hub.EmitToRoom(ctx, env.ChatID, event, map[string]string{
			"chatId": env.ChatID,
			"userId": sess.userID,
		}, sess.id)
		return nil

	case TypeMessageDelivered:
		if !sess.Authenticated() {
			return apperr.Unauthorized("Not authorized")
		}
		if env.MsgID == "" {
			return apperr.Validation("msg_id is required")
		}
		return s.chats.MarkDelivered(ctx, sess.userID, env.ChatID, env.MsgID, sess.id)

	case TypeMarkMessagesRead:
		if !sess.Authenticated() {
			return apperr.Unauthorized("Not authorized")
		}
		_, err := s.chats.MarkChatRead(ctx, sess.userID, env.ChatID, sess.id)
		return err
	}
	return apperr.Validation("unknown event type " + env.Type)
}

func (s *Server) requireRoom(sess *Session, chatID string) error {
	if !sess.Authenticated() {
		return apperr.Unauthorized("Not authorized")
	}
	if chatID == "" {
		return apperr.Validation("chat_id is required")
	}
	if !s.hub.InRoom(sess, chatID) {
		return apperr.Forbidden("Join the chat first")
	}
	return nil
}
