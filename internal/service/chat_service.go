package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dreamerumesh/connecTu-backend/internal/apperr"
	"github.com/dreamerumesh/connecTu-backend/internal/events"
	"github.com/dreamerumesh/connecTu-backend/internal/models"
	"github.com/dreamerumesh/connecTu-backend/internal/repository"
	"github.com/dreamerumesh/connecTu-backend/internal/visibility"
	"go.uber.org/zap"
)

type ChatService struct {
	messages  repository.MessageStore
	chats     repository.ChatLedger
	users     repository.UserStore
	resolver  *visibility.Resolver
	bc        Broadcaster
	events    events.Publisher
	logger    *zap.Logger
	listLimit int64
}

type ChatDeps struct {
	Messages    repository.MessageStore
	Chats       repository.ChatLedger
	Users       repository.UserStore
	Broadcaster Broadcaster
	Events      events.Publisher
	Logger      *zap.Logger
	ListLimit   int64
}

func NewChatService(d ChatDeps) *ChatService {
	if d.Broadcaster == nil {
		d.Broadcaster = NopBroadcaster
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.ListLimit <= 0 {
		d.ListLimit = 20
	}
	return &ChatService{
		messages:  d.Messages,
		chats:     d.Chats,
		users:     d.Users,
		resolver:  visibility.NewResolver(d.Messages, d.Chats, d.Users),
		bc:        d.Broadcaster,
		events:    d.Events,
		logger:    d.Logger,
		listLimit: d.ListLimit,
	}
}

func (s *ChatService) loadUser(ctx context.Context, id string) (*models.User, error) {
	u, err := s.users.GetByID(ctx, id)
	return u, storeErr(err, "User not found")
}

// ensureChat finds or creates the chat between a and b and, when it is new,
// joins both users' live sessions to its room before anything is emitted.
func (s *ChatService) ensureChat(ctx context.Context, a, b string) (*models.Chat, bool, error) {
	chat, created, err := s.chats.FindOrCreate(ctx, a, b)
	if err != nil {
		return nil, false, storeErr(err, "Chat not found")
	}
	if created {
		s.bc.JoinUser(ctx, a, chat.ID)
		s.bc.JoinUser(ctx, b, chat.ID)
		publish(ctx, s.events, s.logger, events.Event{Type: events.ChatCreated, ChatID: chat.ID, ActorID: a})
	}
	return chat, created, nil
}

type SendInput struct {
	ReceiverPhone string
	Content       string
	Type          models.MessageType
}

func (s *ChatService) SendMessage(ctx context.Context, senderID string, in SendInput) (*models.Message, error) {
	in.ReceiverPhone = strings.TrimSpace(in.ReceiverPhone)
	if in.ReceiverPhone == "" || strings.TrimSpace(in.Content) == "" {
		return nil, apperr.Validation("receiverPhone and content required")
	}
	if in.Type == "" {
		in.Type = models.TypeText
	}
	if !in.Type.Valid() {
		return nil, apperr.Validation("Invalid message type")
	}

	receiver, err := s.users.GetByPhone(ctx, in.ReceiverPhone)
	if err != nil {
		return nil, storeErr(err, "No connecTu user found with this phone number")
	}
	if receiver.ID == senderID {
		return nil, apperr.Validation("You cannot message yourself")
	}

	chat, _, err := s.ensureChat(ctx, senderID, receiver.ID)
	if err != nil {
		return nil, err
	}
	msg, err := s.messages.Append(ctx, chat.ID, senderID, receiver.ID, in.Content, in.Type)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("append message: %w", err))
	}

	snap := models.LastMessage{MessageID: msg.ID, Text: msg.Content, SenderID: senderID, Time: msg.CreatedAt}
	if err := s.chats.TouchLastMessage(ctx, chat.ID, snap); err != nil {
		s.logger.Warn("touch last message failed", zap.String("chat_id", chat.ID), zap.Error(err))
	}

	s.bc.EmitToRoom(ctx, chat.ID, EventReceiveMessage, msg, "")
	publish(ctx, s.events, s.logger, events.Event{
		Type: events.MessageSent, ChatID: chat.ID, MessageID: msg.ID, ActorID: senderID,
		Data: map[string]interface{}{"receiverId": receiver.ID, "type": msg.Type},
	})
	return msg, nil
}

func (s *ChatService) isLastMessage(ctx context.Context, chatID, messageID string) bool {
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return false
	}
	return chat.LastMessage != nil && chat.LastMessage.MessageID == messageID
}

func (s *ChatService) refreshSnapshot(ctx context.Context, msg *models.Message) bool {
	ok, err := s.chats.RefreshLastMessageText(ctx, msg.ChatID, msg.ID, msg.Content)
	if err != nil {
		s.logger.Warn("refresh last message failed", zap.String("chat_id", msg.ChatID), zap.Error(err))
		return s.isLastMessage(ctx, msg.ChatID, msg.ID)
	}
	return ok
}

// EditMessage returns the edited message and whether it is the chat's
// latest message.
func (s *ChatService) EditMessage(ctx context.Context, requester, messageID, newContent string) (*models.Message, bool, error) {
	if messageID == "" || strings.TrimSpace(newContent) == "" {
		return nil, false, apperr.Validation("messageId and newContent are required")
	}
	msg, err := s.messages.Edit(ctx, messageID, requester, newContent)
	switch {
	case errors.Is(err, repository.ErrNotSender):
		return nil, false, apperr.Forbidden("You are not allowed to edit this message")
	case errors.Is(err, repository.ErrMessageDeleted):
		return nil, false, apperr.Validation("This message was deleted and cannot be edited")
	case err != nil:
		return nil, false, storeErr(err, "Message not found")
	}

	isLast := s.refreshSnapshot(ctx, msg)
	s.bc.EmitToRoom(ctx, msg.ChatID, EventMessageUpdated, map[string]interface{}{
		"message":       msg,
		"isLastMessage": isLast,
	}, "")
	publish(ctx, s.events, s.logger, events.Event{Type: events.MessageEdited, ChatID: msg.ChatID, MessageID: msg.ID, ActorID: requester})
	return msg, isLast, nil
}

func (s *ChatService) DeleteForMe(ctx context.Context, requester, messageID string) (*models.Message, error) {
	if messageID == "" {
		return nil, apperr.Validation("messageId is required")
	}
	msg, err := s.messages.DeleteForMe(ctx, messageID, requester)
	if errors.Is(err, repository.ErrNotParticipant) {
		return nil, apperr.Forbidden("You are not allowed to delete this message")
	}
	if err != nil {
		return nil, storeErr(err, "Message not found")
	}
	publish(ctx, s.events, s.logger, events.Event{Type: events.MessageDeletedForMe, ChatID: msg.ChatID, MessageID: msg.ID, ActorID: requester})
	return msg, nil
}

// DeleteForEveryone tombstones the message. Repeating it is a no-op and does
// not emit again.
func (s *ChatService) DeleteForEveryone(ctx context.Context, requester, messageID string) (*models.Message, bool, error) {
	if messageID == "" {
		return nil, false, apperr.Validation("messageId is required")
	}
	msg, changed, err := s.messages.DeleteForEveryone(ctx, messageID, requester)
	if errors.Is(err, repository.ErrNotSender) {
		return nil, false, apperr.Forbidden("Only the sender can delete this message for everyone")
	}
	if err != nil {
		return nil, false, storeErr(err, "Message not found")
	}
	if !changed {
		return msg, s.isLastMessage(ctx, msg.ChatID, msg.ID), nil
	}

	isLast := s.refreshSnapshot(ctx, msg)
	s.bc.EmitToRoom(ctx, msg.ChatID, EventMessageDeletedForEveryone, map[string]interface{}{
		"messageId":     msg.ID,
		"chatId":        msg.ChatID,
		"content":       msg.Content,
		"isLastMessage": isLast,
	}, "")
	publish(ctx, s.events, s.logger, events.Event{Type: events.MessageDeletedForEveryone, ChatID: msg.ChatID, MessageID: msg.ID, ActorID: requester})
	return msg, isLast, nil
}

// ClearChat moves the requester's watermark to now and returns it.
func (s *ChatService) ClearChat(ctx context.Context, requester, chatID string) (time.Time, error) {
	if chatID == "" {
		return time.Time{}, apperr.Validation("chatId is required")
	}
	chat, err := s.chats.SetClearWatermark(ctx, chatID, requester)
	if errors.Is(err, repository.ErrNotParticipant) {
		return time.Time{}, apperr.Forbidden("Access denied")
	}
	if err != nil {
		return time.Time{}, storeErr(err, "Chat not found")
	}
	wm := chat.Watermark(requester)
	publish(ctx, s.events, s.logger, events.Event{Type: events.ChatCleared, ChatID: chatID, ActorID: requester})
	return *wm, nil
}

type CreateChatInput struct {
	Phone        string
	Name         string
	IsNewContact bool
}

// CreateChat opens (or returns) the chat with the user behind in.Phone and
// optionally saves them as a contact.
func (s *ChatService) CreateChat(ctx context.Context, requester string, in CreateChatInput) (*visibility.ChatEntry, bool, error) {
	in.Phone = strings.TrimSpace(in.Phone)
	in.Name = strings.TrimSpace(in.Name)
	if in.Phone == "" {
		return nil, false, apperr.Validation("phone is required")
	}
	if in.IsNewContact && in.Name == "" {
		return nil, false, apperr.Validation("name and phone are required")
	}
	if nameTooLong(in.Name) {
		return nil, false, apperr.Validation("Name must be between 1 and 50 characters")
	}

	me, err := s.loadUser(ctx, requester)
	if err != nil {
		return nil, false, err
	}
	if saved, ok := me.ContactName(in.Phone); ok && in.IsNewContact {
		return nil, false, apperr.Validation(fmt.Sprintf("This contact is already saved as %q", saved))
	}

	other, err := s.users.GetByPhone(ctx, in.Phone)
	if err != nil {
		return nil, false, storeErr(err, "This phone number is not registered on ConnecTu")
	}
	if other.ID == requester {
		return nil, false, apperr.Validation("You cannot chat with yourself")
	}

	if in.Name != "" {
		err := s.users.AddContact(ctx, requester, models.Contact{Phone: in.Phone, Name: in.Name})
		if err != nil && !errors.Is(err, repository.ErrDuplicate) {
			return nil, false, storeErr(err, "User not found")
		}
		if me, err = s.loadUser(ctx, requester); err != nil {
			return nil, false, err
		}
	}

	chat, created, err := s.ensureChat(ctx, requester, other.ID)
	if err != nil {
		return nil, false, err
	}
	entry, err := s.resolver.Entry(ctx, chat, me, other)
	if err != nil {
		return nil, false, apperr.Internal(err)
	}
	return &entry, created, nil
}

func (s *ChatService) ListChats(ctx context.Context, userID string) ([]visibility.ChatEntry, error) {
	me, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries, err := s.resolver.ChatList(ctx, me, s.listLimit)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return entries, nil
}

// History returns the requester's view of a chat. Unknown chats and chats
// the requester is not part of are indistinguishable.
func (s *ChatService) History(ctx context.Context, requester, chatID string, page visibility.Page) ([]*models.Message, error) {
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Internal(err)
	}
	msgs, err := s.resolver.History(ctx, chat, requester, page)
	if err != nil {
		return nil, storeErr(err, "Chat not found")
	}
	return msgs, nil
}

func (s *ChatService) Contacts(ctx context.Context, userID string) ([]models.Contact, error) {
	me, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if me.Contacts == nil {
		return []models.Contact{}, nil
	}
	return me.Contacts, nil
}

// MarkDelivered acknowledges delivery of one message to its receiver.
func (s *ChatService) MarkDelivered(ctx context.Context, requester, chatID, messageID, origin string) error {
	if messageID == "" {
		return apperr.Validation("messageId is required")
	}
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return storeErr(err, "Message not found")
	}
	if chatID != "" && msg.ChatID != chatID {
		return apperr.Validation("Message does not belong to this chat")
	}
	if msg.ReceiverID != requester {
		return apperr.Forbidden("Only the receiver can acknowledge delivery")
	}

	updated, changed, err := s.messages.AdvanceStatus(ctx, messageID, models.StatusDelivered)
	if err != nil {
		return storeErr(err, "Message not found")
	}
	if !changed {
		return nil
	}
	s.bc.EmitToRoom(ctx, msg.ChatID, EventMessageDelivered, map[string]interface{}{
		"chatId":      msg.ChatID,
		"messageId":   msg.ID,
		"userId":      requester,
		"deliveredAt": updated.Timestamps.DeliveredAt,
	}, origin)
	publish(ctx, s.events, s.logger, events.Event{Type: events.MessageDelivered, ChatID: msg.ChatID, MessageID: msg.ID, ActorID: requester})
	return nil
}

// MarkChatRead marks every message addressed to requester in the chat as
// read and returns how many changed. The messages_read fan-out is skipped
// when the reader turned read receipts off.
func (s *ChatService) MarkChatRead(ctx context.Context, requester, chatID, origin string) (int64, error) {
	if chatID == "" {
		return 0, apperr.Validation("chatId is required")
	}
	chat, err := s.chats.Get(ctx, chatID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !chat.HasParticipant(requester)) {
		return 0, apperr.Forbidden("Access denied")
	}
	if err != nil {
		return 0, apperr.Internal(err)
	}

	n, err := s.messages.MarkAllRead(ctx, chatID, requester)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	if n == 0 {
		return 0, nil
	}

	reader, err := s.loadUser(ctx, requester)
	if err != nil {
		return n, nil
	}
	if reader.Settings.ReadReceipts {
		s.bc.EmitToRoom(ctx, chatID, EventMessagesRead, map[string]interface{}{
			"chatId": chatID,
			"userId": requester,
			"readAt": time.Now().UTC(),
		}, origin)
	}
	publish(ctx, s.events, s.logger, events.Event{Type: events.ChatRead, ChatID: chatID, ActorID: requester, Data: map[string]int64{"count": n}})
	return n, nil
}

func (s *ChatService) ChatIDsFor(ctx context.Context, userID string) ([]string, error) {
	return s.chats.ListIDsForUser(ctx, userID)
}

// CanJoin reports whether userID may subscribe to the chat's room.
func (s *ChatService) CanJoin(ctx context.Context, userID, chatID string) (bool, error) {
	chat, err := s.chats.Get(ctx, chatID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return chat.HasParticipant(userID), nil
}
