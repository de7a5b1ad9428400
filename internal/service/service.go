// Package service holds the command and query flows behind the REST and
// realtime surfaces. Every mutation is written to the store first; fan-out
// and lifecycle events follow in the same call and never fail it.
package service

import (
	"context"
	"errors"
	"regexp"
	"unicode/utf8"

	"github.com/dreamerumesh/connecTu-backend/internal/apperr"
	"github.com/dreamerumesh/connecTu-backend/internal/events"
	"github.com/dreamerumesh/connecTu-backend/internal/repository"
	"go.uber.org/zap"
)

// Server to client realtime events.
const (
	EventReceiveMessage            = "receive-message"
	EventMessageUpdated            = "message-updated"
	EventMessageDeletedForEveryone = "message-deleted-for-everyone"
	EventUserStatus                = "user-status"
	EventMessageDelivered          = "message_delivered"
	EventMessagesRead              = "messages_read"
)

// Broadcaster fans events out to connected sessions. exceptSession, when not
// empty, is the session that caused the event and is skipped.
type Broadcaster interface {
	EmitToRoom(ctx context.Context, chatID, event string, payload interface{}, exceptSession string)
	EmitToAll(ctx context.Context, event string, payload interface{})
	JoinUser(ctx context.Context, userID, chatID string)
}

type nopBroadcaster struct{}

func (nopBroadcaster) EmitToRoom(context.Context, string, string, interface{}, string) {}
func (nopBroadcaster) EmitToAll(context.Context, string, interface{})                  {}
func (nopBroadcaster) JoinUser(context.Context, string, string)                        {}

// NopBroadcaster drops every event.
var NopBroadcaster Broadcaster = nopBroadcaster{}

var phoneRe = regexp.MustCompile(`^[0-9]{10,15}$`)

func validPhone(p string) bool { return phoneRe.MatchString(p) }

const maxNameLen = 50

// nameTooLong counts characters, not bytes.
func nameTooLong(name string) bool { return utf8.RuneCountInString(name) > maxNameLen }

// storeErr translates repository sentinels; notFound is the client message
// for a missing record.
func storeErr(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(notFound)
	case errors.Is(err, repository.ErrSameParticipant):
		return apperr.Validation("You cannot message yourself")
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Internal(err)
}

func publish(ctx context.Context, pub events.Publisher, logger *zap.Logger, e events.Event) {
	if err := pub.Publish(ctx, e); err != nil {
		logger.Warn("publish event failed", zap.String("type", string(e.Type)), zap.Error(err))
	}
}
