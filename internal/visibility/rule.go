// Package visibility decides which messages a viewer may see and derives the
// per-viewer chat summaries from the message log.
package visibility

import (
	"time"

	"github.com/dreamerumesh/connecTu-backend/internal/models"
	"go.mongodb.org/mongo-driver/bson"
)

// Rule is the visibility predicate for one viewer in one chat. A message is
// visible iff it is not deleted for everyone, not deleted for the viewer, and
// created strictly after the viewer's clear watermark (if any).
//
// IncludeTombstones relaxes the first clause so history views can render the
// placeholder row of a message deleted for everyone.
type Rule struct {
	Viewer            string
	Watermark         *time.Time
	IncludeTombstones bool
}

// For builds the rule for viewer using the chat's watermark.
func For(chat *models.Chat, viewer string) Rule {
	return Rule{Viewer: viewer, Watermark: chat.Watermark(viewer)}
}

func (r Rule) Visible(m *models.Message) bool {
	if m.IsDeletedForEveryone && !r.IncludeTombstones {
		return false
	}
	if m.DeletedForUser(r.Viewer) {
		return false
	}
	if r.Watermark != nil && !m.CreatedAt.After(*r.Watermark) {
		return false
	}
	return true
}

// Filter renders the rule as a Mongo query over the messages collection.
func (r Rule) Filter(chatID string) bson.M {
	f := bson.M{
		"chat_id":     chatID,
		"deleted_for": bson.M{"$ne": r.Viewer},
	}
	if !r.IncludeTombstones {
		f["is_deleted_for_everyone"] = false
	}
	if r.Watermark != nil {
		f["created_at"] = bson.M{"$gt": *r.Watermark}
	}
	return f
}

// Page bounds a history query: the latest Limit messages created before
// Before. Zero values mean unbounded.
type Page struct {
	Limit  int64
	Before time.Time
}
