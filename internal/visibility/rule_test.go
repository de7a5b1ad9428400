package visibility

import (
	"testing"
	"time"

	"github.com/dreamerumesh/connecTu-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestRuleVisible(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	msg := func(mut func(m *models.Message)) *models.Message {
		m := &models.Message{ID: "m1", SenderID: "a", ReceiverID: "b", CreatedAt: t0}
		if mut != nil {
			mut(m)
		}
		return m
	}
	wm := t0

	cases := []struct {
		name string
		rule Rule
		msg  *models.Message
		want bool
	}{
		{"plain", Rule{Viewer: "b"}, msg(nil), true},
		{"deleted for everyone", Rule{Viewer: "b"}, msg(func(m *models.Message) { m.IsDeletedForEveryone = true }), false},
		{"tombstone in history", Rule{Viewer: "b", IncludeTombstones: true}, msg(func(m *models.Message) { m.IsDeletedForEveryone = true }), true},
		{"deleted for viewer", Rule{Viewer: "b"}, msg(func(m *models.Message) { m.DeletedFor = []string{"b"} }), false},
		{"deleted for the other user", Rule{Viewer: "a"}, msg(func(m *models.Message) { m.DeletedFor = []string{"b"} }), true},
		{"created at watermark", Rule{Viewer: "b", Watermark: &wm}, msg(nil), false},
		{"created after watermark", Rule{Viewer: "b", Watermark: &wm}, msg(func(m *models.Message) { m.CreatedAt = t0.Add(time.Millisecond) }), true},
		{"watermark beats tombstone flag", Rule{Viewer: "b", Watermark: &wm, IncludeTombstones: true}, msg(func(m *models.Message) { m.IsDeletedForEveryone = true }), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.rule.Visible(tc.msg))
		})
	}
}

func TestRuleFor(t *testing.T) {
	wm := time.Now()
	chat := &models.Chat{ClearedAt: map[string]time.Time{"a": wm}}

	ra := For(chat, "a")
	assert.NotNil(t, ra.Watermark)
	assert.True(t, ra.Watermark.Equal(wm))
	assert.Nil(t, For(chat, "b").Watermark)
}

func TestRuleFilter(t *testing.T) {
	wm := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	f := Rule{Viewer: "u1", Watermark: &wm}.Filter("c1")
	assert.Equal(t, "c1", f["chat_id"])
	assert.Equal(t, bson.M{"$ne": "u1"}, f["deleted_for"])
	assert.Equal(t, false, f["is_deleted_for_everyone"])
	assert.Equal(t, bson.M{"$gt": wm}, f["created_at"])

	h := Rule{Viewer: "u1", IncludeTombstones: true}.Filter("c1")
	assert.NotContains(t, h, "is_deleted_for_everyone")
	assert.NotContains(t, h, "created_at")
}
