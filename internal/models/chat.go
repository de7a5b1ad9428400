package models

import (
	"sort"
	"time"
)

// LastMessage is a denormalized snapshot of the latest message in a chat.
// It is advisory only and never used for per-viewer summaries.
type LastMessage struct {
	MessageID string    `bson:"message_id" json:"messageId"`
	Text      string    `bson:"text" json:"text"`
	SenderID  string    `bson:"sender_id" json:"senderId"`
	Time      time.Time `bson:"time" json:"time"`
}

type Chat struct {
	ID           string               `bson:"_id" json:"id"`
	Participants []string             `bson:"participants" json:"participants"`
	PairKey      string               `bson:"pair_key" json:"-"`
	LastMessage  *LastMessage         `bson:"last_message,omitempty" json:"lastMessage,omitempty"`
	ClearedAt    map[string]time.Time `bson:"cleared_at,omitempty" json:"-"`
	CreatedAt    time.Time            `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time            `bson:"updated_at" json:"updatedAt"`
}

// PairKey normalizes an unordered pair of user ids.
func PairKey(a, b string) string {
	p := []string{a, b}
	sort.Strings(p)
	return p[0] + ":" + p[1]
}

// SortedPair returns both ids in ascending order.
func SortedPair(a, b string) []string {
	p := []string{a, b}
	sort.Strings(p)
	return p
}

func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Other returns the participant that is not userID.
func (c *Chat) Other(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// Watermark returns the user's clear horizon, nil when never cleared.
func (c *Chat) Watermark(userID string) *time.Time {
	if c.ClearedAt == nil {
		return nil
	}
	t, ok := c.ClearedAt[userID]
	if !ok {
		return nil
	}
	return &t
}
