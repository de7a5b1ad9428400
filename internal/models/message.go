package models

import "time"

// Tombstone replaces the content of a message deleted for everyone.
const Tombstone = "This message was deleted"

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeAudio, TypeDocument:
		return true
	}
	return false
}

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses; unknown statuses rank below sent.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Below lists the statuses a message may advance from to reach s.
func (s MessageStatus) Below() []MessageStatus {
	var out []MessageStatus
	for _, st := range []MessageStatus{StatusSent, StatusDelivered, StatusRead} {
		if st.Rank() < s.Rank() {
			out = append(out, st)
		}
	}
	return out
}

type Timestamps struct {
	SentAt      time.Time  `bson:"sent_at" json:"sentAt"`
	DeliveredAt *time.Time `bson:"delivered_at" json:"deliveredAt"`
	ReadAt      *time.Time `bson:"read_at" json:"readAt"`
}

type Message struct {
	ID                   string        `bson:"_id" json:"id"`
	ChatID               string        `bson:"chat_id" json:"chatId"`
	SenderID             string        `bson:"sender_id" json:"senderId"`
	ReceiverID           string        `bson:"receiver_id" json:"receiverId"`
	Type                 MessageType   `bson:"type" json:"type"`
	Content              string        `bson:"content" json:"content"`
	Status               MessageStatus `bson:"status" json:"status"`
	IsEdited             bool          `bson:"is_edited" json:"isEdited"`
	EditedAt             *time.Time    `bson:"edited_at,omitempty" json:"editedAt,omitempty"`
	Timestamps           Timestamps    `bson:"timestamps" json:"timestamps"`
	DeletedFor           []string      `bson:"deleted_for" json:"-"`
	IsDeletedForEveryone bool          `bson:"is_deleted_for_everyone" json:"isDeletedForEveryone"`
	CreatedAt            time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt            time.Time     `bson:"updated_at" json:"updatedAt"`
}

func (m *Message) DeletedForUser(userID string) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

// Involves reports whether userID is the sender or the receiver.
func (m *Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Before orders messages by creation time, then id.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}
