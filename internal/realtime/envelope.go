package realtime

import "encoding/json"

// Client to server event types.
const (
	TypeJoinChat         = "join-chat"
	TypeTypingStart      = "typing-start"
	TypeTypingStop       = "typing-stop"
	TypeMessageDelivered = "message_delivered"
	TypeMarkMessagesRead = "mark_messages_read"
)

// Server to client event types owned by this package.
const (
	TypeUserTyping     = "user-typing"
	TypeUserTypingStop = "user-typing-stop"
	TypeError          = "error"
)

// Envelope is the wire format in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	ChatID  string          `json:"chat_id,omitempty"`
	MsgID   string          `json:"msg_id,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type relayKind string

const (
	relayRoom relayKind = "room"
	relayAll  relayKind = "all"
	relayJoin relayKind = "join"
)

// relayFrame is what hubs exchange over the shared Redis channel.
type relayFrame struct {
	Node   string          `json:"node"`
	Kind   relayKind       `json:"kind"`
	Room   string          `json:"room,omitempty"`
	User   string          `json:"user,omitempty"`
	Except string          `json:"except,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}
