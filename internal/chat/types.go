// Package chat holds the client-side chat domain: rooms, messages, the
// normalization boundary that maps loosely-shaped provider records onto them,
// and the reconciliation rules that keep a room's timeline free of duplicates.
package chat

import "time"

// Role is the viewer's role. It decides which side of a room is the
// counterparty: a shop owner talks to customers, a customer talks to shops.
type Role string

const (
	RoleShop     Role = "shop"
	RoleCustomer Role = "customer"
)

// MessageType tags the kind of a message. Only text is handled here.
type MessageType string

const MessageTypeText MessageType = "Text"

// TempIDPrefix marks ids generated locally for optimistic messages before
// the server assigns a permanent one.
const TempIDPrefix = "temp-"

// Raw is an untyped provider record as decoded from JSON.
type Raw = map[string]any

// ChatMessage is one entry of a room's timeline.
type ChatMessage struct {
	ID           string      `json:"id"`
	ChatRoomID   string      `json:"chatRoomId"`
	SenderUserID string      `json:"senderUserId"`
	SenderName   string      `json:"senderName,omitempty"`
	Content      string      `json:"content"`
	SentAt       time.Time   `json:"sentAt"`
	MessageType  MessageType `json:"messageType"`

	// IsMine is derived from SenderUserID and the viewer on every
	// normalization pass and never sent anywhere.
	IsMine bool `json:"-"`

	// SyntheticID is set when the record carried no id and one was made up
	// locally; such ids are not trusted for exact-id dedupe.
	SyntheticID bool `json:"-"`
}

// IsTemporary reports whether the message still carries a client-side id.
func (m ChatMessage) IsTemporary() bool {
	return len(m.ID) >= len(TempIDPrefix) && m.ID[:len(TempIDPrefix)] == TempIDPrefix
}

// ChatRoom is a conversation between one shop and one customer as seen by
// the viewer. Rooms are owned by the server and never created locally.
type ChatRoom struct {
	ID                    string       `json:"id"`
	CounterpartyName      string       `json:"counterpartyName"`
	CounterpartyAvatarURL string       `json:"counterpartyAvatarUrl,omitempty"`
	CounterpartyShopID    string       `json:"counterpartyShopId,omitempty"`
	CounterpartyUserID    string       `json:"counterpartyUserId,omitempty"`
	LastMessage           *ChatMessage `json:"lastMessage,omitempty"`
	LastMessageAt         time.Time    `json:"lastMessageAt"`
	UnreadCount           int          `json:"unreadCount"`
}

// Recency is the instant the room is ranked by: the later of the last
// message's timestamp and the room's own lastMessageAt.
func (r ChatRoom) Recency() time.Time {
	t := r.LastMessageAt
	if r.LastMessage != nil && r.LastMessage.SentAt.After(t) {
		t = r.LastMessage.SentAt
	}
	return t
}

// NewOptimisticMessage builds a locally-rendered message with a temporary id.
func NewOptimisticMessage(roomID, senderID, content string, now time.Time) ChatMessage {
	return ChatMessage{
		ID:           TempIDPrefix + formatMillis(now),
		ChatRoomID:   roomID,
		SenderUserID: senderID,
		Content:      content,
		SentAt:       now.UTC(),
		MessageType:  MessageTypeText,
		IsMine:       true,
	}
}
