package chat

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Accepted field aliases. Providers disagree on naming (camelCase, PascalCase,
// Mongo-style ids, nested shop/user objects); every alias the client tolerates
// is listed here and nowhere else.
var (
	messageIDKeys      = []string{"id", "messageId", "messageID", "_id", "Id", "MessageId"}
	messageRoomKeys    = []string{"chatRoomId", "chatRoomID", "roomId", "roomID", "chatId", "ChatRoomId", "room_id"}
	messageSenderKeys  = []string{"senderUserId", "senderUserID", "senderId", "senderID", "userId", "SenderUserId", "sender_id"}
	messageNameKeys    = []string{"senderName", "senderDisplayName", "senderFullName", "SenderName", "userName", "displayName"}
	messageContentKeys = []string{"content", "Content", "message", "text", "body"}
	messageSentAtKeys  = []string{"sentAt", "SentAt", "createdAt", "CreatedAt", "timestamp", "sent_at"}
	messageTypeKeys    = []string{"messageType", "MessageType", "type"}

	roomIDKeys      = []string{"id", "chatRoomId", "chatRoomID", "roomId", "roomID", "_id", "Id"}
	roomLastAtKeys  = []string{"lastMessageAt", "LastMessageAt", "lastMessageTime", "lastActivityAt", "updatedAt"}
	roomUnreadKeys  = []string{"unreadCount", "UnreadCount", "unreadMessages", "unread"}
	roomPreviewKeys = []string{"lastMessageContent", "lastMessageText"}

	// Counterparty is a shop (customer viewer).
	shopNameKeys   = []string{"counterpartyName", "shopName", "ShopName", "name", "displayName"}
	shopAvatarKeys = []string{"counterpartyAvatarUrl", "shopLogoURL", "shopLogoUrl", "shopLogo", "logoURL", "logoUrl", "logo"}
	shopIDKeys     = []string{"shopId", "shopID", "ShopId"}
	shopNestedKeys = []string{"shop", "Shop"}

	// Counterparty is a customer (shop viewer).
	userNameKeys   = []string{"counterpartyName", "userName", "customerName", "userFullName", "fullName", "displayName", "name"}
	userAvatarKeys = []string{"counterpartyAvatarUrl", "userAvatar", "userAvatarUrl", "customerAvatar", "avatarUrl", "avatarURL", "avatar"}
	userIDKeys     = []string{"userId", "userID", "customerId", "customerID", "buyerId", "UserId"}
	userNestedKeys = []string{"user", "customer", "User", "Customer"}
)

var epoch = time.Unix(0, 0).UTC()

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

// NormalizeOptions carries the viewer context a message is normalized in.
type NormalizeOptions struct {
	ViewerID       string
	FallbackRoomID string
	Now            time.Time
}

// NormalizeMessage maps a provider record onto ChatMessage. A missing room id
// falls back to opts.FallbackRoomID and a missing id is synthesized from
// opts.Now. Missing or unparseable timestamps become the Unix epoch. Text is
// kept as sent; escaping for display is left to the renderer.
func NormalizeMessage(raw Raw, opts NormalizeOptions) ChatMessage {
	m := ChatMessage{
		ID:           firstString(raw, messageIDKeys...),
		ChatRoomID:   firstString(raw, messageRoomKeys...),
		SenderUserID: firstString(raw, messageSenderKeys...),
		SenderName:   firstString(raw, messageNameKeys...),
		Content:      firstString(raw, messageContentKeys...),
		SentAt:       firstTime(raw, messageSentAtKeys...),
		MessageType:  MessageType(firstString(raw, messageTypeKeys...)),
	}
	if m.SentAt.IsZero() {
		m.SentAt = epoch
	}
	if m.ChatRoomID == "" {
		m.ChatRoomID = opts.FallbackRoomID
	}
	if m.ID == "" {
		now := opts.Now
		if now.IsZero() {
			now = time.Now()
		}
		m.ID = "local-" + strconv.FormatInt(now.UnixNano(), 10)
		m.SyntheticID = true
	}
	if m.MessageType == "" {
		m.MessageType = MessageTypeText
	}
	m.IsMine = opts.ViewerID != "" && m.SenderUserID == opts.ViewerID
	return m
}

// NormalizeRoom maps a provider record onto ChatRoom, reading counterparty
// metadata from the shop side or the customer side depending on role.
func NormalizeRoom(raw Raw, role Role) ChatRoom {
	r := ChatRoom{
		ID:            firstString(raw, roomIDKeys...),
		LastMessageAt: firstTime(raw, roomLastAtKeys...),
		UnreadCount:   firstInt(raw, roomUnreadKeys...),
	}
	if r.UnreadCount < 0 {
		r.UnreadCount = 0
	}

	if role == RoleShop {
		nested := firstNested(raw, userNestedKeys...)
		r.CounterpartyName = firstString(raw, userNameKeys...)
		r.CounterpartyAvatarURL = firstString(raw, userAvatarKeys...)
		r.CounterpartyUserID = firstString(raw, userIDKeys...)
		if nested != nil {
			r.CounterpartyName = orDefault(r.CounterpartyName, firstString(nested, userNameKeys...))
			r.CounterpartyAvatarURL = orDefault(r.CounterpartyAvatarURL, firstString(nested, userAvatarKeys...))
			r.CounterpartyUserID = orDefault(r.CounterpartyUserID, firstString(nested, "id", "_id", "userId"))
		}
	} else {
		nested := firstNested(raw, shopNestedKeys...)
		r.CounterpartyName = firstString(raw, shopNameKeys...)
		r.CounterpartyAvatarURL = firstString(raw, shopAvatarKeys...)
		r.CounterpartyShopID = firstString(raw, shopIDKeys...)
		if nested != nil {
			r.CounterpartyName = orDefault(r.CounterpartyName, firstString(nested, shopNameKeys...))
			r.CounterpartyAvatarURL = orDefault(r.CounterpartyAvatarURL, firstString(nested, shopAvatarKeys...))
			r.CounterpartyShopID = orDefault(r.CounterpartyShopID, firstString(nested, "id", "_id", "shopId"))
		}
	}

	switch last := raw["lastMessage"].(type) {
	case map[string]any:
		m := NormalizeMessage(last, NormalizeOptions{FallbackRoomID: r.ID})
		r.LastMessage = &m
	case string:
		if last != "" {
			r.LastMessage = previewMessage(r, last)
		}
	default:
		if s := firstString(raw, roomPreviewKeys...); s != "" {
			r.LastMessage = previewMessage(r, s)
		}
	}
	return r
}

// previewMessage wraps a bare preview string. It carries the room's own
// timestamp so it never changes the room's rank.
func previewMessage(r ChatRoom, content string) *ChatMessage {
	return &ChatMessage{
		ChatRoomID:  r.ID,
		Content:     content,
		SentAt:      r.LastMessageAt,
		MessageType: MessageTypeText,
	}
}

// ExtractString returns the first non-empty value among keys, looking into a
// "data" wrapper when the record has one.
func ExtractString(raw Raw, keys ...string) string {
	if s := firstString(raw, keys...); s != "" {
		return s
	}
	if data, ok := raw["data"].(map[string]any); ok {
		return firstString(data, keys...)
	}
	return ""
}

func firstString(raw Raw, keys ...string) string {
	for _, k := range keys {
		if s := stringify(raw[k]); s != "" {
			return s
		}
	}
	return ""
}

func firstNested(raw Raw, keys ...string) Raw {
	for _, k := range keys {
		if m, ok := raw[k].(map[string]any); ok {
			return m
		}
	}
	return nil
}

func firstInt(raw Raw, keys ...string) int {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			return int(v)
		case int:
			return v
		case int64:
			return int(v)
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return int(n)
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return 0
}

// firstTime parses the first present key. A present but unparseable value
// yields the epoch; no key at all yields the zero time.
func firstTime(raw Raw, keys ...string) time.Time {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if t, ok := parseTime(v); ok {
			return t
		}
		return epoch
	}
	return time.Time{}
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromUnix(n), true
		}
	case float64:
		return fromUnix(int64(t)), true
	case int64:
		return fromUnix(t), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return fromUnix(n), true
		}
	}
	return time.Time{}, false
}

// fromUnix accepts seconds or milliseconds.
func fromUnix(n int64) time.Time {
	if n > 1e12 || n < -1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
