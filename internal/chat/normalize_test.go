package chat

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) Raw {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var raw Raw
	require.NoError(t, dec.Decode(&raw))
	return raw
}

func TestNormalizeMessage_CanonicalFields(t *testing.T) {
	raw := decode(t, `{"id":"m-1","chatRoomId":"r-1","senderUserId":"u-1","senderName":"Ana","content":"hello","sentAt":"2024-01-01T10:00:00Z","messageType":"Text"}`)

	m := NormalizeMessage(raw, NormalizeOptions{ViewerID: "u-1"})

	assert.Equal(t, "m-1", m.ID)
	assert.Equal(t, "r-1", m.ChatRoomID)
	assert.Equal(t, "u-1", m.SenderUserID)
	assert.Equal(t, "Ana", m.SenderName)
	assert.Equal(t, "hello", m.Content)
	assert.Equal(t, base, m.SentAt)
	assert.Equal(t, MessageTypeText, m.MessageType)
	assert.True(t, m.IsMine)
	assert.False(t, m.SyntheticID)
}

func TestNormalizeMessage_Aliases(t *testing.T) {
	raw := decode(t, `{"messageId":42,"ChatRoomId":"r-9","senderId":7,"senderDisplayName":"Shop A","message":"hey","createdAt":"2024-01-01T10:00:00"}`)

	m := NormalizeMessage(raw, NormalizeOptions{ViewerID: "8"})

	assert.Equal(t, "42", m.ID)
	assert.Equal(t, "r-9", m.ChatRoomID)
	assert.Equal(t, "7", m.SenderUserID)
	assert.Equal(t, "Shop A", m.SenderName)
	assert.Equal(t, "hey", m.Content)
	assert.Equal(t, base, m.SentAt)
	assert.False(t, m.IsMine)
}

func TestNormalizeMessage_IsMineComparesAsStrings(t *testing.T) {
	raw := decode(t, `{"id":"m","senderUserId":15,"content":"x"}`)

	assert.True(t, NormalizeMessage(raw, NormalizeOptions{ViewerID: "15"}).IsMine)
	assert.False(t, NormalizeMessage(raw, NormalizeOptions{}).IsMine)
}

func TestNormalizeMessage_RepairsMissingFields(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	raw := decode(t, `{"senderUserId":"u-1","content":"no ids"}`)

	m := NormalizeMessage(raw, NormalizeOptions{FallbackRoomID: "selected", Now: now})

	assert.Equal(t, "selected", m.ChatRoomID)
	assert.True(t, m.SyntheticID)
	assert.True(t, strings.HasPrefix(m.ID, "local-"))
	assert.False(t, m.IsTemporary())
	assert.Equal(t, MessageTypeText, m.MessageType)
}

func TestNormalizeMessage_BadTimestampIsEpoch(t *testing.T) {
	raw := decode(t, `{"id":"m","sentAt":"yesterday-ish"}`)

	m := NormalizeMessage(raw, NormalizeOptions{})

	assert.Equal(t, time.Unix(0, 0).UTC(), m.SentAt)
}

func TestNormalizeMessage_UnixTimestamps(t *testing.T) {
	seconds := NormalizeMessage(Raw{"id": "a", "timestamp": float64(base.Unix())}, NormalizeOptions{})
	millis := NormalizeMessage(Raw{"id": "b", "timestamp": json.Number("1704103200000")}, NormalizeOptions{})

	assert.Equal(t, base, seconds.SentAt)
	assert.Equal(t, base, millis.SentAt)
}

func TestNormalizeMessage_MissingTimestampIsEpoch(t *testing.T) {
	m := NormalizeMessage(Raw{"id": "m", "content": "no time"}, NormalizeOptions{})

	assert.Equal(t, time.Unix(0, 0).UTC(), m.SentAt)
}

func TestNormalizeMessage_KeepsTextAsSent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"less than", "x<y"},
		{"comparison", "if a<b and c>d"},
		{"markup", `<script>alert(1)</script>hi <b>there</b> & co`},
		{"escaped entities", "<i></i>&lt;script&gt;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NormalizeMessage(Raw{"id": "a", "senderName": "<b>Lan</b>", "content": tt.content}, NormalizeOptions{})

			assert.Equal(t, tt.content, m.Content)
			assert.Equal(t, "<b>Lan</b>", m.SenderName)
		})
	}
}

func TestNormalizeMessage_ComparisonTextIsNotCollapsed(t *testing.T) {
	m1 := NormalizeMessage(Raw{"id": "m1", "senderId": "u1", "content": "x<y", "sentAt": "2024-01-01T10:00:00Z"}, NormalizeOptions{})
	m2 := NormalizeMessage(Raw{"id": "m2", "senderId": "u1", "content": "x<z", "sentAt": "2024-01-01T10:00:05Z"}, NormalizeOptions{})

	tl := NewTimeline()
	assert.Equal(t, OutcomeAppended, tl.Apply(m1))
	assert.Equal(t, OutcomeAppended, tl.Apply(m2))
	msgs := tl.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "x<y", msgs[0].Content)
	assert.Equal(t, "x<z", msgs[1].Content)
}

func TestDisplayText(t *testing.T) {
	assert.Equal(t, "x<y & <b>bold</b>", DisplayText("x<y & <b>bold</b>"))
	assert.Equal(t, "[31mred\nline\ttab", DisplayText("\x1b[31mred\nline\ttab"))
}

func TestNormalizeRoom_CustomerSeesShop(t *testing.T) {
	raw := decode(t, `{
		"chatRoomId": "r-1",
		"shopId": "s-1",
		"shopName": "Tea House",
		"shopLogoURL": "https://cdn/logo.png",
		"unreadCount": 3,
		"lastMessageAt": "2024-01-01T09:00:00Z",
		"lastMessage": {"id":"m-1","senderId":"s-user","content":"welcome","sentAt":"2024-01-01T10:00:00Z"}
	}`)

	r := NormalizeRoom(raw, RoleCustomer)

	assert.Equal(t, "r-1", r.ID)
	assert.Equal(t, "s-1", r.CounterpartyShopID)
	assert.Empty(t, r.CounterpartyUserID)
	assert.Equal(t, "Tea House", r.CounterpartyName)
	assert.Equal(t, "https://cdn/logo.png", r.CounterpartyAvatarURL)
	assert.Equal(t, 3, r.UnreadCount)
	require.NotNil(t, r.LastMessage)
	assert.Equal(t, "r-1", r.LastMessage.ChatRoomID)
	assert.Equal(t, base, r.Recency())
}

func TestNormalizeRoom_ShopSeesCustomer(t *testing.T) {
	raw := decode(t, `{"id":"r-2","shopId":"own-shop","customer":{"id":"c-1","fullName":"Minh","avatar":"https://cdn/minh.png"},"unread":-2,"lastMessage":"see you"}`)

	r := NormalizeRoom(raw, RoleShop)

	assert.Equal(t, "r-2", r.ID)
	assert.Equal(t, "c-1", r.CounterpartyUserID)
	assert.Empty(t, r.CounterpartyShopID)
	assert.Equal(t, "Minh", r.CounterpartyName)
	assert.Equal(t, "https://cdn/minh.png", r.CounterpartyAvatarURL)
	assert.Equal(t, 0, r.UnreadCount)
	require.NotNil(t, r.LastMessage)
	assert.Equal(t, "see you", r.LastMessage.Content)
}

func TestNormalizeRoom_IDFromAlternateKey(t *testing.T) {
	r := NormalizeRoom(Raw{"_id": "abc"}, RoleCustomer)

	assert.Equal(t, "abc", r.ID)
	assert.Nil(t, r.LastMessage)
	assert.True(t, r.Recency().IsZero())
}

func TestExtractString_LooksIntoDataWrapper(t *testing.T) {
	raw := Raw{"data": map[string]any{"logoUrl": "https://cdn/x.png"}}

	assert.Equal(t, "https://cdn/x.png", ExtractString(raw, "logoURL", "logoUrl"))
	assert.Empty(t, ExtractString(raw, "avatarUrl"))
}

func TestNewOptimisticMessage(t *testing.T) {
	m := NewOptimisticMessage("r-1", "u-1", "hi", base)

	assert.True(t, m.IsTemporary())
	assert.Equal(t, "temp-1704103200000", m.ID)
	assert.True(t, m.IsMine)
}

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"trims", "  hi  ", "hi", false},
		{"whitespace only", "   ", "", true},
		{"empty", "", "", true},
		{"too long", strings.Repeat("a", MaxMessageBytes+1), "", true},
		{"too many runes", strings.Repeat("é", MaxTextChars+1), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateContent(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	_, err := ValidateContent(" \t\n")
	assert.ErrorIs(t, err, ErrEmptyContent)
}
