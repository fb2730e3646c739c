package chat

// TypingEvent is pushed by the live channel when a participant of a room
// starts or stops typing.
type TypingEvent struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}
