// Package protocol defines the frames exchanged with the real-time chat
// service. All frames are JSON objects that carry a "type" discriminator.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Frame type constants
// ---------------------------------------------------------------------------

// Client -> Server frame types.
const (
	TypeJoinRoom  = "join_room"
	TypeLeaveRoom = "leave_room"
	TypeTyping    = "typing"
	TypePing      = "ping"
)

// Server -> Client frame types.
const (
	TypeReceiveMessage = "receive_message"
	TypeUserTyping     = "user_typing"
	TypeRoomJoined     = "room_joined"
	TypeRoomLeft       = "room_left"
	TypeError          = "error"
	TypePong           = "pong"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the frame type and the raw JSON payload for deferred
// decoding into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full frame and extracts only the "type" field.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server frames
// ---------------------------------------------------------------------------

// JoinRoomMsg subscribes the connection to a room's pushes.
type JoinRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// LeaveRoomMsg unsubscribes the connection from a room.
type LeaveRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// TypingMsg announces the viewer's typing state in a room.
type TypingMsg struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

// PingMsg is a client keepalive.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client frames
// ---------------------------------------------------------------------------

// ReceiveMessageMsg carries one pushed chat message. The message body is
// provider-shaped and is normalized by the receiver.
type ReceiveMessageMsg struct {
	Type    string         `json:"type"`
	Message map[string]any `json:"message"`
}

// UserTypingMsg relays a participant's typing indicator.
type UserTypingMsg struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// RoomJoinedMsg acknowledges a join_room frame.
type RoomJoinedMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// RoomLeftMsg acknowledges a leave_room frame.
type RoomLeftMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// ErrorMsg reports a failure. RoomID is set when the failure concerns a
// join or leave of a specific room.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	RoomID  string `json:"room_id,omitempty"`
}

func (e ErrorMsg) Error() string {
	if e.RoomID != "" {
		return fmt.Sprintf("live: %s (%s) in room %s", e.Message, e.Code, e.RoomID)
	}
	return fmt.Sprintf("live: %s (%s)", e.Message, e.Code)
}

// PongMsg answers a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseServerMessage parses one frame received from the server into a typed
// message. It returns the frame type, the decoded struct and any error. The
// message body of receive_message frames keeps JSON numbers as json.Number so
// ids survive without float rounding.
func ParseServerMessage(data []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg any
		err error
	)

	switch env.Type {
	case TypeReceiveMessage:
		var m ReceiveMessageMsg
		dec := json.NewDecoder(bytes.NewReader(env.Raw))
		dec.UseNumber()
		err = dec.Decode(&m)
		if err == nil && m.Message == nil {
			err = fmt.Errorf("missing \"message\" object")
		}
		msg = m
	case TypeUserTyping:
		var m UserTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeRoomJoined:
		var m RoomJoinedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeRoomLeft:
		var m RoomLeftMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeError:
		var m ErrorMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePong:
		var m PongMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown server message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// ParseClientMessage parses a frame sent by a client. Only peers that play
// the server role need it.
func ParseClientMessage(data []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg any
		err error
	)

	switch env.Type {
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveRoom:
		var m LeaveRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewClientMessage encodes a client frame. The msgType is injected into the
// payload under the "type" key, overriding whatever the payload carried.
func NewClientMessage(msgType string, payload any) ([]byte, error) {
	return encode(msgType, payload)
}

// NewServerMessage encodes a server frame. The client never sends these; it
// exists for peers that speak the server side of the protocol, such as test
// servers.
func NewServerMessage(msgType string, payload any) ([]byte, error) {
	return encode(msgType, payload)
}

func encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}
	if m == nil {
		m = make(map[string]any, 1)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal message: %w", err)
	}
	return out, nil
}
