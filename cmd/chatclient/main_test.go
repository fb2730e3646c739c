package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/marketdesk/chat-session/internal/chat"
	"github.com/marketdesk/chat-session/internal/session"
)

type stubAPI struct{ sent []string }

func (s *stubAPI) ListRooms(context.Context, chat.Role, int, int, string) ([]chat.Raw, error) {
	return nil, nil
}
func (s *stubAPI) JoinRoom(context.Context, string) error { return nil }
func (s *stubAPI) GetMessages(context.Context, string, int, int) ([]chat.Raw, error) {
	return nil, nil
}
func (s *stubAPI) SendMessage(_ context.Context, _ string, content string, _ chat.MessageType) (chat.Raw, error) {
	s.sent = append(s.sent, content)
	return nil, nil
}
func (s *stubAPI) MarkRead(context.Context, string) error { return nil }

type stubLive struct{}

func (stubLive) Initialize(context.Context, string) (bool, error) { return false, nil }
func (stubLive) IsConnected() bool { return false }
func (stubLive) JoinChannel(context.Context, string) (bool, error) { return false, nil }
func (stubLive) LeaveChannel(context.Context, string) error { return nil }
func (stubLive) OnReceiveMessage(func(chat.Raw)) {}
func (stubLive) OnUserTyping(func(chat.TypingEvent)) {}

// typingLive joins every room and records typing announcements.
type typingLive struct {
	stubLive
	mu     sync.Mutex
	typing []string
}

func (l *typingLive) IsConnected() bool                                 { return true }
func (l *typingLive) JoinChannel(context.Context, string) (bool, error) { return true, nil }
func (l *typingLive) SendTyping(_ context.Context, roomID string, isTyping bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.typing = append(l.typing, fmt.Sprintf("%s:%v", roomID, isTyping))
	return nil
}

func (l *typingLive) sent() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.typing...)
}

type stubCreds struct{}

func (stubCreds) Token(context.Context) (string, error) { return "t", nil }
func (stubCreds) CurrentUserID(context.Context) (string, error) { return "u-1", nil }

func TestHandleLine(t *testing.T) {
	api := &stubAPI{}
	ctrl := session.New(session.Config{}, api, stubLive{}, stubCreds{})
	var buf bytes.Buffer
	out := &printer{w: bufio.NewWriter(&buf)}
	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	assert.False(t, handleLine(ctx, ctrl, out, logger, "hello"))
	assert.Contains(t, buf.String(), "no room selected")

	assert.False(t, handleLine(ctx, ctrl, out, logger, "/room r-1"))
	assert.Eventually(t, func() bool { return ctrl.State() == session.StateJoined }, time.Second, 5*time.Millisecond)

	assert.False(t, handleLine(ctx, ctrl, out, logger, "  hi there "))
	assert.Equal(t, []string{"hi there"}, api.sent)

	assert.False(t, handleLine(ctx, ctrl, out, logger, "   "))
	assert.True(t, handleLine(ctx, ctrl, out, logger, "/quit"))
}

func TestHandleLine_AnnouncesTypingAroundSend(t *testing.T) {
	api := &stubAPI{}
	live := &typingLive{}
	ctrl := session.New(session.Config{}, api, live, stubCreds{})
	var buf bytes.Buffer
	out := &printer{w: bufio.NewWriter(&buf)}
	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	assert.False(t, handleLine(ctx, ctrl, out, logger, "/room r-1"))
	assert.Eventually(t, func() bool { return ctrl.State() == session.StateJoined }, time.Second, 5*time.Millisecond)

	assert.False(t, handleLine(ctx, ctrl, out, logger, "on my way"))

	assert.Equal(t, []string{"on my way"}, api.sent)
	assert.Equal(t, []string{"r-1:true", "r-1:false"}, live.sent())
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{w: bufio.NewWriter(&buf)}

	p.rooms(nil)
	p.rooms([]chat.ChatRoom{{
		ID:               "r-1",
		CounterpartyName: "Tea House",
		UnreadCount:      2,
		LastMessage:      &chat.ChatMessage{Content: "see you"},
	}})
	p.timeline([]chat.ChatMessage{
		{ID: "temp-1", Content: "hi", IsMine: true, SentAt: time.Now()},
		{ID: "m-2", SenderUserID: "u-9", Content: "hello", SentAt: time.Now()},
		{ID: "m-3", SenderUserID: "u-9", Content: "x<y \x1b[2Jdone", SentAt: time.Now()},
	})

	s := buf.String()
	assert.Contains(t, s, "no conversations yet")
	assert.Contains(t, s, "r-1  Tea House (2)  see you")
	assert.Contains(t, s, "me: hi (sending)")
	assert.Contains(t, s, "u-9: hello")
	assert.Contains(t, s, "u-9: x<y [2Jdone")
	assert.NotContains(t, s, "\x1b")
}
