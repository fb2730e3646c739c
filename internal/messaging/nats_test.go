package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/marketdesk/chat-session/internal/chat"
	"github.com/marketdesk/chat-session/internal/protocol"
)

func TestSubjects(t *testing.T) {
	if got := RoomSubject("r-1"); got != "chat.room.r-1" {
		t.Errorf("RoomSubject = %q", got)
	}
	if got := TypingSubject("r-1"); got != "chat.typing.r-1" {
		t.Errorf("TypingSubject = %q", got)
	}
}

func TestJoinChannel_NotConnected(t *testing.T) {
	c := NewChannel(DefaultNATSConfig(), nil)

	ok, err := c.JoinChannel(context.Background(), "r-1")
	if ok || err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got ok=%v err=%v", ok, err)
	}
	if err := c.LeaveChannel(context.Background(), "r-1"); err != nil {
		t.Fatalf("leaving an unjoined room should be a no-op: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() on an unconnected channel: %v", err)
	}
}

// newTestChannel connects to a local NATS server and returns the channel plus
// a raw connection for publishing. Tests that call this helper require a
// running NATS on localhost:4222.
func newTestChannel(t *testing.T) (*Channel, *nats.Conn) {
	t.Helper()
	pub, err := nats.Connect(nats.DefaultURL, nats.Timeout(500*time.Millisecond))
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(pub.Close)

	cfg := DefaultNATSConfig()
	cfg.UserID = "viewer-1"
	c := NewChannel(cfg, nil)
	ok, err := c.Initialize(context.Background(), "")
	if err != nil || !ok {
		t.Fatalf("Initialize() = %v, %v", ok, err)
	}
	t.Cleanup(func() { c.Close() })
	return c, pub
}

func TestChannel_DeliversRoomMessages(t *testing.T) {
	c, pub := newTestChannel(t)
	ctx := context.Background()

	got := make(chan chat.Raw, 4)
	c.OnReceiveMessage(func(raw chat.Raw) { got <- raw })

	if ok, err := c.JoinChannel(ctx, "test-room-a"); !ok || err != nil {
		t.Fatalf("JoinChannel() = %v, %v", ok, err)
	}

	if err := pub.Publish(RoomSubject("test-room-a"), []byte(`{"id":12,"content":"bare"}`)); err != nil {
		t.Fatal(err)
	}
	wrapped, _ := protocol.NewServerMessage(protocol.TypeReceiveMessage, protocol.ReceiveMessageMsg{Message: map[string]any{"id": "m-2", "content": "wrapped"}})
	if err := pub.Publish(RoomSubject("test-room-a"), wrapped); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"bare", "wrapped"} {
		select {
		case raw := <-got:
			if raw["content"] != want {
				t.Errorf("expected content %q, got %v", want, raw["content"])
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("message %q not delivered", want)
		}
	}
}

func TestChannel_LeaveStopsDelivery(t *testing.T) {
	c, pub := newTestChannel(t)
	ctx := context.Background()

	got := make(chan chat.Raw, 4)
	c.OnReceiveMessage(func(raw chat.Raw) { got <- raw })

	c.JoinChannel(ctx, "test-room-b")
	c.JoinChannel(ctx, "test-room-b")
	if err := c.LeaveChannel(ctx, "test-room-b"); err != nil {
		t.Fatal(err)
	}

	pub.Publish(RoomSubject("test-room-b"), []byte(`{"id":"1","content":"still joined"}`))
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("one reference remains, delivery should continue")
	}

	if err := c.LeaveChannel(ctx, "test-room-b"); err != nil {
		t.Fatal(err)
	}
	pub.Publish(RoomSubject("test-room-b"), []byte(`{"id":"2","content":"left"}`))
	pub.Flush()
	select {
	case raw := <-got:
		t.Fatalf("unexpected delivery after leave: %v", raw)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestChannel_ConcurrentJoinsShareSubscription(t *testing.T) {
	c, pub := newTestChannel(t)
	ctx := context.Background()

	got := make(chan chat.Raw, 8)
	c.OnReceiveMessage(func(raw chat.Raw) { got <- raw })

	const joiners = 5
	var wg sync.WaitGroup
	errs := make(chan error, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := c.JoinChannel(ctx, "test-room-d"); !ok || err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent JoinChannel failed: %v", err)
	}
	if n := c.members.Count("test-room-d"); n != joiners {
		t.Fatalf("expected %d references, got %d", joiners, n)
	}

	pub.Publish(RoomSubject("test-room-d"), []byte(`{"id":"1","content":"once"}`))
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered after concurrent joins")
	}
	select {
	case raw := <-got:
		t.Fatalf("message delivered twice: %v", raw)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestChannel_FailedJoinIsNotHeld(t *testing.T) {
	c, _ := newTestChannel(t)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if ok, err := c.JoinChannel(canceled, "test-room-e"); ok || err == nil {
		t.Fatalf("JoinChannel with canceled context = %v, %v", ok, err)
	}
	if n := c.members.Count("test-room-e"); n != 0 {
		t.Fatalf("failed join left %d references", n)
	}

	// The next join performs a real subscribe instead of piggybacking.
	if ok, err := c.JoinChannel(context.Background(), "test-room-e"); !ok || err != nil {
		t.Fatalf("JoinChannel() = %v, %v", ok, err)
	}
	c.mu.Lock()
	subs := len(c.subs["test-room-e"])
	c.mu.Unlock()
	if subs != 2 {
		t.Fatalf("expected message and typing subscriptions, got %d", subs)
	}
}

func TestChannel_TypingRoundTrip(t *testing.T) {
	c, _ := newTestChannel(t)
	ctx := context.Background()

	got := make(chan chat.TypingEvent, 1)
	c.OnUserTyping(func(ev chat.TypingEvent) { got <- ev })
	c.JoinChannel(ctx, "test-room-c")

	if err := c.SendTyping(ctx, "test-room-c", true); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-got:
		want := chat.TypingEvent{RoomID: "test-room-c", UserID: "viewer-1", IsTyping: true}
		if ev != want {
			t.Errorf("expected %+v, got %+v", want, ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("typing indicator not delivered")
	}
}

func TestHandleMessage_DropsMalformed(t *testing.T) {
	c := NewChannel(DefaultNATSConfig(), nil)
	called := false
	c.OnReceiveMessage(func(chat.Raw) { called = true })

	c.handleMessage([]byte(`not json`))
	c.handleMessage([]byte(`{"type":"receive_message"}`))

	if called {
		t.Fatal("malformed payloads must not reach the handler")
	}

	var id json.Number
	c.OnReceiveMessage(func(raw chat.Raw) { id, _ = raw["id"].(json.Number) })
	c.handleMessage([]byte(`{"id":9007199254740993}`))
	if id.String() != "9007199254740993" {
		t.Errorf("numeric id lost precision: %q", id)
	}
}
