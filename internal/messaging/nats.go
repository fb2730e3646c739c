// Package messaging provides the live channel over NATS for deployments where
// the real-time service publishes room traffic on NATS subjects instead of a
// WebSocket hub. It satisfies the same join/leave contract as package live.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/marketdesk/chat-session/internal/chat"
	"github.com/marketdesk/chat-session/internal/live"
	"github.com/marketdesk/chat-session/internal/metrics"
	"github.com/marketdesk/chat-session/internal/protocol"
)

// NATS subject patterns used by the chat service.
const (
	SubjectRoom   = "chat.room"   // + .<room_id>
	SubjectTyping = "chat.typing" // + .<room_id>
)

// ErrNotConnected is returned when joining before Initialize succeeded.
var ErrNotConnected = errors.New("nats: not connected")

// RoomSubject returns the subject carrying messages of roomID.
func RoomSubject(roomID string) string {
	return SubjectRoom + "." + roomID
}

// TypingSubject returns the subject carrying typing indicators of roomID.
func TypingSubject(roomID string) string {
	return SubjectTyping + "." + roomID
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	UserID        string        // stamped on outgoing typing indicators
	Timeout       time.Duration // connect timeout
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "shopchat-client",
		Timeout:       5 * time.Second,
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Channel is a live channel backed by a NATS connection.
type Channel struct {
	config NATSConfig
	logger *zap.SugaredLogger

	mu   sync.Mutex
	conn *nats.Conn
	subs map[string][]*nats.Subscription // room id -> message and typing subs

	joinMu  sync.Mutex // serializes join and leave so an in-flight join is never counted as held
	members *live.Membership

	handlerMu sync.RWMutex
	onMessage func(chat.Raw)
	onTyping  func(chat.TypingEvent)
}

// NewChannel creates a Channel. No connection is made until Initialize.
func NewChannel(config NATSConfig, logger *zap.SugaredLogger) *Channel {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Channel{
		config:  config,
		logger:  logger,
		subs:    make(map[string][]*nats.Subscription),
		members: live.NewMembership(),
	}
}

// Initialize connects to NATS using token for authentication. An open
// connection is reused.
func (c *Channel) Initialize(_ context.Context, token string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return true, nil
	}

	opts := []nats.Option{
		nats.Name(c.config.Name),
		nats.Timeout(c.config.Timeout),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.MaxReconnects(c.config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			metrics.LiveConnected.Set(0)
			if err != nil {
				c.logger.Warnw("disconnected", "error", err)
			} else {
				c.logger.Infow("disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			metrics.LiveConnected.Set(1)
			c.logger.Infow("reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			metrics.LiveConnected.Set(0)
			c.logger.Infow("connection closed")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		metrics.CollaboratorFailures.WithLabelValues("live_connect").Inc()
		return false, fmt.Errorf("nats connect: %w", err)
	}

	c.conn = nc
	metrics.LiveConnected.Set(1)
	c.logger.Infow("connected", "url", nc.ConnectedUrl())
	return true, nil
}

// IsConnected reports whether the NATS connection is currently up.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.IsConnected()
}

// JoinChannel subscribes to the room's message and typing subjects. The
// subscriptions are flushed so the server has registered them on return.
// A join of a room whose first join is still flushing waits for it.
func (c *Channel) JoinChannel(ctx context.Context, roomID string) (bool, error) {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()

	c.mu.Lock()
	nc := c.conn
	c.mu.Unlock()
	if nc == nil || !nc.IsConnected() {
		return false, ErrNotConnected
	}
	if !c.members.Acquire(roomID) {
		return true, nil
	}

	msgSub, err := nc.Subscribe(RoomSubject(roomID), func(msg *nats.Msg) {
		c.handleMessage(msg.Data)
	})
	if err != nil {
		c.members.Release(roomID)
		return false, fmt.Errorf("nats subscribe %s: %w", RoomSubject(roomID), err)
	}
	typingSub, err := nc.Subscribe(TypingSubject(roomID), func(msg *nats.Msg) {
		c.handleTyping(roomID, msg.Data)
	})
	if err != nil {
		_ = msgSub.Unsubscribe()
		c.members.Release(roomID)
		return false, fmt.Errorf("nats subscribe %s: %w", TypingSubject(roomID), err)
	}

	c.mu.Lock()
	c.subs[roomID] = []*nats.Subscription{msgSub, typingSub}
	c.mu.Unlock()

	flushCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		timeout := c.config.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := nc.FlushWithContext(flushCtx); err != nil {
		_ = c.unsubscribe(roomID)
		c.members.Release(roomID)
		return false, fmt.Errorf("nats flush: %w", err)
	}

	metrics.JoinedRooms.Set(float64(c.members.Len()))
	return true, nil
}

// LeaveChannel drops a reference to roomID and unsubscribes on the last one.
func (c *Channel) LeaveChannel(_ context.Context, roomID string) error {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()

	last, held := c.members.Release(roomID)
	if !held || !last {
		return nil
	}
	metrics.JoinedRooms.Set(float64(c.members.Len()))
	return c.unsubscribe(roomID)
}

// SendTyping publishes the viewer's typing state on the room's typing subject.
func (c *Channel) SendTyping(_ context.Context, roomID string, isTyping bool) error {
	c.mu.Lock()
	nc := c.conn
	c.mu.Unlock()
	if nc == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(protocol.UserTypingMsg{
		Type:     protocol.TypeUserTyping,
		RoomID:   roomID,
		UserID:   c.config.UserID,
		IsTyping: isTyping,
	})
	if err != nil {
		return err
	}
	return nc.Publish(TypingSubject(roomID), data)
}

// OnReceiveMessage registers the handler for pushed messages.
func (c *Channel) OnReceiveMessage(handler func(chat.Raw)) {
	c.handlerMu.Lock()
	c.onMessage = handler
	c.handlerMu.Unlock()
}

// OnUserTyping registers the handler for typing indicators.
func (c *Channel) OnUserTyping(handler func(chat.TypingEvent)) {
	c.handlerMu.Lock()
	c.onTyping = handler
	c.handlerMu.Unlock()
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for roomID, subs := range c.subs {
		for _, sub := range subs {
			if err := sub.Drain(); err != nil {
				c.logger.Warnw("drain failed", "room_id", roomID, "subject", sub.Subject, "error", err)
			}
		}
	}
	c.subs = make(map[string][]*nats.Subscription)
	c.members.Reset()
	metrics.JoinedRooms.Set(0)

	if c.conn == nil {
		return nil
	}
	err := c.conn.Drain()
	c.conn = nil
	if err != nil {
		return fmt.Errorf("nats connection drain: %w", err)
	}
	return nil
}

// handleMessage accepts either a bare message record or a receive_message
// frame wrapping one.
func (c *Channel) handleMessage(data []byte) {
	metrics.LiveEvents.WithLabelValues(protocol.TypeReceiveMessage).Inc()

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw chat.Raw
	if err := dec.Decode(&raw); err != nil {
		c.logger.Warnw("dropping message", "error", err)
		return
	}
	if raw["type"] == protocol.TypeReceiveMessage {
		inner, ok := raw["message"].(map[string]any)
		if !ok {
			c.logger.Warnw("dropping message frame without body")
			return
		}
		raw = inner
	}

	c.handlerMu.RLock()
	h := c.onMessage
	c.handlerMu.RUnlock()
	if h != nil {
		h(raw)
	}
}

func (c *Channel) handleTyping(roomID string, data []byte) {
	metrics.LiveEvents.WithLabelValues(protocol.TypeUserTyping).Inc()

	var m protocol.UserTypingMsg
	if err := json.Unmarshal(data, &m); err != nil {
		c.logger.Warnw("dropping typing indicator", "error", err)
		return
	}
	if m.RoomID == "" {
		m.RoomID = roomID
	}

	c.handlerMu.RLock()
	h := c.onTyping
	c.handlerMu.RUnlock()
	if h != nil {
		h(chat.TypingEvent{RoomID: m.RoomID, UserID: m.UserID, IsTyping: m.IsTyping})
	}
}

// unsubscribe removes and unsubscribes the subscriptions of roomID.
func (c *Channel) unsubscribe(roomID string) error {
	c.mu.Lock()
	subs, ok := c.subs[roomID]
	delete(c.subs, roomID)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("nats unsubscribe %s: %w", sub.Subject, err))
		}
	}
	return errors.Join(errs...)
}
