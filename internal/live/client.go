// Package live implements the real-time channel over WebSocket. A Client
// keeps one connection to the chat service, joins and leaves rooms on it with
// reference counting, and dispatches pushed messages and typing indicators to
// registered handlers.
package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/marketdesk/chat-session/internal/chat"
	"github.com/marketdesk/chat-session/internal/metrics"
	"github.com/marketdesk/chat-session/internal/protocol"
)

var (
	ErrNotConnected = errors.New("live: not connected")
	ErrDisconnected = errors.New("live: connection lost")
	ErrJoinTimeout  = errors.New("live: timed out waiting for room_joined")
)

// Config holds connection tuning parameters.
type Config struct {
	URL          string        // ws://host/hubs/chat
	DialTimeout  time.Duration // handshake timeout
	JoinTimeout  time.Duration // max wait for a room_joined ack
	PingInterval time.Duration // client heartbeat, 0 disables it
	WriteTimeout time.Duration // per-frame write deadline, 0 disables it
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:          "ws://localhost:8080/ws",
		DialTimeout:  10 * time.Second,
		JoinTimeout:  5 * time.Second,
		PingInterval: 25 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Client is a WebSocket live channel. It is safe for concurrent use.
type Client struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu   sync.Mutex // guards conn and done
	conn net.Conn
	done chan struct{}

	writeMu sync.Mutex // serializes outbound frames

	members *Membership

	pendingMu sync.Mutex
	pending   map[string]*joinWait // room id -> join awaiting its ack

	handlerMu sync.RWMutex
	onMessage func(chat.Raw)
	onTyping  func(chat.TypingEvent)
}

// New creates a Client. No connection is made until Initialize.
func New(cfg Config, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		members: NewMembership(),
		pending: make(map[string]*joinWait),
	}
}

// Initialize opens the connection, authenticating with token. It is
// idempotent: an already open connection is reused and reported as success.
func (c *Client) Initialize(ctx context.Context, token string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return true, nil
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := ws.Dialer{
		Header:  ws.HandshakeHeaderHTTP(header),
		Timeout: c.cfg.DialTimeout,
	}

	conn, br, _, err := dialer.Dial(ctx, c.cfg.URL)
	if err != nil {
		metrics.CollaboratorFailures.WithLabelValues("live_connect").Inc()
		return false, fmt.Errorf("live: dial %s: %w", c.cfg.URL, err)
	}

	// The handshake may have buffered the first server frames.
	var src io.Reader = conn
	if br != nil {
		src = io.MultiReader(br, conn)
	}

	done := make(chan struct{})
	c.conn = conn
	c.done = done
	metrics.LiveConnected.Set(1)

	go c.readLoop(conn, src)
	if c.cfg.PingInterval > 0 {
		go c.heartbeat(conn, done)
	}

	c.logger.Infow("connected", "url", c.cfg.URL)
	return true, nil
}

// IsConnected reports whether the connection is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// joinWait is a join_room frame in flight. Every caller joining the room
// while it is pending waits on done.
type joinWait struct {
	done chan struct{}
	err  error
	undo bool // the server may have joined; the last reference sends leave_room
}

// finish must be called with pendingMu held, after removing w from pending.
func (w *joinWait) finish(err error, undo bool) {
	w.err = err
	w.undo = undo
	close(w.done)
}

// JoinChannel subscribes the connection to roomID and waits for the server to
// acknowledge it. Joining a room that is already joined only adds a
// reference; joining one whose join is still in flight waits for that join
// and shares its outcome.
func (c *Client) JoinChannel(ctx context.Context, roomID string) (bool, error) {
	if !c.IsConnected() {
		return false, ErrNotConnected
	}

	c.pendingMu.Lock()
	first := c.members.Acquire(roomID)
	w := c.pending[roomID]
	if first {
		w = &joinWait{done: make(chan struct{})}
		c.pending[roomID] = w
	}
	c.pendingMu.Unlock()

	if !first {
		if w == nil {
			return true, nil
		}
		return c.awaitJoin(ctx, roomID, w)
	}

	if err := c.send(protocol.TypeJoinRoom, protocol.JoinRoomMsg{RoomID: roomID}); err != nil {
		err = fmt.Errorf("live: join %s: %w", roomID, err)
		c.settle(roomID, w, err, false)
		c.release(roomID, false)
		return false, err
	}

	timer := time.NewTimer(c.cfg.JoinTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-w.done:
		err = w.err
	case <-timer.C:
		err = c.settle(roomID, w, ErrJoinTimeout, true)
	case <-ctx.Done():
		err = c.settle(roomID, w, ctx.Err(), true)
	}
	if err != nil {
		c.release(roomID, w.undo)
		return false, err
	}
	metrics.JoinedRooms.Set(float64(c.members.Len()))
	c.logger.Debugw("room joined", "room_id", roomID)
	return true, nil
}

func (c *Client) awaitJoin(ctx context.Context, roomID string, w *joinWait) (bool, error) {
	select {
	case <-w.done:
		if w.err != nil {
			c.release(roomID, w.undo)
			return false, w.err
		}
		return true, nil
	case <-ctx.Done():
		c.release(roomID, true)
		return false, ctx.Err()
	}
}

// LeaveChannel drops one reference to roomID and unsubscribes when it was the
// last one. Leaving a room that is not joined is a no-op.
func (c *Client) LeaveChannel(_ context.Context, roomID string) error {
	last, held := c.members.Release(roomID)
	if !held || !last {
		return nil
	}
	metrics.JoinedRooms.Set(float64(c.members.Len()))

	if !c.IsConnected() {
		return nil
	}
	if err := c.send(protocol.TypeLeaveRoom, protocol.LeaveRoomMsg{RoomID: roomID}); err != nil {
		return fmt.Errorf("live: leave %s: %w", roomID, err)
	}
	c.logger.Debugw("room left", "room_id", roomID)
	return nil
}

// SendTyping announces the viewer's typing state in roomID.
func (c *Client) SendTyping(_ context.Context, roomID string, isTyping bool) error {
	return c.send(protocol.TypeTyping, protocol.TypingMsg{RoomID: roomID, IsTyping: isTyping})
}

// OnReceiveMessage registers the handler for pushed messages, replacing any
// previous one. Handlers run on the read goroutine and must not block.
func (c *Client) OnReceiveMessage(handler func(chat.Raw)) {
	c.handlerMu.Lock()
	c.onMessage = handler
	c.handlerMu.Unlock()
}

// OnUserTyping registers the handler for typing indicators.
func (c *Client) OnUserTyping(handler func(chat.TypingEvent)) {
	c.handlerMu.Lock()
	c.onTyping = handler
	c.handlerMu.Unlock()
}

// Membership exposes the room reference counts.
func (c *Client) Membership() *Membership {
	return c.members
}

// Close sends a close frame and tears the connection down. It is safe to
// call multiple times, and Initialize may be called again afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	if err := c.writeFrame(conn, ws.OpClose, body); err != nil {
		c.logger.Debugw("close frame not sent", "error", err)
	}
	c.drop(conn, nil)
	return nil
}

// readLoop reads frames until the connection fails. Control frames are
// handled here so that pongs share the write mutex with application frames.
func (c *Client) readLoop(conn net.Conn, src io.Reader) {
	for {
		header, reader, err := wsutil.NextReader(src, ws.StateClientSide)
		if err != nil {
			c.drop(conn, err)
			return
		}

		if header.OpCode.IsControl() {
			payload, err := io.ReadAll(reader)
			if err != nil {
				c.drop(conn, err)
				return
			}
			switch header.OpCode {
			case ws.OpClose:
				c.drop(conn, nil)
				return
			case ws.OpPing:
				if err := c.writeFrame(conn, ws.OpPong, payload); err != nil {
					c.drop(conn, err)
					return
				}
			}
			continue
		}

		data, err := io.ReadAll(reader)
		if err != nil {
			c.drop(conn, err)
			return
		}
		if len(data) == 0 {
			continue
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	msgType, msg, err := protocol.ParseServerMessage(data)
	if err != nil {
		c.logger.Warnw("dropping frame", "type", msgType, "error", err)
		return
	}
	metrics.LiveEvents.WithLabelValues(msgType).Inc()

	switch m := msg.(type) {
	case protocol.ReceiveMessageMsg:
		c.handlerMu.RLock()
		h := c.onMessage
		c.handlerMu.RUnlock()
		if h != nil {
			h(m.Message)
		}
	case protocol.UserTypingMsg:
		c.handlerMu.RLock()
		h := c.onTyping
		c.handlerMu.RUnlock()
		if h != nil {
			h(chat.TypingEvent{RoomID: m.RoomID, UserID: m.UserID, IsTyping: m.IsTyping})
		}
	case protocol.RoomJoinedMsg:
		c.resolve(m.RoomID, nil)
	case protocol.ErrorMsg:
		if m.RoomID != "" && c.resolve(m.RoomID, m) {
			return
		}
		c.logger.Warnw("server error", "code", m.Code, "message", m.Message, "room_id", m.RoomID)
	case protocol.RoomLeftMsg, protocol.PongMsg:
	}
}

// heartbeat sends an application-level ping every PingInterval until done
// is closed. A failed ping tears the connection down.
func (c *Client) heartbeat(conn net.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	ping, _ := protocol.NewClientMessage(protocol.TypePing, protocol.PingMsg{})
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.writeFrame(conn, ws.OpText, ping); err != nil {
				c.logger.Warnw("heartbeat ping failed", "error", err)
				c.drop(conn, err)
				return
			}
		}
	}
}

func (c *Client) send(msgType string, payload any) error {
	data, err := protocol.NewClientMessage(msgType, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.writeFrame(conn, ws.OpText, data)
}

func (c *Client) writeFrame(conn net.Conn, op ws.OpCode, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		defer conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteClientMessage(conn, op, data)
}

// resolve delivers a join outcome to the callers waiting on roomID, if any.
func (c *Client) resolve(roomID string, err error) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	w, ok := c.pending[roomID]
	if ok {
		delete(c.pending, roomID)
		w.finish(err, false)
	}
	return ok
}

// settle ends w with err unless the server answered first, and returns the
// outcome the waiters see.
func (c *Client) settle(roomID string, w *joinWait, err error, undo bool) error {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if c.pending[roomID] == w {
		delete(c.pending, roomID)
		w.finish(err, undo)
	}
	return w.err
}

// release drops one reference to roomID after a failed join. The caller
// holding the last reference undoes a join the server may still process.
func (c *Client) release(roomID string, undo bool) {
	last, _ := c.members.Release(roomID)
	if last && undo {
		_ = c.send(protocol.TypeLeaveRoom, protocol.LeaveRoomMsg{RoomID: roomID})
	}
}

// drop closes conn if it is still the current connection. Memberships and
// pending joins die with it.
func (c *Client) drop(conn net.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	close(c.done)
	c.mu.Unlock()

	_ = conn.Close()
	c.members.Reset()
	metrics.JoinedRooms.Set(0)
	metrics.LiveConnected.Set(0)

	c.pendingMu.Lock()
	for roomID, w := range c.pending {
		delete(c.pending, roomID)
		w.finish(ErrDisconnected, false)
	}
	c.pendingMu.Unlock()

	if cause != nil {
		metrics.CollaboratorFailures.WithLabelValues("live_read").Inc()
		c.logger.Warnw("connection lost", "error", cause)
		return
	}
	c.logger.Infow("connection closed")
}
