// Package session drives the chat screen: it owns the selected room, keeps
// exactly that room joined on the live channel, loads its history and folds
// pushed messages into one timeline. Pushes for other rooms only move those
// rooms up the directory.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/marketdesk/chat-session/internal/chat"
	"github.com/marketdesk/chat-session/internal/directory"
	"github.com/marketdesk/chat-session/internal/enrich"
	"github.com/marketdesk/chat-session/internal/metrics"
)

// State is the lifecycle state of the selected room.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateJoined     State = "joined"
	StateLeaving    State = "leaving"
)

var (
	// ErrSuperseded is returned by SelectRoom when a newer selection began
	// before this one completed.
	ErrSuperseded = errors.New("session: room selection superseded")

	// ErrRateLimited is returned by Send when the local send limit is hit.
	ErrRateLimited = errors.New("session: send rate limited")

	// ErrNoRoom is returned by Send when no room is selected.
	ErrNoRoom = errors.New("session: no room selected")
)

// API is the REST backend as used by the controller.
type API interface {
	directory.Lister
	JoinRoom(ctx context.Context, roomID string) error
	GetMessages(ctx context.Context, roomID string, page, pageSize int) ([]chat.Raw, error)
	SendMessage(ctx context.Context, roomID, content string, messageType chat.MessageType) (chat.Raw, error)
	MarkRead(ctx context.Context, roomID string) error
}

// LiveChannel is the push transport.
type LiveChannel interface {
	Initialize(ctx context.Context, token string) (bool, error)
	IsConnected() bool
	JoinChannel(ctx context.Context, roomID string) (bool, error)
	LeaveChannel(ctx context.Context, roomID string) error
	OnReceiveMessage(handler func(chat.Raw))
	OnUserTyping(handler func(chat.TypingEvent))
}

// typingSender is implemented by live channels that can publish the viewer's
// own typing state.
type typingSender interface {
	SendTyping(ctx context.Context, roomID string, isTyping bool) error
}

// Credentials yields the bearer token and the viewer's user id.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	CurrentUserID(ctx context.Context) (string, error)
}

// Resolver fills in the counterparty's display metadata.
type Resolver interface {
	Resolve(ctx context.Context, room chat.ChatRoom) enrich.Participant
}

// Config holds controller settings.
type Config struct {
	Role            chat.Role
	RoomPageSize    int
	HistoryPageSize int
}

// Option configures a Controller.
type Option func(*Controller)

// WithOptimisticSend renders sent messages immediately under a temporary id.
// The pushed copy replaces it when it arrives.
func WithOptimisticSend() Option {
	return func(c *Controller) { c.optimistic = true }
}

// WithSendLimit caps sends at r per second with the given burst.
func WithSendLimit(r rate.Limit, burst int) Option {
	return func(c *Controller) { c.limiter = rate.NewLimiter(r, burst) }
}

// WithTimelineObserver registers fn to receive the visible timeline after
// every change.
func WithTimelineObserver(fn func([]chat.ChatMessage)) Option {
	return func(c *Controller) { c.onTimeline = fn }
}

// WithRoomsObserver registers fn to receive the room list after every change.
func WithRoomsObserver(fn func([]chat.ChatRoom)) Option {
	return func(c *Controller) { c.onRooms = fn }
}

// WithTypingObserver registers fn to receive the counterparty's typing state
// in the selected room.
func WithTypingObserver(fn func(bool)) Option {
	return func(c *Controller) { c.onTyping = fn }
}

// WithResolver sets the participant resolver.
func WithResolver(r Resolver) Option {
	return func(c *Controller) { c.resolver = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller is goroutine-safe. Collaborator calls are never made while
// holding its lock, since live handlers call back into it.
type Controller struct {
	cfg      Config
	api      API
	live     LiveChannel
	creds    Credentials
	resolver Resolver
	dir      *directory.Directory
	timeline *chat.Timeline
	logger   *zap.SugaredLogger
	now      func() time.Time

	optimistic bool
	limiter    *rate.Limiter

	onTimeline func([]chat.ChatMessage)
	onRooms    func([]chat.ChatRoom)
	onTyping   func(bool)

	mu          sync.Mutex
	state       State
	userID      string
	selected    string
	joined      string // room held on the live channel
	generation  uint64
	cancel      context.CancelFunc
	participant enrich.Participant
	typing      bool
}

// New creates a Controller.
func New(cfg Config, api API, live LiveChannel, creds Credentials, opts ...Option) *Controller {
	if cfg.Role == "" {
		cfg.Role = chat.RoleCustomer
	}
	if cfg.RoomPageSize <= 0 {
		cfg.RoomPageSize = 20
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}

	c := &Controller{
		cfg:      cfg,
		api:      api,
		live:     live,
		creds:    creds,
		timeline: chat.NewTimeline(),
		logger:   zap.NewNop().Sugar(),
		now:      time.Now,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dir = directory.New(api, cfg.Role, c.logger.Named("directory"),
		directory.WithAutoSelect(c.autoSelect),
		directory.WithObserver(c.emitRooms),
	)
	return c
}

// Open reads the viewer's identity, attaches the live handlers and loads the
// room directory. The most recent room is selected when none is.
func (c *Controller) Open(ctx context.Context) error {
	userID, err := c.creds.CurrentUserID(ctx)
	if err != nil {
		c.logger.Warnw("current user unknown, no message will be marked as own", "error", err)
	}
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()

	c.live.OnReceiveMessage(c.handleIncoming)
	c.live.OnUserTyping(c.handleTyping)

	c.dir.LoadRooms(ctx, directory.Query{Page: 1, PageSize: c.cfg.RoomPageSize})
	return ctx.Err()
}

// LoadRooms reloads the directory with a new query.
func (c *Controller) LoadRooms(ctx context.Context, q directory.Query) []chat.ChatRoom {
	if q.PageSize <= 0 {
		q.PageSize = c.cfg.RoomPageSize
	}
	return c.dir.LoadRooms(ctx, q)
}

func (c *Controller) autoSelect(ctx context.Context, room chat.ChatRoom) {
	c.mu.Lock()
	already := c.selected != ""
	c.mu.Unlock()
	if already {
		return
	}
	if err := c.SelectRoom(ctx, room.ID); err != nil && !errors.Is(err, ErrSuperseded) {
		c.logger.Warnw("auto-select failed", "room_id", room.ID, "error", err)
	}
}

// SelectRoom makes roomID the visible room. The previously joined room is
// left first. Connecting, joining the live channel and joining over REST are
// each allowed to fail; the room is then shown without pushes. If another
// selection starts before this one completes, this one stops, touches no
// shared state and returns ErrSuperseded.
func (c *Controller) SelectRoom(ctx context.Context, roomID string) error {
	metrics.RoomSwitches.Inc()

	c.mu.Lock()
	c.generation++
	gen := c.generation
	if c.cancel != nil {
		c.cancel()
	}
	selCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	prev := c.joined
	c.joined = ""
	c.selected = roomID
	c.participant = enrich.Participant{}
	c.typing = false
	if prev != "" {
		c.state = StateLeaving
	} else {
		c.state = StateConnecting
	}
	c.timeline.Reset()
	c.mu.Unlock()
	c.emitTimeline()

	// Leaving must complete even if this selection is cancelled.
	detached := context.WithoutCancel(ctx)
	if prev != "" {
		c.leave(detached, prev)
	}
	if !c.setState(gen, StateConnecting) {
		return c.superseded(roomID)
	}

	token, err := c.creds.Token(selCtx)
	if err != nil {
		c.stepFailed(gen, "token", roomID, err)
	}
	if _, err := c.live.Initialize(selCtx, token); err != nil {
		c.stepFailed(gen, "live_initialize", roomID, err)
	}
	if !c.current(gen) {
		return c.superseded(roomID)
	}

	if c.live.IsConnected() {
		ok, err := c.live.JoinChannel(selCtx, roomID)
		switch {
		case err != nil:
			c.stepFailed(gen, "live_join", roomID, err)
		case !ok:
			c.stepFailed(gen, "live_join", roomID, errors.New("join refused"))
		default:
			c.mu.Lock()
			stale := c.generation != gen
			if !stale {
				c.joined = roomID
			}
			c.mu.Unlock()
			if stale {
				// The join landed after a newer selection began.
				c.leave(detached, roomID)
				return c.superseded(roomID)
			}
		}
	}
	if !c.current(gen) {
		return c.superseded(roomID)
	}

	if err := c.api.JoinRoom(selCtx, roomID); err != nil {
		c.stepFailed(gen, "join_room", roomID, err)
	}
	if !c.setState(gen, StateJoined) {
		return c.superseded(roomID)
	}

	if err := c.loadHistory(selCtx, gen, roomID); err != nil {
		return err
	}

	if err := c.api.MarkRead(selCtx, roomID); err != nil {
		c.stepFailed(gen, "mark_read", roomID, err)
	}

	c.enrich(selCtx, gen, roomID)
	if !c.current(gen) {
		return c.superseded(roomID)
	}

	c.dir.Refresh(selCtx)
	c.logger.Infow("room selected", "room_id", roomID)
	return nil
}

// loadHistory fetches the first history page and installs it as the
// timeline. Messages pushed while the page was loading are kept.
func (c *Controller) loadHistory(ctx context.Context, gen uint64, roomID string) error {
	start := time.Now()
	raws, err := c.api.GetMessages(ctx, roomID, 1, c.cfg.HistoryPageSize)
	metrics.HistoryLoadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.stepFailed(gen, "get_messages", roomID, err)
		if !c.current(gen) {
			return c.superseded(roomID)
		}
		return nil
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return c.superseded(roomID)
	}
	opts := chat.NormalizeOptions{ViewerID: c.userID, FallbackRoomID: roomID, Now: c.now()}
	msgs := make([]chat.ChatMessage, 0, len(raws))
	for _, raw := range raws {
		msgs = append(msgs, chat.NormalizeMessage(raw, opts))
	}
	pushed := c.timeline.Snapshot()
	c.timeline.Replace(msgs)
	for _, m := range pushed {
		if !m.IsTemporary() {
			c.timeline.Apply(m)
		}
	}
	c.mu.Unlock()

	c.emitTimeline()
	return nil
}

func (c *Controller) enrich(ctx context.Context, gen uint64, roomID string) {
	room, ok := c.dir.Room(roomID)
	if !ok {
		return
	}
	p := enrich.Participant{Name: room.CounterpartyName, AvatarURL: room.CounterpartyAvatarURL}
	if c.resolver != nil {
		p = c.resolver.Resolve(ctx, room)
		c.dir.ApplyParticipant(roomID, p.Name, p.AvatarURL)
	}

	c.mu.Lock()
	if c.generation == gen {
		c.participant = p
	}
	c.mu.Unlock()
}

// Send posts content to the selected room. Blank content is ignored without
// any network call. Failures are logged and returned; they are not retried.
func (c *Controller) Send(ctx context.Context, content string) error {
	text, err := chat.ValidateContent(content)
	if errors.Is(err, chat.ErrEmptyContent) {
		return nil
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	roomID, userID := c.selected, c.userID
	c.mu.Unlock()
	if roomID == "" {
		return ErrNoRoom
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return ErrRateLimited
	}

	var tempID string
	if c.optimistic {
		m := chat.NewOptimisticMessage(roomID, userID, text, c.now())
		if c.applyIfSelected(roomID, m) {
			tempID = m.ID
		}
	}

	// The server may have stored the message even when the call failed, so the
	// directory is refreshed either way.
	_, err = c.api.SendMessage(ctx, roomID, text, chat.MessageTypeText)
	if err != nil {
		metrics.CollaboratorFailures.WithLabelValues("send_message").Inc()
		c.logger.Errorw("send failed", "room_id", roomID, "error", err)
		if tempID != "" && c.timeline.Remove(tempID) {
			c.emitTimeline()
		}
	} else {
		metrics.MessagesSent.Inc()
	}

	c.dir.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SetTyping announces the viewer's typing state in the selected room when the
// live channel supports it.
func (c *Controller) SetTyping(ctx context.Context, isTyping bool) error {
	ts, ok := c.live.(typingSender)
	if !ok {
		return nil
	}
	c.mu.Lock()
	roomID := c.joined
	c.mu.Unlock()
	if roomID == "" {
		return nil
	}
	return ts.SendTyping(ctx, roomID, isTyping)
}

// handleIncoming folds a pushed message into the timeline when it belongs to
// the selected room and into the directory otherwise.
func (c *Controller) handleIncoming(raw chat.Raw) {
	c.mu.Lock()
	selected := c.selected
	m := chat.NormalizeMessage(raw, chat.NormalizeOptions{
		ViewerID:       c.userID,
		FallbackRoomID: selected,
		Now:            c.now(),
	})
	if selected != "" && m.ChatRoomID == selected {
		outcome := c.timeline.Apply(m)
		c.mu.Unlock()

		metrics.ReconcileOutcomes.WithLabelValues(outcome.String()).Inc()
		if outcome != chat.OutcomeDuplicate {
			c.emitTimeline()
		}
		return
	}
	c.mu.Unlock()

	metrics.ReconcileOutcomes.WithLabelValues("preview").Inc()
	if !c.dir.UpdatePreview(m) {
		c.logger.Debugw("push for unknown room", "room_id", m.ChatRoomID)
	}
}

func (c *Controller) handleTyping(ev chat.TypingEvent) {
	c.mu.Lock()
	if ev.RoomID != c.selected || (c.userID != "" && ev.UserID == c.userID) || c.typing == ev.IsTyping {
		c.mu.Unlock()
		return
	}
	c.typing = ev.IsTyping
	c.mu.Unlock()

	if c.onTyping != nil {
		c.onTyping(ev.IsTyping)
	}
}

// Close leaves the joined room and returns the controller to Idle. Any
// selection in flight is cancelled.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	prev := c.joined
	c.joined = ""
	c.selected = ""
	c.participant = enrich.Participant{}
	c.typing = false
	c.state = StateLeaving
	c.mu.Unlock()

	if prev != "" {
		c.leave(ctx, prev)
	}
	c.timeline.Reset()

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	return nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) SelectedRoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// JoinedRoomID returns the room held on the live channel, if any.
func (c *Controller) JoinedRoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

func (c *Controller) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Controller) Participant() enrich.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participant
}

// Typing reports whether the counterparty is typing in the selected room.
func (c *Controller) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// Messages returns the visible timeline.
func (c *Controller) Messages() []chat.ChatMessage {
	return c.timeline.Snapshot()
}

// Rooms returns the ranked room list.
func (c *Controller) Rooms() []chat.ChatRoom {
	return c.dir.Rooms()
}

func (c *Controller) applyIfSelected(roomID string, m chat.ChatMessage) bool {
	c.mu.Lock()
	if c.selected != roomID {
		c.mu.Unlock()
		return false
	}
	c.timeline.Apply(m)
	c.mu.Unlock()
	c.emitTimeline()
	return true
}

func (c *Controller) leave(ctx context.Context, roomID string) {
	if err := c.live.LeaveChannel(ctx, roomID); err != nil {
		metrics.CollaboratorFailures.WithLabelValues("live_leave").Inc()
		c.logger.Warnw("leave failed", "room_id", roomID, "error", err)
	}
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

// setState moves to s if gen is still the current selection.
func (c *Controller) setState(gen uint64, s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.state = s
	return true
}

// stepFailed records a failed selection step. Failures of a stale selection
// are expected cancellations and are not logged.
func (c *Controller) stepFailed(gen uint64, op, roomID string, err error) {
	if !c.current(gen) {
		return
	}
	metrics.CollaboratorFailures.WithLabelValues(op).Inc()
	c.logger.Warnw("room selection step failed", "op", op, "room_id", roomID, "error", err)
}

func (c *Controller) superseded(roomID string) error {
	metrics.StaleSelections.Inc()
	c.logger.Debugw("selection superseded", "room_id", roomID)
	return ErrSuperseded
}

func (c *Controller) emitTimeline() {
	if c.onTimeline != nil {
		c.onTimeline(c.timeline.Snapshot())
	}
}

func (c *Controller) emitRooms(rooms []chat.ChatRoom) {
	if c.onRooms != nil {
		c.onRooms(rooms)
	}
}
