// Package directory keeps the viewer's ranked list of chat rooms. Rooms are
// ordered most recent first and patched in place when a live message for a
// room other than the selected one arrives.
package directory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/marketdesk/chat-session/internal/chat"
	"github.com/marketdesk/chat-session/internal/metrics"
)

// Lister fetches one page of rooms from the backend.
type Lister interface {
	ListRooms(ctx context.Context, role chat.Role, page, pageSize int, filter string) ([]chat.Raw, error)
}

// Query is the parameter set of a room load, remembered for Refresh.
type Query struct {
	Page     int
	PageSize int
	Filter   string
}

// Option configures a Directory.
type Option func(*Directory)

// WithAutoSelect registers fn to be called with the most recent room after
// the first successful non-empty load. fn receives the load's context.
func WithAutoSelect(fn func(context.Context, chat.ChatRoom)) Option {
	return func(d *Directory) { d.autoSelect = fn }
}

// WithObserver registers fn to be called with a copy of the room list after
// every change.
func WithObserver(fn func([]chat.ChatRoom)) Option {
	return func(d *Directory) { d.observer = fn }
}

type participant struct {
	name   string
	avatar string
}

// Directory is goroutine-safe.
type Directory struct {
	lister Lister
	role   chat.Role
	logger *zap.SugaredLogger

	autoSelect func(context.Context, chat.ChatRoom)
	observer   func([]chat.ChatRoom)

	mu           sync.RWMutex
	rooms        []chat.ChatRoom
	query        Query
	loadedOnce   bool
	participants map[string]participant // enrichment results by room id
}

// New creates an empty Directory for a viewer of the given role.
func New(lister Lister, role chat.Role, logger *zap.SugaredLogger, opts ...Option) *Directory {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	d := &Directory{
		lister:       lister,
		role:         role,
		logger:       logger,
		rooms:        []chat.ChatRoom{},
		query:        Query{Page: 1, PageSize: 20},
		participants: make(map[string]participant),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// LoadRooms fetches a page of rooms, normalizes and ranks them, and stores
// them as the current list. On failure it logs, leaves the stored list as it
// was and returns an empty list.
func (d *Directory) LoadRooms(ctx context.Context, q Query) []chat.ChatRoom {
	d.mu.Lock()
	d.query = q
	d.mu.Unlock()

	raws, err := d.lister.ListRooms(ctx, d.role, q.Page, q.PageSize, q.Filter)
	if err != nil {
		metrics.CollaboratorFailures.WithLabelValues("list_rooms").Inc()
		d.logger.Warnw("load rooms failed", "page", q.Page, "filter", q.Filter, "error", err)
		return []chat.ChatRoom{}
	}

	rooms := make([]chat.ChatRoom, 0, len(raws))
	for _, raw := range raws {
		r := chat.NormalizeRoom(raw, d.role)
		if r.ID == "" {
			d.logger.Debugw("skipping room without id")
			continue
		}
		rooms = append(rooms, r)
	}
	chat.SortRooms(rooms)

	d.mu.Lock()
	for i := range rooms {
		d.applyParticipantLocked(&rooms[i])
	}
	d.rooms = rooms
	first := !d.loadedOnce && len(rooms) > 0
	if first {
		d.loadedOnce = true
	}
	out := cloneRooms(rooms)
	d.mu.Unlock()

	d.notify(out)
	if first && d.autoSelect != nil {
		d.autoSelect(ctx, out[0])
	}
	return out
}

// Refresh reloads the list with the parameters of the last load.
func (d *Directory) Refresh(ctx context.Context) []chat.ChatRoom {
	d.mu.RLock()
	q := d.query
	d.mu.RUnlock()
	return d.LoadRooms(ctx, q)
}

// Rooms returns a copy of the current list in rank order.
func (d *Directory) Rooms() []chat.ChatRoom {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return cloneRooms(d.rooms)
}

// Room returns the room with the given id.
func (d *Directory) Room(id string) (chat.ChatRoom, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.rooms {
		if r.ID == id {
			return cloneRoom(r), true
		}
	}
	return chat.ChatRoom{}, false
}

// UpdatePreview records m as the last message of its room and re-ranks the
// list. It reports whether the room is known.
func (d *Directory) UpdatePreview(m chat.ChatMessage) bool {
	d.mu.Lock()
	found := false
	for i := range d.rooms {
		if d.rooms[i].ID == m.ChatRoomID {
			preview := m
			d.rooms[i].LastMessage = &preview
			found = true
			break
		}
	}
	if !found {
		d.mu.Unlock()
		return false
	}
	chat.SortRooms(d.rooms)
	out := cloneRooms(d.rooms)
	d.mu.Unlock()

	d.notify(out)
	return true
}

// ApplyParticipant records enrichment results for roomID. Empty values leave
// the current ones alone. The values are kept across reloads for as long as
// the backend omits them.
func (d *Directory) ApplyParticipant(roomID, name, avatarURL string) {
	d.mu.Lock()
	p := d.participants[roomID]
	if name != "" {
		p.name = name
	}
	if avatarURL != "" {
		p.avatar = avatarURL
	}
	d.participants[roomID] = p

	changed := false
	for i := range d.rooms {
		if d.rooms[i].ID == roomID {
			changed = d.applyParticipantLocked(&d.rooms[i])
			break
		}
	}
	out := cloneRooms(d.rooms)
	d.mu.Unlock()

	if changed {
		d.notify(out)
	}
}

func (d *Directory) applyParticipantLocked(r *chat.ChatRoom) bool {
	p, ok := d.participants[r.ID]
	if !ok {
		return false
	}
	changed := false
	if r.CounterpartyName == "" && p.name != "" {
		r.CounterpartyName = p.name
		changed = true
	}
	if r.CounterpartyAvatarURL == "" && p.avatar != "" {
		r.CounterpartyAvatarURL = p.avatar
		changed = true
	}
	return changed
}

func (d *Directory) notify(rooms []chat.ChatRoom) {
	if d.observer != nil {
		d.observer(rooms)
	}
}

func cloneRooms(rooms []chat.ChatRoom) []chat.ChatRoom {
	out := make([]chat.ChatRoom, len(rooms))
	for i, r := range rooms {
		out[i] = cloneRoom(r)
	}
	return out
}

func cloneRoom(r chat.ChatRoom) chat.ChatRoom {
	if r.LastMessage != nil {
		m := *r.LastMessage
		r.LastMessage = &m
	}
	return r
}
