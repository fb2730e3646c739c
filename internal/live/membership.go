package live

import (
	"sort"
	"sync"
)

// Membership reference-counts room joins on one live connection. Only the
// first acquire of a room and the last release need to reach the server.
type Membership struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMembership creates an empty Membership.
func NewMembership() *Membership {
	return &Membership{counts: make(map[string]int)}
}

// Acquire adds a reference to roomID and reports whether it was the first.
func (m *Membership) Acquire(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[roomID]++
	return m.counts[roomID] == 1
}

// Release drops a reference to roomID. last reports whether it was the final
// reference; held is false when the room was not joined at all.
func (m *Membership) Release(roomID string) (last, held bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.counts[roomID]
	if !ok {
		return false, false
	}
	if n <= 1 {
		delete(m.counts, roomID)
		return true, true
	}
	m.counts[roomID] = n - 1
	return false, true
}

// Count returns the number of references held on roomID.
func (m *Membership) Count(roomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[roomID]
}

// Rooms returns the joined room ids in sorted order.
func (m *Membership) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.counts))
	for id := range m.counts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of distinct joined rooms.
func (m *Membership) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counts)
}

// Reset forgets every membership. It is used when the connection drops and
// the server has forgotten them too.
func (m *Membership) Reset() {
	m.mu.Lock()
	m.counts = make(map[string]int)
	m.mu.Unlock()
}
