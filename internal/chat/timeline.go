package chat

import "sync"

// Timeline is the ordered message list of the room currently on screen.
// It is goroutine-safe: history loads and live pushes arrive on different
// goroutines.
type Timeline struct {
	mu   sync.RWMutex
	msgs []ChatMessage
}

// NewTimeline creates an empty Timeline.
func NewTimeline() *Timeline {
	return &Timeline{}
}

// Replace installs a freshly loaded history page, sorted by SentAt.
func (t *Timeline) Replace(msgs []ChatMessage) {
	next := make([]ChatMessage, len(msgs))
	copy(next, msgs)
	SortMessages(next)

	t.mu.Lock()
	t.msgs = next
	t.mu.Unlock()
}

// Apply reconciles one incoming message into the timeline.
func (t *Timeline) Apply(m ChatMessage) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	next, outcome := Reconcile(t.msgs, m)
	t.msgs = next
	return outcome
}

// Snapshot returns a copy of the timeline in display order. Returns an empty
// slice if there are no messages.
func (t *Timeline) Snapshot() []ChatMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ChatMessage, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Len returns the number of messages on the timeline.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}

// Reset empties the timeline (called when the selected room changes).
func (t *Timeline) Reset() {
	t.mu.Lock()
	t.msgs = nil
	t.mu.Unlock()
}

// Remove drops the message with the given id and reports whether it was
// present.
func (t *Timeline) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, m := range t.msgs {
		if m.ID != id {
			continue
		}
		next := make([]ChatMessage, 0, len(t.msgs)-1)
		next = append(next, t.msgs[:i]...)
		t.msgs = append(next, t.msgs[i+1:]...)
		return true
	}
	return false
}
