package chat

import (
	"sort"
	"strings"
	"time"
)

// SoftDedupeWindow is how close two otherwise identical messages from the
// same sender must be to be treated as one logical message.
const SoftDedupeWindow = 15 * time.Second

// Outcome reports which reconciliation rule an incoming message hit.
type Outcome int

const (
	OutcomeAppended Outcome = iota
	OutcomeReplacedOptimistic
	OutcomeDuplicate
	OutcomeReplacedNearDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReplacedOptimistic:
		return "replaced_optimistic"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeReplacedNearDuplicate:
		return "replaced_near_duplicate"
	default:
		return "appended"
	}
}

// Reconcile merges one incoming message into prev and returns the new list.
// The rules are tried in order and the first match wins:
//
//  1. a temporary entry with the same sender and content is upgraded in place;
//  2. an entry with the same id means m is a redelivery and is dropped;
//  3. an entry with the same sender and trimmed content within
//     SoftDedupeWindow is replaced by m;
//  4. otherwise m is appended.
//
// prev is never modified.
func Reconcile(prev []ChatMessage, m ChatMessage) ([]ChatMessage, Outcome) {
	for i, e := range prev {
		if e.IsTemporary() && e.Content == m.Content && e.SenderUserID == m.SenderUserID {
			return replaceAt(prev, i, m), OutcomeReplacedOptimistic
		}
	}

	if !m.SyntheticID {
		for _, e := range prev {
			if e.ID == m.ID {
				return prev, OutcomeDuplicate
			}
		}
	}

	content := strings.TrimSpace(m.Content)
	for i, e := range prev {
		if e.SenderUserID != m.SenderUserID || strings.TrimSpace(e.Content) != content {
			continue
		}
		if absDuration(e.SentAt.Sub(m.SentAt)) <= SoftDedupeWindow {
			return replaceAt(prev, i, m), OutcomeReplacedNearDuplicate
		}
	}

	next := make([]ChatMessage, len(prev), len(prev)+1)
	copy(next, prev)
	return append(next, m), OutcomeAppended
}

// SortMessages orders messages by SentAt ascending, keeping the relative
// order of equal timestamps.
func SortMessages(msgs []ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})
}

// SortRooms orders rooms by recency descending, keeping the relative order
// of ties.
func SortRooms(rooms []ChatRoom) {
	sort.SliceStable(rooms, func(i, j int) bool {
		return rooms[i].Recency().After(rooms[j].Recency())
	})
}

func replaceAt(prev []ChatMessage, i int, m ChatMessage) []ChatMessage {
	next := make([]ChatMessage, len(prev))
	copy(next, prev)
	next[i] = m
	return next
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
