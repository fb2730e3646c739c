package main

import (
	"bufio"
	"fmt"
	"sync"

	"github.com/marketdesk/chat-session/internal/chat"
)

// printer renders session updates to the terminal.
type printer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (p *printer) timeline(msgs []chat.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w, "----")
	for _, m := range msgs {
		who := m.SenderName
		if m.IsMine {
			who = "me"
		} else if who == "" {
			who = m.SenderUserID
		}
		mark := ""
		if m.IsTemporary() {
			mark = " (sending)"
		}
		fmt.Fprintf(p.w, "[%s] %s: %s%s\n", m.SentAt.Local().Format("15:04"), chat.DisplayText(who), chat.DisplayText(m.Content), mark)
	}
	p.w.Flush()
}

func (p *printer) rooms(rooms []chat.ChatRoom) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(rooms) == 0 {
		fmt.Fprintln(p.w, "no conversations yet")
	}
	for _, r := range rooms {
		preview := ""
		if r.LastMessage != nil {
			preview = chat.DisplayText(r.LastMessage.Content)
		}
		unread := ""
		if r.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d)", r.UnreadCount)
		}
		fmt.Fprintf(p.w, "%s  %s%s  %s\n", r.ID, chat.DisplayText(r.CounterpartyName), unread, preview)
	}
	p.w.Flush()
}

func (p *printer) typing(on bool) {
	if on {
		p.notice("typing...")
	}
}

func (p *printer) notice(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "* "+format+"\n", args...)
	p.w.Flush()
}
