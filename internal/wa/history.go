package wa

import (
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/matheus3301/chatsync/internal/reconcile"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

var bufferMerger = reconcile.Merger[store.Message, string]{
	ID:    func(m store.Message) string { return m.ID },
	Equal: func(l, r store.Message) bool { return l.Equal(r) },
}

// History buffers what the phone pushes so the sync engine can pull it in
// pages. Messages are kept per chat in ascending SentAt order.
type History struct {
	pageSize int

	mu       sync.Mutex
	chats    map[string]store.Chat
	messages map[string][]store.Message
}

// NewHistory creates an empty buffer serving pages of pageSize messages.
func NewHistory(pageSize int) *History {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &History{
		pageSize: pageSize,
		chats:    make(map[string]store.Chat),
		messages: make(map[string][]store.Message),
	}
}

// AddChat records a chat. Title and participants are only replaced when the
// new record carries them.
func (h *History) AddChat(c store.Chat) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.chats[c.ID]; ok {
		if c.Title == "" {
			c.Title = prev.Title
		}
		if len(c.Participants) == 0 {
			c.Participants = prev.Participants
		}
	}
	h.chats[c.ID] = c
}

// AddMessages merges msgs into their chats. A message already buffered is
// replaced by its newer version.
func (h *History) AddMessages(msgs ...store.Message) {
	byChat := make(map[string][]store.Message)
	for _, m := range msgs {
		byChat[m.ChatID] = append(byChat[m.ChatID], m)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for chatID, batch := range byChat {
		local := h.messages[chatID]
		res := bufferMerger.Reconcile(local, batch, reconcile.Options{AllowUpdate: true})
		if res.Empty() {
			continue
		}
		merged := bufferMerger.Apply(local, res)
		sort.SliceStable(merged, func(i, j int) bool { return merged[i].SentAt < merged[j].SentAt })
		h.messages[chatID] = merged
	}
}

// Chats returns every buffered chat ordered by id.
func (h *History) Chats() []store.Chat {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]store.Chat, 0, len(h.chats))
	for _, c := range h.chats {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b store.Chat) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// ChatList returns the buffered chats as a partial list. The buffer only
// holds what was pushed since the daemon started, so chats missing from it
// may still exist.
func (h *History) ChatList() intsync.ChatList {
	return intsync.ChatList{Chats: h.Chats()}
}

// Newest returns the most recent page of a chat.
func (h *History) Newest(chatID string) []store.Message {
	return h.Older(chatID, 0)
}

// Older returns the page preceding the newest offset messages.
func (h *History) Older(chatID string, offset int) []store.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	msgs := h.messages[chatID]
	end := len(msgs) - offset
	if end <= 0 {
		return nil
	}
	start := max(end-h.pageSize, 0)
	return slices.Clone(msgs[start:end])
}

// Len returns the number of buffered messages for a chat.
func (h *History) Len(chatID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages[chatID])
}
