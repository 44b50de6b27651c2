// Package cache holds the derived per-chat caches (participants and last
// message) and keeps them coherent by listening to the change events the
// sync engine publishes. The store stays the system of record: every entry
// can be dropped and rebuilt from it.
package cache

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// Loader reads the data the caches are derived from.
type Loader interface {
	LoadChatParticipants(chatID string) ([]store.User, error)
	LoadLastMessage(chatID string) (*store.Message, error)
}

// Options bounds the caches. A zero limit means unbounded.
type Options struct {
	ParticipantsLimit int
	LastMessageLimit  int
}

// Coherence owns the participant and last-message caches. Each cache has its
// own lock, so reading one never waits on the other or on store writes
// other than its own miss fill.
type Coherence struct {
	loader Loader
	bus    *bus.Bus
	logger *zap.Logger
	unsub  func()

	partMu       sync.Mutex
	participants table[[]store.User]

	lastMu sync.Mutex
	last   table[store.Message]
}

// NewCoherence creates the caches and subscribes them to b.
func NewCoherence(loader Loader, b *bus.Bus, logger *zap.Logger, opts Options) (*Coherence, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	participants, err := newTable[[]store.User](opts.ParticipantsLimit)
	if err != nil {
		return nil, err
	}
	last, err := newTable[store.Message](opts.LastMessageLimit)
	if err != nil {
		return nil, err
	}
	c := &Coherence{
		loader:       loader,
		bus:          b,
		logger:       logger,
		participants: participants,
		last:         last,
	}
	c.unsub = b.Listen(bus.All, c)
	return c, nil
}

// Close detaches the caches from the bus.
func (c *Coherence) Close() {
	c.unsub()
}

// Participants returns the participants of a chat, loading them on a miss.
// The returned slice is a copy. Empty results are not memoized.
func (c *Coherence) Participants(chatID string) ([]store.User, error) {
	c.partMu.Lock()
	defer c.partMu.Unlock()

	if ps, ok := c.participants.get(chatID); ok {
		return slices.Clone(ps), nil
	}
	ps, err := c.loader.LoadChatParticipants(chatID)
	if err != nil {
		return nil, fmt.Errorf("load participants of %q: %w", chatID, err)
	}
	if len(ps) > 0 {
		c.participants.put(chatID, ps)
	}
	return slices.Clone(ps), nil
}

// LastMessage returns the newest message of a chat, or nil when it has none.
func (c *Coherence) LastMessage(chatID string) (*store.Message, error) {
	c.lastMu.Lock()
	defer c.lastMu.Unlock()

	m, ok, err := c.lastLocked(chatID)
	if err != nil || !ok {
		return nil, err
	}
	return copyMessage(m), nil
}

// Len reports the number of cached participant lists and last messages.
func (c *Coherence) Len() (participants, lastMessages int) {
	c.partMu.Lock()
	participants = c.participants.len()
	c.partMu.Unlock()

	c.lastMu.Lock()
	lastMessages = c.last.len()
	c.lastMu.Unlock()
	return participants, lastMessages
}

// lastLocked returns the cached last message, filling it from the store on
// a miss. Caller holds lastMu.
func (c *Coherence) lastLocked(chatID string) (store.Message, bool, error) {
	if m, ok := c.last.get(chatID); ok {
		return m, true, nil
	}
	m, err := c.loader.LoadLastMessage(chatID)
	if err != nil {
		return store.Message{}, false, fmt.Errorf("load last message of %q: %w", chatID, err)
	}
	if m == nil {
		return store.Message{}, false, nil
	}
	c.last.put(chatID, *m)
	return *m, true, nil
}

// OnEvent applies a change event to the caches.
func (c *Coherence) OnEvent(evt bus.Event) error {
	switch evt.Kind {
	case bus.ChatParticipantAdded:
		if u, ok := evt.Payload.(store.User); ok {
			c.addParticipant(evt.SubjectID, u)
		}
	case bus.ChatParticipantRemoved:
		if u, ok := evt.Payload.(store.User); ok {
			c.removeParticipant(evt.SubjectID, u.ID)
		}
	case bus.ChatChanged:
		if chat, ok := evt.Subject.(store.Chat); ok && chat.Participants != nil {
			c.partMu.Lock()
			if _, cached := c.participants.peek(chat.ID); cached {
				c.participants.put(chat.ID, slices.Clone(chat.Participants))
			}
			c.partMu.Unlock()
		}
	case bus.ChatMessageAdded:
		if m, ok := evt.Payload.(store.Message); ok {
			return c.messagesAdded(evt, []store.Message{m})
		}
	case bus.ChatMessageAddedBatch:
		if ms, ok := evt.Payload.([]store.Message); ok {
			return c.messagesAdded(evt, ms)
		}
	case bus.ChatMessageChanged:
		if m, ok := evt.Payload.(store.Message); ok {
			return c.messageChanged(evt, m)
		}
	case bus.ChatMessageRemoved:
		if id, ok := evt.Payload.(string); ok {
			c.lastMu.Lock()
			if m, cached := c.last.peek(evt.SubjectID); cached && m.ID == id {
				c.last.remove(evt.SubjectID)
			}
			c.lastMu.Unlock()
		}
	case bus.UserChanged:
		if u, ok := evt.Subject.(store.User); ok {
			c.userChanged(u)
		}
	}
	return nil
}

func (c *Coherence) addParticipant(chatID string, u store.User) {
	c.partMu.Lock()
	defer c.partMu.Unlock()

	ps, ok := c.participants.peek(chatID)
	if !ok {
		return
	}
	if slices.ContainsFunc(ps, func(p store.User) bool { return p.ID == u.ID }) {
		return
	}
	c.participants.put(chatID, append(slices.Clone(ps), u))
}

func (c *Coherence) removeParticipant(chatID, userID string) {
	c.partMu.Lock()
	defer c.partMu.Unlock()

	ps, ok := c.participants.peek(chatID)
	if !ok {
		return
	}
	c.participants.put(chatID, slices.DeleteFunc(slices.Clone(ps), func(p store.User) bool { return p.ID == userID }))
}

func (c *Coherence) userChanged(u store.User) {
	c.partMu.Lock()
	defer c.partMu.Unlock()

	for _, chatID := range c.participants.keys() {
		ps, ok := c.participants.peek(chatID)
		if !ok {
			continue
		}
		i := slices.IndexFunc(ps, func(p store.User) bool { return p.ID == u.ID })
		if i < 0 {
			continue
		}
		ps = slices.Clone(ps)
		ps[i] = u
		c.participants.put(chatID, ps)
	}
}

// messagesAdded replaces the last message when the newest added message is
// strictly newer than the cached one, or when nothing is cached.
func (c *Coherence) messagesAdded(evt bus.Event, msgs []store.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	newest := msgs[0]
	for _, m := range msgs[1:] {
		if m.SentAt > newest.SentAt {
			newest = m
		}
	}

	c.lastMu.Lock()
	changed, err := c.offerLocked(evt.SubjectID, newest, func(cur store.Message) bool {
		return newest.SentAt > cur.SentAt
	})
	c.lastMu.Unlock()
	if err != nil || !changed {
		return err
	}
	return c.publishLastMessage(evt, newest)
}

// messageChanged replaces the last message when it is the same message with
// new fields, or when nothing is cached.
func (c *Coherence) messageChanged(evt bus.Event, m store.Message) error {
	c.lastMu.Lock()
	changed, err := c.offerLocked(evt.SubjectID, m, func(cur store.Message) bool {
		return false
	})
	c.lastMu.Unlock()
	if err != nil || !changed {
		return err
	}
	return c.publishLastMessage(evt, m)
}

// offerLocked stores candidate as the last message of chatID when the chat
// has none, when the current entry is the candidate itself, or when better
// reports true. A cold entry is filled from the store first. Caller holds
// lastMu.
func (c *Coherence) offerLocked(chatID string, candidate store.Message, better func(cur store.Message) bool) (bool, error) {
	cur, ok, err := c.lastLocked(chatID)
	if err != nil {
		return false, err
	}
	if ok && cur.ID != candidate.ID && !better(cur) {
		return false, nil
	}
	c.last.put(chatID, candidate)
	return true, nil
}

func (c *Coherence) publishLastMessage(evt bus.Event, m store.Message) error {
	c.logger.Debug("last message changed", zap.String("chat_id", evt.SubjectID), zap.String("msg_id", m.ID))
	return c.bus.Publish(bus.Event{
		Kind:      bus.ChatLastMessageChanged,
		SubjectID: evt.SubjectID,
		Subject:   evt.Subject,
		Payload:   m,
	})
}

func copyMessage(m store.Message) *store.Message {
	m.Forwarded = slices.Clone(m.Forwarded)
	return &m
}
