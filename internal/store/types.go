package store

import (
	"maps"
	"slices"

	"github.com/matheus3301/chatsync/internal/entity"
)

// Direction tells whether a message was received or sent by the local user.
type Direction string

const (
	Incoming Direction = "in"
	Outgoing Direction = "out"
)

// User is a synced user snapshot. Users are identified by ID.
type User struct {
	ID               string
	Realm            entity.Ref
	Login            string
	DisplayName      string
	Online           bool
	Properties       map[string]string
	LastChatsSync    int64
	LastContactsSync int64
}

// Equal compares every field of two user snapshots.
func (u User) Equal(o User) bool {
	return u.ID == o.ID &&
		u.Realm == o.Realm &&
		u.Login == o.Login &&
		u.DisplayName == o.DisplayName &&
		u.Online == o.Online &&
		maps.Equal(u.Properties, o.Properties)
}

// Chat is a conversation, private (two participants) or multi-party.
type Chat struct {
	ID               string
	Realm            entity.Ref
	Title            string
	Private          bool
	Participants     []User
	LastMessagesSync int64
	LastContactsSync int64
	Revision         int64
}

// ParticipantIDs returns participant ids in order.
func (c Chat) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// Equal compares the fields used for update detection. Sync timestamps are
// local bookkeeping and are ignored.
func (c Chat) Equal(o Chat) bool {
	return c.ID == o.ID &&
		c.Realm == o.Realm &&
		c.Title == o.Title &&
		c.Private == o.Private &&
		c.Revision == o.Revision &&
		slices.Equal(c.ParticipantIDs(), o.ParticipantIDs())
}

// Message is a chat message. Only Read changes after it is persisted.
type Message struct {
	ID          string
	ChatID      string
	AuthorID    string
	RecipientID string
	Body        string
	Title       string
	SentAt      int64
	Direction   Direction
	Read        bool
	Forwarded   []string
}

// Equal compares every field of two messages.
func (m Message) Equal(o Message) bool {
	return m.ID == o.ID &&
		m.ChatID == o.ChatID &&
		m.AuthorID == o.AuthorID &&
		m.RecipientID == o.RecipientID &&
		m.Body == o.Body &&
		m.Title == o.Title &&
		m.SentAt == o.SentAt &&
		m.Direction == o.Direction &&
		m.Read == o.Read &&
		slices.Equal(m.Forwarded, o.Forwarded)
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ChatID       string
	AuthorID     string
	Body         string
	Title        string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
}
