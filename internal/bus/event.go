package bus

import "time"

// Event represents a domain change published on the bus.
type Event struct {
	ID   string
	Kind string
	// SubjectID identifies the entity the event is about (chat or user id).
	SubjectID string
	// Subject is the entity snapshot, when the publisher has one.
	Subject   any
	Payload   any
	Timestamp time.Time
}

// Chat event kinds. Subject is a store.Chat.
const (
	ChatCreated            = "chat.created"
	ChatChanged            = "chat.changed"
	ChatParticipantAdded   = "chat.participant_added"   // Payload: store.User
	ChatParticipantRemoved = "chat.participant_removed" // Payload: store.User
	ChatMessageAdded       = "chat.message_added"       // Payload: store.Message
	ChatMessageAddedBatch  = "chat.message_added_batch" // Payload: []store.Message
	ChatMessageChanged     = "chat.message_changed"     // Payload: store.Message
	ChatMessageRemoved     = "chat.message_removed"     // Payload: message id
	ChatLastMessageChanged = "chat.last_message_changed"
)

// User event kinds. Subject is a store.User.
const (
	UserChanged     = "user.changed"
	UserChatAdded   = "user.chat_added"   // Payload: store.Chat
	UserChatRemoved = "user.chat_removed" // Payload: chat id
)

// Namespaces usable as subscription prefixes.
const (
	ChatNamespace = "chat."
	UserNamespace = "user."
	All           = ""
)
