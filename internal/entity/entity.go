package entity

import "strings"

// PrivateChatSeparator joins the two participant ids of a private chat id.
const PrivateChatSeparator = "_"

// Ref points at the representation of a local entity inside a realm
// (the remote network the entity was synced from).
type Ref struct {
	RealmID       string
	RealmEntityID string
}

// IsZero reports whether the reference is unset.
func (r Ref) IsZero() bool {
	return r.RealmID == "" && r.RealmEntityID == ""
}

// String renders the reference as realm:entity.
func (r Ref) String() string {
	if r.IsZero() {
		return ""
	}
	return r.RealmID + ":" + r.RealmEntityID
}

// PrivateChatID returns the id of the private chat between userID and
// secondUserID. The order of the arguments is preserved.
func PrivateChatID(userID, secondUserID string) string {
	return userID + PrivateChatSeparator + secondUserID
}

// FirstUserID returns the first participant encoded in a private chat id.
func FirstUserID(chatID string) (string, bool) {
	parts := strings.Split(chatID, PrivateChatSeparator)
	if len(parts) < 2 || parts[0] == "" {
		return "", false
	}
	return parts[0], true
}

// SecondUserID returns the second participant encoded in a private chat id.
// Ids without a separator are not private chat ids and report false.
func SecondUserID(chatID string) (string, bool) {
	parts := strings.Split(chatID, PrivateChatSeparator)
	if len(parts) < 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// OtherUserID returns the participant of a private chat that is not userID.
func OtherUserID(chatID, userID string) (string, bool) {
	first, ok := FirstUserID(chatID)
	if !ok {
		return "", false
	}
	second, ok := SecondUserID(chatID)
	if !ok {
		return "", false
	}
	if first == userID {
		return second, true
	}
	return first, true
}
