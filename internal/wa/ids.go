package wa

import (
	"fmt"

	"github.com/matheus3301/chatsync/internal/entity"
	"github.com/matheus3301/chatsync/internal/store"
	"go.mau.fi/whatsmeow/types"
)

// Realm identifies WhatsApp in entity references.
const Realm = "whatsapp"

// UserID returns the local user id of a JID: the JID without its device.
func UserID(jid types.JID) string {
	return jid.ToNonAD().String()
}

// IsGroup reports whether jid addresses a multi-party chat.
func IsGroup(jid types.JID) bool {
	return jid.Server == types.GroupServer || jid.Server == types.BroadcastServer
}

// ChatID returns the local chat id for a conversation seen by account.
// Groups keep their JID; one-to-one chats become private chat ids.
func ChatID(account string, chat types.JID) string {
	if IsGroup(chat) {
		return chat.ToNonAD().String()
	}
	return entity.PrivateChatID(account, UserID(chat))
}

// ChatJID returns the address to send to for a local chat.
func ChatJID(chat store.Chat, account string) (types.JID, error) {
	raw := chat.Realm.RealmEntityID
	if raw == "" && chat.Private {
		peer, ok := entity.OtherUserID(chat.ID, account)
		if !ok {
			return types.EmptyJID, fmt.Errorf("chat %q has no peer", chat.ID)
		}
		raw = peer
	}
	if raw == "" {
		raw = chat.ID
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("parse JID: %w", err)
	}
	return jid, nil
}

func ref(jid types.JID) entity.Ref {
	return entity.Ref{RealmID: Realm, RealmEntityID: jid.ToNonAD().String()}
}

func userFor(jid types.JID, name string) store.User {
	jid = jid.ToNonAD()
	if name == "" {
		name = jid.User
	}
	return store.User{
		ID:          jid.String(),
		Realm:       ref(jid),
		Login:       jid.User,
		DisplayName: name,
	}
}

// chatFor builds the chat record for a conversation. Private chats list the
// account first.
func chatFor(account string, jid types.JID, title string, members []types.JID) store.Chat {
	jid = jid.ToNonAD()
	c := store.Chat{
		ID:    ChatID(account, jid),
		Realm: ref(jid),
		Title: title,
	}
	if !IsGroup(jid) {
		c.Private = true
		self, _ := types.ParseJID(account)
		c.Participants = []store.User{userFor(self, ""), userFor(jid, title)}
		return c
	}
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		u := userFor(m, "")
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		c.Participants = append(c.Participants, u)
	}
	return c
}
