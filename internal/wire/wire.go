// Package wire renders domain values as JSON-compatible maps for the
// outer surfaces: protobuf Structs on the gRPC API and JSON on the feed.
package wire

import (
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/sync"
)

// User renders a user snapshot.
func User(u store.User) map[string]any {
	out := map[string]any{
		"id":           u.ID,
		"login":        u.Login,
		"display_name": u.DisplayName,
		"online":       u.Online,
	}
	if !u.Realm.IsZero() {
		out["realm"] = u.Realm.String()
	}
	if len(u.Properties) > 0 {
		props := make(map[string]any, len(u.Properties))
		for k, v := range u.Properties {
			props[k] = v
		}
		out["properties"] = props
	}
	return out
}

// Users renders a list of users.
func Users(us []store.User) []any {
	out := make([]any, 0, len(us))
	for _, u := range us {
		out = append(out, User(u))
	}
	return out
}

// Chat renders a chat with its participant ids.
func Chat(c store.Chat) map[string]any {
	ids := make([]any, 0, len(c.Participants))
	for _, id := range c.ParticipantIDs() {
		ids = append(ids, id)
	}
	out := map[string]any{
		"id":           c.ID,
		"title":        c.Title,
		"private":      c.Private,
		"participants": ids,
		"revision":     c.Revision,
	}
	if !c.Realm.IsZero() {
		out["realm"] = c.Realm.String()
	}
	return out
}

// Message renders a message.
func Message(m store.Message) map[string]any {
	out := map[string]any{
		"id":        m.ID,
		"chat_id":   m.ChatID,
		"author_id": m.AuthorID,
		"body":      m.Body,
		"sent_at":   m.SentAt,
		"direction": string(m.Direction),
		"read":      m.Read,
	}
	if m.RecipientID != "" {
		out["recipient_id"] = m.RecipientID
	}
	if m.Title != "" {
		out["title"] = m.Title
	}
	if len(m.Forwarded) > 0 {
		fwd := make([]any, 0, len(m.Forwarded))
		for _, id := range m.Forwarded {
			fwd = append(fwd, id)
		}
		out["forwarded"] = fwd
	}
	return out
}

// Merge summarizes a message merge.
func Merge(chatID string, m *store.MessageMerge) map[string]any {
	out := map[string]any{"chat_id": chatID, "added": 0, "updated": 0, "removed": 0}
	if m == nil {
		return out
	}
	out["added"] = len(m.Added)
	out["updated"] = len(m.Updated)
	out["removed"] = len(m.RemovedIDs)
	out["synced_at"] = m.SyncedAt
	return out
}

// Summary renders a SyncAll summary.
func Summary(s sync.Summary) map[string]any {
	return map[string]any{
		"user_id":     s.UserID,
		"chats":       s.Chats,
		"messages":    s.Messages,
		"duration_ms": s.Duration.Milliseconds(),
	}
}

// Event renders a bus event. Unknown payload types are rendered with %v.
func Event(evt bus.Event) map[string]any {
	out := map[string]any{
		"id":         evt.ID,
		"kind":       evt.Kind,
		"subject_id": evt.SubjectID,
		"timestamp":  evt.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if p := payload(evt.Payload); p != nil {
		out["payload"] = p
	}
	return out
}

func payload(v any) any {
	switch p := v.(type) {
	case nil:
		return nil
	case store.Message:
		return Message(p)
	case []store.Message:
		out := make([]any, 0, len(p))
		for _, m := range p {
			out = append(out, Message(m))
		}
		return out
	case store.Chat:
		return Chat(p)
	case store.User:
		return User(p)
	case store.OutboxEntry:
		return map[string]any{
			"client_msg_id": p.ClientMsgID,
			"chat_id":       p.ChatID,
			"status":        p.Status,
			"error":         p.ErrorMessage,
			"server_msg_id": p.ServerMsgID,
		}
	case sync.Summary:
		return Summary(p)
	case status.StatusChange:
		return map[string]any{"from": string(p.From), "to": string(p.To)}
	case string, bool, int, int64, float64:
		return p
	default:
		return fmt.Sprintf("%v", p)
	}
}
