package store

import (
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/chatsync/internal/reconcile"
)

// ChatMerge is the outcome of merging a remote chat list into a user's chats.
type ChatMerge struct {
	reconcile.Result[Chat, string]
	// Previous holds the stored version of every updated chat, keyed by id.
	Previous map[string]Chat
	SyncedAt int64
}

// MessageMerge is the outcome of merging a remote message batch into a chat.
type MessageMerge struct {
	reconcile.Result[Message, string]
	SyncedAt int64
}

var chatMerger = reconcile.Merger[Chat, string]{
	ID:    func(c Chat) string { return c.ID },
	Equal: func(l, r Chat) bool { return l.Equal(r) },
}

var messageMerger = reconcile.Merger[Message, string]{
	ID:    func(m Message) string { return m.ID },
	Equal: func(l, r Message) bool { return l.Equal(r) },
}

// MergeUserChats reconciles the chats linked to userID against remote and
// persists the result in one transaction. Chats that already exist for other
// users are linked rather than inserted.
func (db *DB) MergeUserChats(userID string, remote []Chat, opts reconcile.Options) (*ChatMerge, error) {
	out := &ChatMerge{Previous: map[string]Chat{}}
	err := db.inTx(func(tx *sql.Tx) error {
		local, err := loadLinkedChats(tx, userID)
		if err != nil {
			return fmt.Errorf("load user chats: %w", err)
		}

		var knownErr error
		m := chatMerger
		m.Known = func(id string) bool {
			ok, err := chatExists(tx, id)
			if err != nil && knownErr == nil {
				knownErr = err
			}
			return ok
		}
		out.Result = m.Reconcile(local, remote, opts)
		if knownErr != nil {
			return fmt.Errorf("check chat: %w", knownErr)
		}

		for i := range out.Added {
			c := &out.Added[i]
			if err := insertChat(tx, c); err != nil {
				return err
			}
			if err := linkUserChat(tx, userID, c.ID); err != nil {
				return err
			}
		}
		for _, c := range out.AddedLinks {
			if err := linkUserChat(tx, userID, c.ID); err != nil {
				return err
			}
		}
		for i := range out.Updated {
			c := &out.Updated[i]
			for _, l := range local {
				if l.ID == c.ID {
					out.Previous[c.ID] = l
				}
			}
			if err := updateChatFields(tx, c); err != nil {
				return err
			}
		}
		for _, id := range out.RemovedIDs {
			if err := unlinkUserChat(tx, userID, id); err != nil {
				return err
			}
		}

		out.SyncedAt = time.Now().UnixMilli()
		return touchChatsSync(tx, userID, out.SyncedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("merge chats of %q: %w", userID, err)
	}
	return out, nil
}

// MergeChatMessages reconciles a remote message batch against the stored
// messages of chatID and advances the chat's messages-sync timestamp. With
// AllowRemoval unset only the stored counterparts of the batch are compared,
// so paginated fetches never delete history.
func (db *DB) MergeChatMessages(chatID string, remote []Message, opts reconcile.Options) (*MessageMerge, error) {
	out := &MessageMerge{}
	remote = slices.Clone(remote)
	err := db.inTx(func(tx *sql.Tx) error {
		for i := range remote {
			if remote[i].ChatID == "" {
				remote[i].ChatID = chatID
			}
			if remote[i].ChatID != chatID {
				return fmt.Errorf("%w: message %q belongs to %q", ErrInvalidMessage, remote[i].ID, remote[i].ChatID)
			}
			if err := validateMessage(&remote[i]); err != nil {
				return err
			}
		}

		var (
			local []Message
			err   error
		)
		if opts.AllowRemoval {
			local, err = listMessages(tx, `SELECT `+messageColumns+` FROM messages WHERE chat_id = ?`, chatID)
		} else {
			ids := make([]string, 0, len(remote))
			for _, m := range remote {
				ids = append(ids, m.ID)
			}
			local, err = loadChatMessages(tx, chatID, ids)
		}
		if err != nil {
			return fmt.Errorf("load messages: %w", err)
		}

		out.Result = messageMerger.Reconcile(local, remote, opts)
		for i := range out.Added {
			if err := insertMessage(tx, &out.Added[i]); err != nil {
				return err
			}
		}
		for i := range out.Updated {
			if err := replaceMessage(tx, &out.Updated[i]); err != nil {
				return err
			}
		}
		for _, id := range out.RemovedIDs {
			if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ? AND id = ?`, chatID, id); err != nil {
				return fmt.Errorf("delete message %q: %w", id, err)
			}
		}

		out.SyncedAt = time.Now().UnixMilli()
		if _, err := tx.Exec(`UPDATE chats SET last_messages_sync = ? WHERE id = ?`, out.SyncedAt, chatID); err != nil {
			return fmt.Errorf("touch messages sync: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("merge messages of %q: %w", chatID, err)
	}
	return out, nil
}

func loadLinkedChats(q queryer, userID string) ([]Chat, error) {
	rows, err := q.Query(`SELECT chat_id FROM user_chats WHERE user_id = ? ORDER BY chat_id`, userID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	chats := make([]Chat, 0, len(ids))
	for _, id := range ids {
		c, err := getChat(q, id)
		if err != nil {
			return nil, err
		}
		if c != nil {
			chats = append(chats, *c)
		}
	}
	return chats, nil
}
