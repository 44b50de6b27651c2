package store

import (
	"database/sql"
	"fmt"
	"time"
)

const chatColumns = `id, realm_id, realm_chat_id, title, private, revision, last_messages_sync, last_contacts_sync`

// GetChat returns a chat with its participants, or nil if it is not stored.
func (db *DB) GetChat(id string) (*Chat, error) {
	return getChat(db, id)
}

func getChat(q queryer, id string) (*Chat, error) {
	c, err := scanChat(q.QueryRow(`SELECT `+chatColumns+` FROM chats WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.Participants, err = loadParticipants(q, id); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateChat persists the chat fields and replaces its participant list.
// Nothing happens if the chat is not stored.
func (db *DB) UpdateChat(c *Chat) error {
	return db.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE chats SET
				realm_id = ?, realm_chat_id = ?, title = ?, private = ?, revision = ?,
				last_messages_sync = ?, last_contacts_sync = ?, updated_at = ?
			WHERE id = ?`,
			c.Realm.RealmID, c.Realm.RealmEntityID, c.Title, boolInt(c.Private), c.Revision,
			c.LastMessagesSync, c.LastContactsSync, time.Now().UnixMilli(), c.ID)
		if err != nil {
			return fmt.Errorf("update chat %q: %w", c.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		return writeParticipants(tx, c)
	})
}

// LoadUserChats returns the chats linked to a user, with participants.
func (db *DB) LoadUserChats(userID string) ([]Chat, error) {
	rows, err := db.Query(`
		SELECT c.id, c.realm_id, c.realm_chat_id, c.title, c.private, c.revision, c.last_messages_sync, c.last_contacts_sync
		FROM chats c
		JOIN user_chats uc ON uc.chat_id = c.id
		WHERE uc.user_id = ?
		ORDER BY c.id`, userID)
	if err != nil {
		return nil, err
	}
	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		chats = append(chats, *c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range chats {
		if chats[i].Participants, err = loadParticipants(db, chats[i].ID); err != nil {
			return nil, err
		}
	}
	return chats, nil
}

// LoadChatParticipants returns the participants of a chat in join order.
// Participants without a stored user row resolve to a placeholder user.
func (db *DB) LoadChatParticipants(chatID string) ([]User, error) {
	return loadParticipants(db, chatID)
}

func loadParticipants(q queryer, chatID string) ([]User, error) {
	rows, err := q.Query(`
		SELECT p.user_id, u.id IS NOT NULL,
			COALESCE(u.realm_id, ''), COALESCE(u.realm_user_id, ''), COALESCE(u.login, ''),
			COALESCE(u.display_name, ''), COALESCE(u.online, 0), COALESCE(u.properties, '{}'),
			COALESCE(u.last_chats_sync, 0), COALESCE(u.last_contacts_sync, 0)
		FROM chat_participants p
		LEFT JOIN users u ON u.id = p.user_id
		WHERE p.chat_id = ?
		ORDER BY p.position`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		var (
			u      User
			known  bool
			online int
			props  string
		)
		if err := rows.Scan(&u.ID, &known, &u.Realm.RealmID, &u.Realm.RealmEntityID, &u.Login, &u.DisplayName, &online, &props, &u.LastChatsSync, &u.LastContactsSync); err != nil {
			return nil, err
		}
		if !known {
			users = append(users, placeholderUser(u.ID))
			continue
		}
		u.Online = online != 0
		if u.Properties, err = decodeProperties(u.ID, props); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ChatMessageCount returns the number of stored messages in a chat.
func (db *DB) ChatMessageCount(chatID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n)
	return n, err
}

// ChatCount returns the total number of chats.
func (db *DB) ChatCount() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&n)
	return n, err
}

func chatExists(q queryer, id string) (bool, error) {
	var n int
	if err := q.QueryRow(`SELECT COUNT(*) FROM chats WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func insertChat(q queryer, c *Chat) error {
	_, err := q.Exec(`
		INSERT INTO chats (id, realm_id, realm_chat_id, title, private, revision, last_messages_sync, last_contacts_sync, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Realm.RealmID, c.Realm.RealmEntityID, c.Title, boolInt(c.Private), c.Revision,
		c.LastMessagesSync, c.LastContactsSync, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert chat %q: %w", c.ID, err)
	}
	return writeParticipants(q, c)
}

// updateChatFields replaces the remote-owned fields of a chat, leaving the
// local sync timestamps untouched.
func updateChatFields(q queryer, c *Chat) error {
	_, err := q.Exec(`
		UPDATE chats SET realm_id = ?, realm_chat_id = ?, title = ?, private = ?, revision = ?, updated_at = ?
		WHERE id = ?`,
		c.Realm.RealmID, c.Realm.RealmEntityID, c.Title, boolInt(c.Private), c.Revision, time.Now().UnixMilli(), c.ID)
	if err != nil {
		return fmt.Errorf("update chat %q: %w", c.ID, err)
	}
	return writeParticipants(q, c)
}

func writeParticipants(q queryer, c *Chat) error {
	if _, err := q.Exec(`DELETE FROM chat_participants WHERE chat_id = ?`, c.ID); err != nil {
		return fmt.Errorf("clear participants of %q: %w", c.ID, err)
	}
	for i := range c.Participants {
		p := &c.Participants[i]
		if err := insertUserIfMissing(q, p); err != nil {
			return err
		}
		if _, err := q.Exec(`
			INSERT INTO chat_participants (chat_id, user_id, position) VALUES (?, ?, ?)
			ON CONFLICT(chat_id, user_id) DO NOTHING`, c.ID, p.ID, i); err != nil {
			return fmt.Errorf("insert participant %q of %q: %w", p.ID, c.ID, err)
		}
	}
	return nil
}

func linkUserChat(q queryer, userID, chatID string) error {
	if _, err := q.Exec(`INSERT INTO user_chats (user_id, chat_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, userID, chatID); err != nil {
		return fmt.Errorf("link chat %q to %q: %w", chatID, userID, err)
	}
	return nil
}

func unlinkUserChat(q queryer, userID, chatID string) error {
	if _, err := q.Exec(`DELETE FROM user_chats WHERE user_id = ? AND chat_id = ?`, userID, chatID); err != nil {
		return fmt.Errorf("unlink chat %q from %q: %w", chatID, userID, err)
	}
	return nil
}

func scanChat(s scanner) (*Chat, error) {
	var (
		c       Chat
		private int
	)
	if err := s.Scan(&c.ID, &c.Realm.RealmID, &c.Realm.RealmEntityID, &c.Title, &private, &c.Revision, &c.LastMessagesSync, &c.LastContactsSync); err != nil {
		return nil, err
	}
	c.Private = private != 0
	return &c, nil
}
