package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidMessage is returned when a message lacks the fields needed to
// persist it.
var ErrInvalidMessage = errors.New("invalid message")

const messageColumns = `chat_id, id, author_id, recipient_id, body, title, sent_at, direction, is_read`

func validateMessage(m *Message) error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	case m.ChatID == "":
		return fmt.Errorf("%w: message %q has no chat", ErrInvalidMessage, m.ID)
	case m.Direction != Incoming && m.Direction != Outgoing:
		return fmt.Errorf("%w: message %q has direction %q", ErrInvalidMessage, m.ID, m.Direction)
	}
	return nil
}

// GetMessage returns a message by chat and id, or nil if it is not stored.
func (db *DB) GetMessage(chatID, id string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? AND id = ?`, chatID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if m.Forwarded, err = loadForwards(db, chatID, id); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadLastMessage returns the newest message of a chat by send time, or nil
// if the chat has none.
func (db *DB) LoadLastMessage(chatID string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ?
		ORDER BY sent_at DESC, created_at DESC
		LIMIT 1`, chatID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if m.Forwarded, err = loadForwards(db, chatID, m.ID); err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns messages of a chat newest first, skipping offset.
func (db *DB) ListMessages(chatID string, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return listMessages(db, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ?
		ORDER BY sent_at DESC, created_at DESC
		LIMIT ? OFFSET ?`, chatID, limit, offset)
}

// loadChatMessages returns every stored message among ids for a chat.
func loadChatMessages(q queryer, chatID string, ids []string) ([]Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, chatID)
	for _, id := range ids {
		args = append(args, id)
	}
	return listMessages(q, `SELECT `+messageColumns+` FROM messages WHERE chat_id = ? AND id IN (`+placeholders(len(ids))+`)`, args...)
}

func listMessages(q queryer, query string, args ...any) ([]Message, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range msgs {
		if msgs[i].Forwarded, err = loadForwards(q, msgs[i].ChatID, msgs[i].ID); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

// MarkMessageRead flips the read flag, the only field that changes after a
// message is stored. It reports whether a row was updated.
func (db *DB) MarkMessageRead(chatID, id string) (bool, error) {
	res, err := db.Exec(`UPDATE messages SET is_read = 1 WHERE chat_id = ? AND id = ? AND is_read = 0`, chatID, id)
	if err != nil {
		return false, fmt.Errorf("mark read %q: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func insertMessage(q queryer, m *Message) error {
	if err := validateMessage(m); err != nil {
		return err
	}
	_, err := q.Exec(`
		INSERT INTO messages (chat_id, id, author_id, recipient_id, body, title, sent_at, direction, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChatID, m.ID, m.AuthorID, m.RecipientID, m.Body, m.Title, m.SentAt, string(m.Direction), boolInt(m.Read), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("insert message %q: %w", m.ID, err)
	}
	return writeForwards(q, m)
}

// replaceMessage overwrites every field of a stored message with the remote
// version.
func replaceMessage(q queryer, m *Message) error {
	if err := validateMessage(m); err != nil {
		return err
	}
	_, err := q.Exec(`
		UPDATE messages SET author_id = ?, recipient_id = ?, body = ?, title = ?, sent_at = ?, direction = ?, is_read = ?
		WHERE chat_id = ? AND id = ?`,
		m.AuthorID, m.RecipientID, m.Body, m.Title, m.SentAt, string(m.Direction), boolInt(m.Read), m.ChatID, m.ID)
	if err != nil {
		return fmt.Errorf("update message %q: %w", m.ID, err)
	}
	return writeForwards(q, m)
}

func writeForwards(q queryer, m *Message) error {
	if _, err := q.Exec(`DELETE FROM message_forwards WHERE chat_id = ? AND message_id = ?`, m.ChatID, m.ID); err != nil {
		return fmt.Errorf("clear forwards of %q: %w", m.ID, err)
	}
	for i, ref := range m.Forwarded {
		if _, err := q.Exec(`INSERT INTO message_forwards (chat_id, message_id, position, forwarded_id) VALUES (?, ?, ?, ?)`,
			m.ChatID, m.ID, i, ref); err != nil {
			return fmt.Errorf("insert forward of %q: %w", m.ID, err)
		}
	}
	return nil
}

func loadForwards(q queryer, chatID, msgID string) ([]string, error) {
	rows, err := q.Query(`SELECT forwarded_id FROM message_forwards WHERE chat_id = ? AND message_id = ? ORDER BY position`, chatID, msgID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func scanMessage(s scanner) (*Message, error) {
	var (
		m    Message
		dir  string
		read int
	)
	if err := s.Scan(&m.ChatID, &m.ID, &m.AuthorID, &m.RecipientID, &m.Body, &m.Title, &m.SentAt, &dir, &read); err != nil {
		return nil, err
	}
	m.Direction = Direction(dir)
	m.Read = read != 0
	return &m, nil
}
