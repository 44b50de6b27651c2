package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Outbox statuses.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

const outboxColumns = `id, client_msg_id, chat_id, author_id, body, title, status, error_message, server_msg_id`

// QueueOutbox adds a draft to the send outbox.
func (db *DB) QueueOutbox(e *OutboxEntry) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, chat_id, author_id, body, title, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'queued', ?, ?)`,
		e.ClientMsgID, e.ChatID, e.AuthorID, e.Body, e.Title, now, now)
	if err != nil {
		return fmt.Errorf("queue outbox %q: %w", e.ClientMsgID, err)
	}
	e.ID, _ = res.LastInsertId()
	e.Status = OutboxQueued
	return nil
}

// MarkOutboxSending moves a queued entry to 'sending'. It reports false when
// the entry was not queued, so two drainers never send the same draft.
func (db *DB) MarkOutboxSending(clientMsgID string) (bool, error) {
	res, err := db.Exec(`UPDATE outbox SET status = 'sending', updated_at = ? WHERE client_msg_id = ? AND status = 'queued'`,
		time.Now().UnixMilli(), clientMsgID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkOutboxSent updates an outbox entry to 'sent' with the server message ID.
func (db *DB) MarkOutboxSent(clientMsgID, serverMsgID string) error {
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_msg_id = ?, updated_at = ? WHERE client_msg_id = ?`,
		serverMsgID, time.Now().UnixMilli(), clientMsgID)
	return err
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`,
		errMsg, time.Now().UnixMilli(), clientMsgID)
	return err
}

// GetOutbox returns an entry by client message id, or nil.
func (db *DB) GetOutbox(clientMsgID string) (*OutboxEntry, error) {
	e, err := scanOutbox(db.QueryRow(`SELECT `+outboxColumns+` FROM outbox WHERE client_msg_id = ?`, clientMsgID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// PendingOutbox returns outbox entries that are still queued, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`SELECT ` + outboxColumns + ` FROM outbox WHERE status = 'queued' ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanOutbox(s scanner) (*OutboxEntry, error) {
	var e OutboxEntry
	if err := s.Scan(&e.ID, &e.ClientMsgID, &e.ChatID, &e.AuthorID, &e.Body, &e.Title, &e.Status, &e.ErrorMessage, &e.ServerMsgID); err != nil {
		return nil, err
	}
	return &e, nil
}
