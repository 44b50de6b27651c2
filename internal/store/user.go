package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const userColumns = `id, realm_id, realm_user_id, login, display_name, online, properties, last_chats_sync, last_contacts_sync`

// UpsertUser inserts a user or replaces its profile fields. Sync timestamps
// are only ever advanced by the sync operations themselves.
func (db *DB) UpsertUser(u *User) error {
	return upsertUser(db, u)
}

func upsertUser(q queryer, u *User) error {
	props, err := encodeProperties(u.Properties)
	if err != nil {
		return err
	}
	_, err = q.Exec(`
		INSERT INTO users (id, realm_id, realm_user_id, login, display_name, online, properties, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			realm_id = excluded.realm_id,
			realm_user_id = excluded.realm_user_id,
			login = excluded.login,
			display_name = excluded.display_name,
			online = excluded.online,
			properties = excluded.properties,
			updated_at = excluded.updated_at`,
		u.ID, u.Realm.RealmID, u.Realm.RealmEntityID, u.Login, u.DisplayName, boolInt(u.Online), props, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert user %q: %w", u.ID, err)
	}
	return nil
}

// insertUserIfMissing records a user first seen as a chat participant
// without overwriting a snapshot that is already stored.
func insertUserIfMissing(q queryer, u *User) error {
	props, err := encodeProperties(u.Properties)
	if err != nil {
		return err
	}
	_, err = q.Exec(`
		INSERT INTO users (id, realm_id, realm_user_id, login, display_name, online, properties, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		u.ID, u.Realm.RealmID, u.Realm.RealmEntityID, u.Login, u.DisplayName, boolInt(u.Online), props, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert user %q: %w", u.ID, err)
	}
	return nil
}

// GetUser returns a user by id, or nil if it is not stored.
func (db *DB) GetUser(id string) (*User, error) {
	u, err := scanUser(db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// LoadUsers returns the stored users among ids. Unknown ids are skipped.
func (db *DB) LoadUsers(ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := db.Query(`SELECT `+userColumns+` FROM users WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// TouchContactsSync records a completed contacts sync for the user.
func (db *DB) TouchContactsSync(userID string) (int64, error) {
	now := time.Now().UnixMilli()
	if err := insertUserIfMissing(db, &User{ID: userID}); err != nil {
		return 0, err
	}
	if _, err := db.Exec(`UPDATE users SET last_contacts_sync = ? WHERE id = ?`, now, userID); err != nil {
		return 0, fmt.Errorf("touch contacts sync: %w", err)
	}
	return now, nil
}

func touchChatsSync(q queryer, userID string, now int64) error {
	if err := insertUserIfMissing(q, &User{ID: userID}); err != nil {
		return err
	}
	if _, err := q.Exec(`UPDATE users SET last_chats_sync = ? WHERE id = ?`, now, userID); err != nil {
		return fmt.Errorf("touch chats sync: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	var (
		u      User
		online int
		props  string
	)
	if err := s.Scan(&u.ID, &u.Realm.RealmID, &u.Realm.RealmEntityID, &u.Login, &u.DisplayName, &online, &props, &u.LastChatsSync, &u.LastContactsSync); err != nil {
		return nil, err
	}
	u.Online = online != 0
	var err error
	if u.Properties, err = decodeProperties(u.ID, props); err != nil {
		return nil, err
	}
	return &u, nil
}

func decodeProperties(userID, raw string) (map[string]string, error) {
	var props map[string]string
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, fmt.Errorf("decode properties of %q: %w", userID, err)
	}
	if len(props) == 0 {
		return nil, nil
	}
	return props, nil
}

func encodeProperties(props map[string]string) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encode properties: %w", err)
	}
	return string(b), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// placeholderUser is what a participant reference resolves to when the
// user row is missing.
func placeholderUser(id string) User {
	return User{ID: id, DisplayName: id}
}
