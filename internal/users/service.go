// Package users is the user directory: it resolves user ids to snapshots,
// records profile changes, and imports contacts from the transport.
package users

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/reconcile"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// ContactSource lists the contacts the transport knows for the account.
type ContactSource interface {
	Contacts(ctx context.Context) ([]store.User, error)
}

// Service resolves and updates users backed by the store.
type Service struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewService creates a user directory.
func NewService(db *store.DB, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, bus: b, logger: logger}
}

var userMerger = reconcile.Merger[store.User, string]{
	ID:    func(u store.User) string { return u.ID },
	Equal: func(l, r store.User) bool { return l.Equal(r) },
}

// GetUser returns the stored snapshot of id. Unknown ids resolve to a
// placeholder carrying only the id, so participants and authors can always
// be materialized.
func (s *Service) GetUser(id string) (store.User, error) {
	u, err := s.db.GetUser(id)
	if err != nil {
		return store.User{}, fmt.Errorf("get user %q: %w", id, err)
	}
	if u == nil {
		return store.User{ID: id, DisplayName: id}, nil
	}
	return *u, nil
}

// UpdateUser persists u and publishes user.changed.
func (s *Service) UpdateUser(u store.User) error {
	if err := s.db.UpsertUser(&u); err != nil {
		return err
	}
	return s.bus.Publish(bus.Event{Kind: bus.UserChanged, SubjectID: u.ID, Subject: u})
}

// ImportContacts merges the transport's contacts into the directory.
// Contacts are never removed: a missing entry only means the address book
// no longer lists the user.
func (s *Service) ImportContacts(ctx context.Context, ownerID string, src ContactSource) (int, error) {
	remote, err := src.Contacts(ctx)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(remote))
	for _, u := range remote {
		ids = append(ids, u.ID)
	}
	local, err := s.db.LoadUsers(ids)
	if err != nil {
		return 0, fmt.Errorf("load users: %w", err)
	}

	res := userMerger.Reconcile(local, remote, reconcile.Options{AllowUpdate: true})
	changed := append(res.Added, res.Updated...)
	events := make([]bus.Event, 0, len(changed))
	for _, u := range changed {
		if err := s.db.UpsertUser(&u); err != nil {
			return 0, err
		}
		events = append(events, bus.Event{Kind: bus.UserChanged, SubjectID: u.ID, Subject: u})
	}
	if _, err := s.db.TouchContactsSync(ownerID); err != nil {
		return 0, err
	}

	s.logger.Info("contacts imported",
		zap.String("user_id", ownerID),
		zap.Int("added", len(res.Added)),
		zap.Int("updated", len(res.Updated)))
	if err := s.bus.PublishBatch(events); err != nil {
		s.logger.Warn("user change listeners failed", zap.Error(err))
	}
	return len(changed), nil
}
