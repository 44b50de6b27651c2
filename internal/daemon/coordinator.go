package daemon

import (
	"context"
	"errors"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/users"
	"github.com/matheus3301/chatsync/internal/wa"
	"go.uber.org/zap"
)

type syncer interface {
	SyncAll(ctx context.Context, userID string) (*intsync.Summary, error)
}

type contactImporter interface {
	ImportContacts(ctx context.Context, ownerID string, src users.ContactSource) (int, error)
}

// coordinator runs the post-connect sync: contacts first, then every chat.
// The machine reaches Ready when a full sync completes.
type coordinator struct {
	ctx      context.Context
	engine   syncer
	users    contactImporter
	contacts users.ContactSource
	machine  *status.Machine
	logger   *zap.Logger
}

func newCoordinator(ctx context.Context, engine syncer, dir contactImporter, contacts users.ContactSource, machine *status.Machine, logger *zap.Logger) *coordinator {
	return &coordinator{
		ctx:      ctx,
		engine:   engine,
		users:    dir,
		contacts: contacts,
		machine:  machine,
		logger:   logger,
	}
}

func (c *coordinator) OnEvent(evt bus.Event) error {
	switch evt.Kind {
	case wa.EventConnected:
		if evt.SubjectID == "" {
			c.logger.Warn("connected without an account id")
			return nil
		}
		go c.initialSync(evt.SubjectID)
	case intsync.EventSyncCompleted:
		if _, err := c.machine.TransitionIf(status.Syncing, status.Ready); err != nil {
			return err
		}
	}
	return nil
}

func (c *coordinator) initialSync(account string) {
	if n, err := c.users.ImportContacts(c.ctx, account, c.contacts); err != nil {
		c.logger.Warn("contact import failed", zap.Error(err))
	} else {
		c.logger.Info("contacts imported", zap.Int("changed", n))
	}

	if _, err := c.engine.SyncAll(c.ctx, account); err != nil && !errors.Is(err, intsync.ErrSyncAllRunning) {
		c.logger.Error("initial sync failed", zap.Error(err))
	}
}
