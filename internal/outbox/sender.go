package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
)

// Outbox event kinds. Payload is the store.OutboxEntry after the update.
const (
	EventQueued = "outbox.queued"
	EventSent   = "outbox.sent"
	EventFailed = "outbox.failed"
)

// ErrUnknownChat is returned by Queue for a chat that is not stored.
var ErrUnknownChat = errors.New("unknown chat")

// MessageSender delivers a draft and records the sent message.
type MessageSender interface {
	SendMessage(ctx context.Context, userID string, chat store.Chat, draft sync.Draft) (*store.Message, error)
}

// Sender drains the outbox through the sync engine.
type Sender struct {
	db       *store.DB
	engine   MessageSender
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, engine MessageSender, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:       db,
		engine:   engine,
		bus:      b,
		logger:   logger,
		interval: 500 * time.Millisecond,
		wake:     make(chan struct{}, 1),
	}
}

// Queue stores a draft for authorID in chatID and wakes the drain loop.
func (s *Sender) Queue(chatID, authorID string, draft sync.Draft) (*store.OutboxEntry, error) {
	chat, err := s.db.GetChat(chatID)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	if chat == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownChat, chatID)
	}

	e := &store.OutboxEntry{
		ClientMsgID: uuid.NewString(),
		ChatID:      chatID,
		AuthorID:    authorID,
		Body:        draft.Body,
		Title:       draft.Title,
	}
	if err := s.db.QueueOutbox(e); err != nil {
		return nil, err
	}
	s.notify(EventQueued, *e)

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return e, nil
}

// Start begins draining the outbox.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the drain loop and waits for the in-flight send.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.drain(ctx)
		select {
		case <-ticker.C:
		case <-s.wake:
		case <-ctx.Done():
			return
		}
	}
}

// drain sends every queued entry once. Returns the number sent.
func (s *Sender) drain(ctx context.Context) int {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return 0
	}

	var sent int
	for _, entry := range pending {
		if ctx.Err() != nil {
			return sent
		}
		claimed, err := s.db.MarkOutboxSending(entry.ClientMsgID)
		if err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}
		if !claimed {
			continue
		}
		if s.send(ctx, entry) {
			sent++
		}
	}
	return sent
}

func (s *Sender) send(ctx context.Context, entry store.OutboxEntry) bool {
	chat, err := s.db.GetChat(entry.ChatID)
	if err == nil && chat == nil {
		err = fmt.Errorf("%w %q", ErrUnknownChat, entry.ChatID)
	}
	var msg *store.Message
	if err == nil {
		msg, err = s.engine.SendMessage(ctx, entry.AuthorID, *chat, sync.Draft{Body: entry.Body, Title: entry.Title})
	}
	if err != nil && msg == nil {
		s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		if markErr := s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error()); markErr != nil {
			s.logger.Error("failed to mark failed", zap.Error(markErr))
		}
		entry.Status = store.OutboxFailed
		entry.ErrorMessage = err.Error()
		s.notify(EventFailed, entry)
		return false
	}
	if err != nil {
		// Delivered, but recording or publishing it locally failed.
		s.logger.Warn("sent message not fully recorded", zap.Error(err), zap.String("msg_id", msg.ID))
	}

	if err := s.db.MarkOutboxSent(entry.ClientMsgID, msg.ID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	entry.Status = store.OutboxSent
	entry.ServerMsgID = msg.ID
	s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.String("server_msg_id", msg.ID))
	s.notify(EventSent, entry)
	return true
}

func (s *Sender) notify(kind string, entry store.OutboxEntry) {
	err := s.bus.Publish(bus.Event{Kind: kind, SubjectID: entry.ChatID, Payload: entry})
	if err != nil {
		s.logger.Warn("outbox listeners failed", zap.String("kind", kind), zap.Error(err))
	}
}
