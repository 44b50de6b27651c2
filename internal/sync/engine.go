package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/entity"
	"github.com/matheus3301/chatsync/internal/reconcile"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrSyncAllRunning is returned when a full sync is requested while one
	// is already in progress.
	ErrSyncAllRunning = errors.New("sync all already running")
	// ErrChatNotPrivate is returned when a private chat is requested for an
	// invalid pair or the id resolves to a multi-party chat.
	ErrChatNotPrivate = errors.New("chat is not private")
)

// EventSyncCompleted is published after SyncAll finishes. Payload: Summary.
const EventSyncCompleted = "sync.completed"

// Transport fetches remote state. Errors are returned to the caller as is.
type Transport interface {
	FetchChatList(ctx context.Context, userID string) (ChatList, error)
	FetchNewerMessages(ctx context.Context, chatID, userID string) ([]store.Message, error)
	FetchOlderMessages(ctx context.Context, chatID, userID string, offset int) ([]store.Message, error)
	SendMessage(ctx context.Context, chat store.Chat, draft Draft) (string, error)
}

// ChatList is a fetched chat list. A complete list is an authoritative
// snapshot: stored chats missing from it are unlinked from the user.
// A partial list only adds and updates.
type ChatList struct {
	Chats    []store.Chat
	Complete bool
}

// Directory resolves user ids to snapshots.
type Directory interface {
	GetUser(id string) (store.User, error)
}

// Draft is an outgoing message before the transport assigns its id.
type Draft struct {
	Body      string
	Title     string
	Forwarded []string
}

// Summary reports the outcome of SyncAll.
type Summary struct {
	UserID   string
	Chats    int
	Messages int
	Duration time.Duration
}

// Options tunes the engine.
type Options struct {
	// Concurrency bounds the per-chat message syncs SyncAll runs at once.
	Concurrency int
}

// Engine merges remote chats and messages into the store and publishes
// the resulting change events.
//
// All merges run under one mutex and publish before releasing it, so once a
// merge returns the caches listening on the bus already reflect it.
type Engine struct {
	db        *store.DB
	bus       *bus.Bus
	caches    *cache.Coherence
	transport Transport
	users     Directory
	logger    *zap.Logger
	opts      Options

	mu      gosync.Mutex
	syncing atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	bg      gosync.WaitGroup
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, caches *cache.Coherence, transport Transport, users Directory, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Engine{
		db:        db,
		bus:       b,
		caches:    caches,
		transport: transport,
		users:     users,
		logger:    logger,
		opts:      opts,
	}
}

// Start subscribes to inbound transport events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("wa.", 256)
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the event loop and any sync it
// started to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
	e.bg.Wait()
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case "wa.message":
		msg, ok := evt.Payload.(store.Message)
		if !ok {
			return
		}
		if err := e.ReceiveMessage(ctx, evt.SubjectID, msg); err != nil {
			e.logger.Error("failed to receive message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	case "wa.history_batch":
		// Off the event loop so live messages keep flowing while it runs.
		// Batches arriving meanwhile are covered by the running sync.
		if e.syncing.Load() {
			return
		}
		e.bg.Add(1)
		go func() {
			defer e.bg.Done()
			if _, err := e.SyncAll(ctx, evt.SubjectID); err != nil && !errors.Is(err, ErrSyncAllRunning) {
				e.logger.Error("sync after history batch failed", zap.Error(err))
			}
		}()
	}
}

// GetChat returns a stored chat, or nil.
func (e *Engine) GetChat(chatID string) (*store.Chat, error) {
	return e.db.GetChat(chatID)
}

// LoadUserChats returns the chats linked to userID.
func (e *Engine) LoadUserChats(userID string) ([]store.Chat, error) {
	return e.db.LoadUserChats(userID)
}

// UpdateChat persists chat and publishes chat.changed.
func (e *Engine) UpdateChat(chat store.Chat) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.db.UpdateChat(&chat); err != nil {
		return err
	}
	stored, err := e.db.GetChat(chat.ID)
	if err != nil || stored == nil {
		return err
	}
	return e.bus.Publish(bus.Event{Kind: bus.ChatChanged, SubjectID: stored.ID, Subject: *stored})
}

// MergeUserChats merges chats into the user's chat list and publishes one
// event batch describing the change.
func (e *Engine) MergeUserChats(userID string, chats []store.Chat, opts reconcile.Options) (*store.ChatMerge, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mergeUserChatsLocked(userID, chats, opts)
}

func (e *Engine) mergeUserChatsLocked(userID string, chats []store.Chat, opts reconcile.Options) (*store.ChatMerge, error) {
	res, err := e.db.MergeUserChats(userID, chats, opts)
	if err != nil {
		return nil, err
	}
	if res.Empty() {
		return res, nil
	}

	owner := e.resolveUser(userID)
	var events []bus.Event
	for _, c := range res.Added {
		events = append(events, bus.Event{Kind: bus.ChatCreated, SubjectID: c.ID, Subject: c})
	}
	for _, c := range res.Updated {
		events = append(events, bus.Event{Kind: bus.ChatChanged, SubjectID: c.ID, Subject: c})
		events = append(events, e.participantEvents(res.Previous[c.ID], c)...)
	}
	for _, c := range slices.Concat(res.Added, res.AddedLinks) {
		events = append(events, bus.Event{Kind: bus.UserChatAdded, SubjectID: userID, Subject: owner, Payload: c})
	}
	for _, id := range res.RemovedIDs {
		events = append(events, bus.Event{Kind: bus.UserChatRemoved, SubjectID: userID, Subject: owner, Payload: id})
	}

	e.logger.Info("chats merged",
		zap.String("user_id", userID),
		zap.Int("added", len(res.Added)),
		zap.Int("linked", len(res.AddedLinks)),
		zap.Int("updated", len(res.Updated)),
		zap.Int("removed", len(res.RemovedIDs)))
	return res, e.publish(events)
}

var participantMerger = reconcile.Merger[store.User, string]{
	ID: func(u store.User) string { return u.ID },
}

func (e *Engine) participantEvents(prev, next store.Chat) []bus.Event {
	diff := participantMerger.Reconcile(prev.Participants, next.Participants, reconcile.Options{AllowRemoval: true})
	var events []bus.Event
	for _, p := range diff.Added {
		events = append(events, bus.Event{Kind: bus.ChatParticipantAdded, SubjectID: next.ID, Subject: next, Payload: e.resolveUser(p.ID)})
	}
	for _, id := range diff.RemovedIDs {
		i := slices.IndexFunc(prev.Participants, func(u store.User) bool { return u.ID == id })
		events = append(events, bus.Event{Kind: bus.ChatParticipantRemoved, SubjectID: next.ID, Subject: next, Payload: prev.Participants[i]})
	}
	return events
}

// SyncChatList fetches the user's chat list and merges it. Removal is
// only allowed when the transport reports the list as complete.
func (e *Engine) SyncChatList(ctx context.Context, userID string) (*store.ChatMerge, error) {
	list, err := e.transport.FetchChatList(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.MergeUserChats(userID, list.Chats, reconcile.Options{AllowRemoval: list.Complete, AllowUpdate: true})
}

// SyncChat syncs the newest messages of a chat.
func (e *Engine) SyncChat(ctx context.Context, chatID, userID string) (*store.MessageMerge, error) {
	return e.SyncNewerMessages(ctx, chatID, userID)
}

// SyncNewerMessages fetches messages newer than what the store holds.
func (e *Engine) SyncNewerMessages(ctx context.Context, chatID, userID string) (*store.MessageMerge, error) {
	chat, err := e.chatForSync(chatID)
	if err != nil || chat == nil {
		return &store.MessageMerge{}, err
	}
	msgs, err := e.transport.FetchNewerMessages(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	return e.mergeMessages(*chat, msgs)
}

// SyncOlderMessages fetches the page of history preceding the messages the
// store already holds. The offset is the local message count.
func (e *Engine) SyncOlderMessages(ctx context.Context, chatID, userID string) (*store.MessageMerge, error) {
	chat, err := e.chatForSync(chatID)
	if err != nil || chat == nil {
		return &store.MessageMerge{}, err
	}
	offset, err := e.db.ChatMessageCount(chatID)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	msgs, err := e.transport.FetchOlderMessages(ctx, chatID, userID, offset)
	if err != nil {
		return nil, err
	}
	return e.mergeMessages(*chat, msgs)
}

// chatForSync loads a chat for a message sync. A missing chat is logged and
// yields nil so the sync becomes a no-op.
func (e *Engine) chatForSync(chatID string) (*store.Chat, error) {
	chat, err := e.db.GetChat(chatID)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	if chat == nil {
		e.logger.Warn("chat not found, skipping message sync", zap.String("chat_id", chatID))
	}
	return chat, nil
}

// mergeMessages merges a partial batch: history is never removed and a
// changed message replaces the stored one.
func (e *Engine) mergeMessages(chat store.Chat, msgs []store.Message) (*store.MessageMerge, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mergeMessagesLocked(chat, msgs, bus.ChatMessageAddedBatch)
}

func (e *Engine) mergeMessagesLocked(chat store.Chat, msgs []store.Message, addedKind string) (*store.MessageMerge, error) {
	res, err := e.db.MergeChatMessages(chat.ID, msgs, reconcile.Options{AllowUpdate: true})
	if err != nil {
		return nil, err
	}

	var events []bus.Event
	switch {
	case len(res.Added) == 0:
	case addedKind == bus.ChatMessageAdded:
		for _, m := range res.Added {
			events = append(events, bus.Event{Kind: bus.ChatMessageAdded, SubjectID: chat.ID, Subject: chat, Payload: m})
		}
	default:
		events = append(events, bus.Event{Kind: bus.ChatMessageAddedBatch, SubjectID: chat.ID, Subject: chat, Payload: res.Added})
	}
	for _, m := range res.Updated {
		events = append(events, bus.Event{Kind: bus.ChatMessageChanged, SubjectID: chat.ID, Subject: chat, Payload: m})
	}
	for _, id := range res.RemovedIDs {
		events = append(events, bus.Event{Kind: bus.ChatMessageRemoved, SubjectID: chat.ID, Subject: chat, Payload: id})
	}

	e.logger.Debug("messages merged",
		zap.String("chat_id", chat.ID),
		zap.Int("fetched", len(msgs)),
		zap.Int("added", len(res.Added)),
		zap.Int("updated", len(res.Updated)))
	return res, e.publish(events)
}

// MarkRead sets the read flag of a stored message and publishes
// chat.message_changed. It returns nil when the message is not stored.
// Marking an already read message publishes nothing.
func (e *Engine) MarkRead(chatID, msgID string) (*store.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed, err := e.db.MarkMessageRead(chatID, msgID)
	if err != nil {
		return nil, err
	}
	msg, err := e.db.GetMessage(chatID, msgID)
	if err != nil || msg == nil || !changed {
		return msg, err
	}
	chat, err := e.db.GetChat(chatID)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	evt := bus.Event{Kind: bus.ChatMessageChanged, SubjectID: chatID, Payload: *msg}
	if chat != nil {
		evt.Subject = *chat
	}
	return msg, e.publish([]bus.Event{evt})
}

// GetOrCreatePrivateChat returns the private chat between userID and
// otherID, creating it as userID_otherID when neither ordering exists.
// Concurrent callers for the same pair get the same chat.
func (e *Engine) GetOrCreatePrivateChat(userID, otherID string) (*store.Chat, error) {
	if userID == "" || otherID == "" || userID == otherID {
		return nil, fmt.Errorf("%w: pair %q/%q", ErrChatNotPrivate, userID, otherID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range []string{entity.PrivateChatID(userID, otherID), entity.PrivateChatID(otherID, userID)} {
		chat, err := e.db.GetChat(id)
		if err != nil {
			return nil, fmt.Errorf("load chat: %w", err)
		}
		if chat == nil {
			continue
		}
		if !chat.Private {
			return nil, fmt.Errorf("%w: %s", ErrChatNotPrivate, id)
		}
		return chat, nil
	}

	chat := store.Chat{
		ID:           entity.PrivateChatID(userID, otherID),
		Private:      true,
		Participants: []store.User{e.resolveUser(userID), e.resolveUser(otherID)},
	}
	if _, err := e.mergeUserChatsLocked(userID, []store.Chat{chat}, reconcile.Options{}); err != nil {
		return nil, err
	}
	e.logger.Info("private chat created", zap.String("chat_id", chat.ID))
	return e.db.GetChat(chat.ID)
}

// SendMessage sends draft through the transport and records the sent
// message as read and outgoing.
func (e *Engine) SendMessage(ctx context.Context, userID string, chat store.Chat, draft Draft) (*store.Message, error) {
	remoteID, err := e.transport.SendMessage(ctx, chat, draft)
	if err != nil {
		return nil, err
	}

	msg := store.Message{
		ID:        remoteID,
		ChatID:    chat.ID,
		AuthorID:  userID,
		Body:      draft.Body,
		Title:     draft.Title,
		SentAt:    time.Now().UnixMilli(),
		Direction: store.Outgoing,
		Read:      true,
		Forwarded: slices.Clone(draft.Forwarded),
	}
	if chat.Private {
		if other, ok := entity.OtherUserID(chat.ID, userID); ok {
			msg.RecipientID = other
		} else if second, ok := e.SecondUserID(chat); ok {
			msg.RecipientID = second
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.mergeMessagesLocked(chat, []store.Message{msg}, bus.ChatMessageAdded); err != nil {
		return &msg, err
	}
	return &msg, nil
}

// ReceiveMessage merges a message pushed by the transport. An unknown chat
// triggers a chat list sync first.
func (e *Engine) ReceiveMessage(ctx context.Context, userID string, msg store.Message) error {
	chat, err := e.db.GetChat(msg.ChatID)
	if err != nil {
		return fmt.Errorf("load chat: %w", err)
	}
	if chat == nil {
		if _, err := e.SyncChatList(ctx, userID); err != nil {
			return fmt.Errorf("sync chat list: %w", err)
		}
		if chat, err = e.db.GetChat(msg.ChatID); err != nil {
			return fmt.Errorf("load chat: %w", err)
		}
		if chat == nil {
			e.logger.Warn("message for unknown chat dropped", zap.String("chat_id", msg.ChatID), zap.String("msg_id", msg.ID))
			return nil
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.mergeMessagesLocked(*chat, []store.Message{msg}, bus.ChatMessageAdded)
	return err
}

// SyncAll syncs the chat list and then the newest messages of every chat,
// running at most Options.Concurrency chat syncs at once.
func (e *Engine) SyncAll(ctx context.Context, userID string) (*Summary, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncAllRunning
	}
	defer e.syncing.Store(false)

	start := time.Now()
	if _, err := e.SyncChatList(ctx, userID); err != nil {
		return nil, err
	}
	chats, err := e.db.LoadUserChats(userID)
	if err != nil {
		return nil, fmt.Errorf("load user chats: %w", err)
	}

	var added atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for _, c := range chats {
		g.Go(func() error {
			res, err := e.SyncNewerMessages(gctx, c.ID, userID)
			if err != nil {
				return fmt.Errorf("sync chat %q: %w", c.ID, err)
			}
			added.Add(int64(len(res.Added)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sum := &Summary{UserID: userID, Chats: len(chats), Messages: int(added.Load()), Duration: time.Since(start)}
	e.logger.Info("sync all completed",
		zap.String("user_id", userID),
		zap.Int("chats", sum.Chats),
		zap.Int("messages", sum.Messages),
		zap.Duration("took", sum.Duration))
	if err := e.bus.Publish(bus.Event{Kind: EventSyncCompleted, SubjectID: userID, Payload: *sum}); err != nil {
		e.logger.Warn("sync completed listeners failed", zap.Error(err))
	}
	return sum, nil
}

// IsSyncing reports whether SyncAll is running.
func (e *Engine) IsSyncing() bool {
	return e.syncing.Load()
}

// GetParticipants returns the participants of a chat from the cache.
func (e *Engine) GetParticipants(chatID string) ([]store.User, error) {
	return e.caches.Participants(chatID)
}

// GetParticipantsExcept returns the participants of a chat without userID.
func (e *Engine) GetParticipantsExcept(chatID, userID string) ([]store.User, error) {
	ps, err := e.caches.Participants(chatID)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(ps, func(u store.User) bool { return u.ID == userID }), nil
}

// GetLastMessage returns the newest message of a chat, or nil.
func (e *Engine) GetLastMessage(chatID string) (*store.Message, error) {
	return e.caches.LastMessage(chatID)
}

// SecondUserID returns the second user of a private chat id. It reports
// false for group chats and malformed ids.
func (e *Engine) SecondUserID(chat store.Chat) (string, bool) {
	if !chat.Private {
		return "", false
	}
	return entity.SecondUserID(chat.ID)
}

func (e *Engine) resolveUser(id string) store.User {
	u, err := e.users.GetUser(id)
	if err != nil {
		e.logger.Warn("resolve user failed", zap.String("user_id", id), zap.Error(err))
		return store.User{ID: id, DisplayName: id}
	}
	return u
}

// publish delivers events. Listener failures are logged and returned, but
// the store changes they describe are already committed.
func (e *Engine) publish(events []bus.Event) error {
	if err := e.bus.PublishBatch(events); err != nil {
		e.logger.Error("event listeners failed", zap.Int("events", len(events)), zap.Error(err))
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
