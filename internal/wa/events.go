package wa

import (
	"context"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// Event kinds published by the handler. The engine consumes the "wa."
// namespace; the daemon consumes "sync.".
const (
	EventMessage      = "wa.message"
	EventHistoryBatch = "wa.history_batch"
	EventLoggedOut    = "wa.logged_out"
	EventConnected    = "sync.connected"
	EventDisconnected = "sync.disconnected"
)

// Identity names the linked account and maps LIDs to phone number JIDs.
type Identity interface {
	AccountID() string
	ResolveLID(ctx context.Context, jid types.JID) types.JID
}

// EventHandler turns whatsmeow events into state transitions, history
// buffer updates and bus events. It does not call the sync engine.
type EventHandler struct {
	bus      *bus.Bus
	machine  *status.Machine
	history  *History
	identity Identity
	logger   *zap.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(b *bus.Bus, machine *status.Machine, history *History, identity Identity, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{
		bus:      b,
		machine:  machine,
		history:  history,
		identity: identity,
		logger:   logger,
	}
}

// Handle is the whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		switch h.machine.Current() {
		case status.Unpaired, status.Reconnecting, status.Booting:
			h.transition(status.Connecting)
		}
		h.transition(status.Syncing)
		h.publish(bus.Event{Kind: EventConnected, SubjectID: h.identity.AccountID()})
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.transition(status.Reconnecting)
		h.publish(bus.Event{Kind: EventDisconnected})
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.transition(status.Unpaired)
		h.publish(bus.Event{Kind: EventLoggedOut, Payload: evt.Reason.String()})
	}
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	account := h.identity.AccountID()
	parsed := ParseLiveMessage(evt)
	parsed.Chat = h.identity.ResolveLID(context.Background(), parsed.Chat)
	parsed.Sender = h.identity.ResolveLID(context.Background(), parsed.Sender)

	title := ""
	if !IsGroup(parsed.Chat) && !parsed.FromMe {
		title = parsed.PushName
	}
	h.history.AddChat(chatFor(account, parsed.Chat, title, nil))
	msg := parsed.ToStoreMessage(account)
	h.history.AddMessages(msg)

	h.publish(bus.Event{
		Kind:      EventMessage,
		SubjectID: account,
		Payload:   msg,
	})
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}
	account := h.identity.AccountID()
	ctx := context.Background()

	var total int
	for _, conv := range data.GetConversations() {
		chatJID, err := types.ParseJID(conv.GetID())
		if err != nil {
			h.logger.Debug("skipping conversation with bad JID", zap.String("jid", conv.GetID()))
			continue
		}
		chatJID = h.identity.ResolveLID(ctx, chatJID.ToNonAD())

		var members []types.JID
		for _, p := range conv.GetParticipant() {
			if jid, err := types.ParseJID(p.GetUserJID()); err == nil {
				members = append(members, h.identity.ResolveLID(ctx, jid))
			}
		}
		h.history.AddChat(chatFor(account, chatJID, conv.GetName(), members))

		msgs := make([]store.Message, 0, len(conv.GetMessages()))
		for _, hm := range conv.GetMessages() {
			parsed := ParseHistoryMessage(chatJID, hm.GetMessage())
			if parsed == nil {
				continue
			}
			parsed.Sender = h.identity.ResolveLID(ctx, parsed.Sender)
			msgs = append(msgs, parsed.ToStoreMessage(account))
		}
		h.history.AddMessages(msgs...)
		total += len(msgs)
	}

	h.logger.Info("history sync buffered",
		zap.Int("conversations", len(data.GetConversations())),
		zap.Int("messages", total))
	if total > 0 {
		h.publish(bus.Event{Kind: EventHistoryBatch, SubjectID: account, Payload: total})
	}
}

func (h *EventHandler) transition(to status.State) {
	if err := h.machine.Transition(to); err != nil {
		h.logger.Debug("state transition skipped", zap.Error(err))
	}
}

func (h *EventHandler) publish(evt bus.Event) {
	if err := h.bus.Publish(evt); err != nil {
		h.logger.Warn("event listeners failed", zap.String("kind", evt.Kind), zap.Error(err))
	}
}
