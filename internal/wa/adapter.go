package wa

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/sync"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotPaired is returned by transport calls before a device is linked.
var ErrNotPaired = errors.New("whatsapp device not paired")

// Adapter wraps the whatsmeow client. It serves the sync engine from the
// history buffer and sends through the live connection.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	history   *History
	logger    *zap.Logger
}

// NewAdapter opens the device store of a profile.
func NewAdapter(ctx context.Context, profile string, history *History, logger *zap.Logger) (*Adapter, error) {
	wastore.SetOSInfo("chatsync", [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", session.TransportDBPath(profile)),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	return &Adapter{
		client:    whatsmeow.NewClient(device, nil),
		container: container,
		history:   history,
		logger:    logger,
	}, nil
}

// IsLoggedIn returns whether the device has credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client != nil && a.client.Store.ID != nil
}

// AccountID returns the local user id of the linked account, or "".
func (a *Adapter) AccountID() string {
	if !a.IsLoggedIn() {
		return ""
	}
	return UserID(*a.client.Store.ID)
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// FetchChatList returns the buffered chats plus the groups the account
// belongs to. WhatsApp only pushes history once per pairing, so the list
// is never complete.
func (a *Adapter) FetchChatList(ctx context.Context, userID string) (sync.ChatList, error) {
	if !a.IsLoggedIn() {
		return sync.ChatList{}, ErrNotPaired
	}
	groups, err := a.client.GetJoinedGroups(ctx)
	if err != nil {
		return sync.ChatList{}, fmt.Errorf("get joined groups: %w", err)
	}
	for _, g := range groups {
		members := make([]types.JID, 0, len(g.Participants))
		for _, p := range g.Participants {
			members = append(members, a.ResolveLID(ctx, p.JID))
		}
		a.history.AddChat(chatFor(userID, g.JID, g.Name, members))
	}
	return a.history.ChatList(), nil
}

// FetchNewerMessages returns the newest buffered page of a chat.
func (a *Adapter) FetchNewerMessages(_ context.Context, chatID, _ string) ([]store.Message, error) {
	if !a.IsLoggedIn() {
		return nil, ErrNotPaired
	}
	return a.history.Newest(chatID), nil
}

// FetchOlderMessages returns the page preceding the newest offset messages.
func (a *Adapter) FetchOlderMessages(_ context.Context, chatID, _ string, offset int) ([]store.Message, error) {
	if !a.IsLoggedIn() {
		return nil, ErrNotPaired
	}
	return a.history.Older(chatID, offset), nil
}

// SendMessage delivers a draft and returns the server message id.
func (a *Adapter) SendMessage(ctx context.Context, chat store.Chat, draft sync.Draft) (string, error) {
	if !a.IsLoggedIn() {
		return "", ErrNotPaired
	}
	to, err := ChatJID(chat, a.AccountID())
	if err != nil {
		return "", err
	}
	resp, err := a.client.SendMessage(ctx, to, buildMessage(draft))
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

func buildMessage(draft sync.Draft) *waE2E.Message {
	text := draft.Body
	if draft.Title != "" {
		text = "*" + draft.Title + "*\n" + text
	}
	if len(draft.Forwarded) == 0 {
		return &waE2E.Message{Conversation: proto.String(text)}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(strings.TrimSpace(text)),
			ContextInfo: &waE2E.ContextInfo{
				IsForwarded:     proto.Bool(true),
				ForwardingScore: proto.Uint32(uint32(len(draft.Forwarded))),
			},
		},
	}
}

// Contacts returns the address book of the device store as users.
func (a *Adapter) Contacts(ctx context.Context) ([]store.User, error) {
	if !a.IsLoggedIn() {
		return nil, ErrNotPaired
	}
	all, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("get contacts: %w", err)
	}
	users := make([]store.User, 0, len(all))
	for jid, info := range all {
		name := info.FullName
		if name == "" {
			name = info.PushName
		}
		u := userFor(a.ResolveLID(ctx, jid), name)
		if info.PushName != "" {
			u.Properties = map[string]string{"push_name": info.PushName}
		}
		users = append(users, u)
	}
	return users, nil
}

// ResolveLID resolves a LID JID to its phone number JID using the device
// store mapping. Returns jid unchanged when it is not a LID or has no mapping.
func (a *Adapter) ResolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if a.client == nil || a.client.Store == nil || a.client.Store.LIDs == nil {
		return jid
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}
