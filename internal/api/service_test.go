package api

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/reconcile"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/sync"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

type fakeEngine struct {
	syncAllErr error
	lastUserID string
}

func (f *fakeEngine) SyncAll(_ context.Context, userID string) (*sync.Summary, error) {
	f.lastUserID = userID
	if f.syncAllErr != nil {
		return nil, f.syncAllErr
	}
	return &sync.Summary{UserID: userID, Chats: 2, Messages: 7, Duration: time.Second}, nil
}

func (f *fakeEngine) SyncChat(_ context.Context, chatID, _ string) (*store.MessageMerge, error) {
	return &store.MessageMerge{Result: reconcile.Result[store.Message, string]{
		Added: []store.Message{{ID: "m1", ChatID: chatID}},
	}}, nil
}

func (f *fakeEngine) SyncOlderMessages(_ context.Context, _, _ string) (*store.MessageMerge, error) {
	return &store.MessageMerge{}, nil
}

func (f *fakeEngine) GetLastMessage(chatID string) (*store.Message, error) {
	if chatID == "empty" {
		return nil, nil
	}
	return &store.Message{ID: "m9", ChatID: chatID, Body: "latest", SentAt: 99, Direction: store.Incoming}, nil
}

func (f *fakeEngine) GetParticipants(_ string) ([]store.User, error) {
	return []store.User{{ID: "U1", DisplayName: "One"}, {ID: "U2", DisplayName: "Two"}}, nil
}

func (f *fakeEngine) GetOrCreatePrivateChat(userID, otherID string) (*store.Chat, error) {
	if userID == otherID {
		return nil, sync.ErrChatNotPrivate
	}
	return &store.Chat{ID: userID + "_" + otherID, Private: true,
		Participants: []store.User{{ID: userID}, {ID: otherID}}}, nil
}

func (f *fakeEngine) LoadUserChats(_ string) ([]store.Chat, error) {
	return []store.Chat{{ID: "a"}, {ID: "b"}}, nil
}

func (f *fakeEngine) IsSyncing() bool { return false }

func (f *fakeEngine) MarkRead(chatID, msgID string) (*store.Message, error) {
	if msgID == "gone" {
		return nil, nil
	}
	return &store.Message{ID: msgID, ChatID: chatID, Read: true, Direction: store.Incoming}, nil
}

type fakeOutbox struct{}

func (fakeOutbox) Queue(chatID, authorID string, draft sync.Draft) (*store.OutboxEntry, error) {
	if chatID == "missing" {
		return nil, outbox.ErrUnknownChat
	}
	return &store.OutboxEntry{ClientMsgID: "client-" + draft.Body, ChatID: chatID, AuthorID: authorID}, nil
}

type fakeAccount string

func (a fakeAccount) AccountID() string { return string(a) }

func startServer(t *testing.T, engine Engine, account Account) (*Client, *bus.Bus) {
	t.Helper()
	b := bus.New(nil)
	svc := NewService("test", status.NewMachine(b), engine, fakeOutbox{}, account, b, nil)

	sock := filepath.Join(t.TempDir(), "api.sock")
	lis, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	srv := grpc.NewServer()
	srv.RegisterService(&ServiceDesc, svc)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := Dial(sock)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, b
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStatusRoundTrip(t *testing.T) {
	c, _ := startServer(t, &fakeEngine{}, fakeAccount("U1"))

	got, err := c.Status(testCtx(t))
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if got["profile"] != "test" || got["state"] != "BOOTING" || got["account"] != "U1" {
		t.Errorf("Status() = %v", got)
	}
	// structpb numbers decode as float64.
	if got["chats"] != float64(2) {
		t.Errorf("chats = %v, want 2", got["chats"])
	}
}

func TestSyncCalls(t *testing.T) {
	engine := &fakeEngine{}
	c, _ := startServer(t, engine, fakeAccount("U1"))
	ctx := testCtx(t)

	sum, err := c.SyncAll(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if sum["messages"] != float64(7) || engine.lastUserID != "U1" {
		t.Errorf("SyncAll() = %v for %q", sum, engine.lastUserID)
	}

	res, err := c.SyncChat(ctx, "U1_U2")
	if err != nil {
		t.Fatal(err)
	}
	if res["added"] != float64(1) || res["chat_id"] != "U1_U2" {
		t.Errorf("SyncChat() = %v", res)
	}

	if _, err := c.SyncOlder(ctx, ""); grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("SyncOlder(\"\") code = %v, want InvalidArgument", grpcstatus.Code(err))
	}
}

func TestSyncAllRunningMapsToFailedPrecondition(t *testing.T) {
	c, _ := startServer(t, &fakeEngine{syncAllErr: sync.ErrSyncAllRunning}, fakeAccount("U1"))

	_, err := c.SyncAll(testCtx(t), "")
	if grpcstatus.Code(err) != codes.FailedPrecondition {
		t.Errorf("code = %v, want FailedPrecondition", grpcstatus.Code(err))
	}
}

func TestUnpairedAccount(t *testing.T) {
	c, _ := startServer(t, &fakeEngine{}, fakeAccount(""))

	_, err := c.SyncChat(testCtx(t), "chat")
	if grpcstatus.Code(err) != codes.FailedPrecondition {
		t.Errorf("code = %v, want FailedPrecondition", grpcstatus.Code(err))
	}
}

func TestReadCalls(t *testing.T) {
	c, _ := startServer(t, &fakeEngine{}, fakeAccount("U1"))
	ctx := testCtx(t)

	last, err := c.GetLastMessage(ctx, "U1_U2")
	if err != nil {
		t.Fatal(err)
	}
	if last["id"] != "m9" || last["body"] != "latest" {
		t.Errorf("GetLastMessage() = %v", last)
	}
	if _, err := c.GetLastMessage(ctx, "empty"); grpcstatus.Code(err) != codes.NotFound {
		t.Errorf("empty chat code = %v, want NotFound", grpcstatus.Code(err))
	}

	parts, err := c.GetParticipants(ctx, "U1_U2")
	if err != nil {
		t.Fatal(err)
	}
	list, ok := parts["participants"].([]any)
	if !ok || len(list) != 2 {
		t.Errorf("participants = %v", parts["participants"])
	}

	chat, err := c.OpenPrivateChat(ctx, "U2")
	if err != nil {
		t.Fatal(err)
	}
	if chat["id"] != "U1_U2" || chat["private"] != true {
		t.Errorf("OpenPrivateChat() = %v", chat)
	}
	if _, err := c.OpenPrivateChat(ctx, "U1"); grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("self chat code = %v, want InvalidArgument", grpcstatus.Code(err))
	}
}

func TestSendText(t *testing.T) {
	c, _ := startServer(t, &fakeEngine{}, fakeAccount("U1"))
	ctx := testCtx(t)

	id, err := c.SendText(ctx, "U1_U2", "hi", "")
	if err != nil {
		t.Fatal(err)
	}
	if id != "client-hi" {
		t.Errorf("SendText() = %q", id)
	}
	if _, err := c.SendText(ctx, "missing", "hi", ""); grpcstatus.Code(err) != codes.NotFound {
		t.Errorf("missing chat code = %v, want NotFound", grpcstatus.Code(err))
	}
	if _, err := c.SendText(ctx, "U1_U2", "", ""); grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("empty body code = %v, want InvalidArgument", grpcstatus.Code(err))
	}
}

func TestMarkRead(t *testing.T) {
	c, _ := startServer(t, &fakeEngine{}, fakeAccount("U1"))
	ctx := testCtx(t)

	got, err := c.MarkRead(ctx, "U1_U2", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got["id"] != "m1" || got["read"] != true {
		t.Errorf("MarkRead() = %v", got)
	}
	if _, err := c.MarkRead(ctx, "U1_U2", "gone"); grpcstatus.Code(err) != codes.NotFound {
		t.Errorf("missing message code = %v, want NotFound", grpcstatus.Code(err))
	}
	if _, err := c.MarkRead(ctx, "U1_U2", ""); grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("empty id code = %v, want InvalidArgument", grpcstatus.Code(err))
	}
}

func TestWatchEvents(t *testing.T) {
	c, b := startServer(t, &fakeEngine{}, fakeAccount("U1"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan map[string]any, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.WatchEvents(ctx, bus.ChatNamespace, func(evt map[string]any) error {
			got <- evt
			return errors.New("stop")
		})
	}()

	// Publish until the subscription is live; events before it are missed.
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case evt := <-got:
			if evt["kind"] != bus.ChatMessageAdded || evt["subject_id"] != "U1_U2" {
				t.Errorf("event = %v", evt)
			}
			payload, _ := evt["payload"].(map[string]any)
			if payload["id"] != "m1" {
				t.Errorf("payload = %v", evt["payload"])
			}
			if err := <-done; err == nil || err.Error() != "stop" {
				t.Errorf("WatchEvents() error = %v, want stop", err)
			}
			return
		case <-tick.C:
			_ = b.Publish(bus.Event{Kind: bus.UserChanged, SubjectID: "U1"})
			_ = b.Publish(bus.Event{Kind: bus.ChatMessageAdded, SubjectID: "U1_U2",
				Payload: store.Message{ID: "m1", ChatID: "U1_U2"}})
		case <-ctx.Done():
			t.Fatal("no event received")
		}
	}
}
