package api

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Engine is the part of the sync engine the API exposes.
type Engine interface {
	SyncAll(ctx context.Context, userID string) (*sync.Summary, error)
	SyncChat(ctx context.Context, chatID, userID string) (*store.MessageMerge, error)
	SyncOlderMessages(ctx context.Context, chatID, userID string) (*store.MessageMerge, error)
	GetLastMessage(chatID string) (*store.Message, error)
	GetParticipants(chatID string) ([]store.User, error)
	GetOrCreatePrivateChat(userID, otherID string) (*store.Chat, error)
	LoadUserChats(userID string) ([]store.Chat, error)
	IsSyncing() bool
	MarkRead(chatID, msgID string) (*store.Message, error)
}

// Outbox queues drafts for sending.
type Outbox interface {
	Queue(chatID, authorID string, draft sync.Draft) (*store.OutboxEntry, error)
}

// Account names the linked transport account.
type Account interface {
	AccountID() string
}

// Service implements ChatSyncServer.
type Service struct {
	profile   string
	startedAt time.Time
	machine   *status.Machine
	engine    Engine
	outbox    Outbox
	account   Account
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewService creates the daemon API service.
func NewService(profile string, machine *status.Machine, engine Engine, ob Outbox, account Account, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		profile:   profile,
		startedAt: time.Now(),
		machine:   machine,
		engine:    engine,
		outbox:    ob,
		account:   account,
		bus:       b,
		logger:    logger,
	}
}

func (s *Service) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snap := s.machine.Snapshot()
	out := map[string]any{
		"profile":   s.profile,
		"state":     string(snap.State),
		"since":     snap.Since.UTC().Format(time.RFC3339),
		"uptime_ms": time.Since(s.startedAt).Milliseconds(),
		"account":   s.account.AccountID(),
		"syncing":   s.engine.IsSyncing(),
	}
	if id := s.account.AccountID(); id != "" {
		if chats, err := s.engine.LoadUserChats(id); err == nil {
			out["chats"] = len(chats)
		}
	}
	return toStruct(out)
}

func (s *Service) SyncAll(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	userID, err := s.userID(req.GetValue())
	if err != nil {
		return nil, err
	}
	sum, err := s.engine.SyncAll(ctx, userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(wire.Summary(*sum))
}

func (s *Service) SyncChat(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.syncMessages(ctx, req.GetValue(), s.engine.SyncChat)
}

func (s *Service) SyncOlder(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.syncMessages(ctx, req.GetValue(), s.engine.SyncOlderMessages)
}

func (s *Service) syncMessages(ctx context.Context, chatID string, fn func(context.Context, string, string) (*store.MessageMerge, error)) (*structpb.Struct, error) {
	if chatID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat id is required")
	}
	userID, err := s.userID("")
	if err != nil {
		return nil, err
	}
	res, err := fn(ctx, chatID, userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(wire.Merge(chatID, res))
}

func (s *Service) GetLastMessage(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	msg, err := s.engine.GetLastMessage(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	if msg == nil {
		return nil, grpcstatus.Errorf(codes.NotFound, "chat %q has no messages", req.GetValue())
	}
	return toStruct(wire.Message(*msg))
}

func (s *Service) GetParticipants(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	users, err := s.engine.GetParticipants(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"chat_id": req.GetValue(), "participants": wire.Users(users)})
}

func (s *Service) OpenPrivateChat(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	userID, err := s.userID("")
	if err != nil {
		return nil, err
	}
	chat, err := s.engine.GetOrCreatePrivateChat(userID, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(wire.Chat(*chat))
}

func (s *Service) SendText(_ context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error) {
	fields := req.GetFields()
	chatID := fields["chat_id"].GetStringValue()
	body := fields["body"].GetStringValue()
	if chatID == "" || body == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id and body are required")
	}
	userID, err := s.userID("")
	if err != nil {
		return nil, err
	}
	entry, err := s.outbox.Queue(chatID, userID, sync.Draft{Body: body, Title: fields["title"].GetStringValue()})
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(entry.ClientMsgID), nil
}

func (s *Service) MarkRead(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	chatID := fields["chat_id"].GetStringValue()
	msgID := fields["message_id"].GetStringValue()
	if chatID == "" || msgID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id and message_id are required")
	}
	msg, err := s.engine.MarkRead(chatID, msgID)
	if err != nil {
		return nil, toStatus(err)
	}
	if msg == nil {
		return nil, grpcstatus.Errorf(codes.NotFound, "message %q not found in chat %q", msgID, chatID)
	}
	return toStruct(wire.Message(*msg))
}

// WatchEvents streams bus events whose kind starts with the requested
// namespace until the client goes away.
func (s *Service) WatchEvents(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	ch, unsub := s.bus.Subscribe(req.GetValue(), 256)
	defer unsub()

	ctx := stream.Context()
	for {
		select {
		case evt := <-ch:
			out, err := toStruct(wire.Event(evt))
			if err != nil {
				s.logger.Warn("event not encodable", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Service) userID(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if id := s.account.AccountID(); id != "" {
		return id, nil
	}
	return "", grpcstatus.Error(codes.FailedPrecondition, "no linked account")
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, sync.ErrSyncAllRunning):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, sync.ErrChatNotPrivate):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, outbox.ErrUnknownChat):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}
