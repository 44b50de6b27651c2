package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chatsync.v1.ChatSync"

// ChatSyncServer is the daemon API. Requests and responses are protobuf
// well-known types, so no generated code is needed on either side.
type ChatSyncServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SyncAll(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	SyncChat(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	SyncOlder(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetLastMessage(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetParticipants(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	OpenPrivateChat(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	SendText(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	MarkRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*wrapperspb.StringValue, grpc.ServerStream) error
}

// ServiceDesc describes ChatSyncServer to grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", ChatSyncServer.Status),
		unary("SyncAll", ChatSyncServer.SyncAll),
		unary("SyncChat", ChatSyncServer.SyncChat),
		unary("SyncOlder", ChatSyncServer.SyncOlder),
		unary("GetLastMessage", ChatSyncServer.GetLastMessage),
		unary("GetParticipants", ChatSyncServer.GetParticipants),
		unary("OpenPrivateChat", ChatSyncServer.OpenPrivateChat),
		unary("SendText", ChatSyncServer.SendText),
		unary("MarkRead", ChatSyncServer.MarkRead),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "chatsync/v1/chatsync.proto",
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req any, PReq interface {
	*Req
	proto.Message
}, Resp proto.Message](name string, call func(ChatSyncServer, context.Context, PReq) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ChatSyncServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(PReq))
			})
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatSyncServer).WatchEvents(in, stream)
}
