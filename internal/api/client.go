package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client talks to a daemon over its Unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon socket. The connection is established lazily.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient("unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in any) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Status returns the daemon state.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	return c.invoke(ctx, "Status", &emptypb.Empty{})
}

// SyncAll syncs every chat of userID, or of the linked account when empty.
func (c *Client) SyncAll(ctx context.Context, userID string) (map[string]any, error) {
	return c.invoke(ctx, "SyncAll", wrapperspb.String(userID))
}

// SyncChat fetches the newest messages of a chat.
func (c *Client) SyncChat(ctx context.Context, chatID string) (map[string]any, error) {
	return c.invoke(ctx, "SyncChat", wrapperspb.String(chatID))
}

// SyncOlder fetches the page of messages preceding those stored.
func (c *Client) SyncOlder(ctx context.Context, chatID string) (map[string]any, error) {
	return c.invoke(ctx, "SyncOlder", wrapperspb.String(chatID))
}

// GetLastMessage returns the newest message of a chat.
func (c *Client) GetLastMessage(ctx context.Context, chatID string) (map[string]any, error) {
	return c.invoke(ctx, "GetLastMessage", wrapperspb.String(chatID))
}

// GetParticipants returns the participants of a chat.
func (c *Client) GetParticipants(ctx context.Context, chatID string) (map[string]any, error) {
	return c.invoke(ctx, "GetParticipants", wrapperspb.String(chatID))
}

// OpenPrivateChat returns the private chat with otherID, creating it if needed.
func (c *Client) OpenPrivateChat(ctx context.Context, otherID string) (map[string]any, error) {
	return c.invoke(ctx, "OpenPrivateChat", wrapperspb.String(otherID))
}

// SendText queues a message and returns its client message id.
func (c *Client) SendText(ctx context.Context, chatID, body, title string) (string, error) {
	in, err := structpb.NewStruct(map[string]any{"chat_id": chatID, "body": body, "title": title})
	if err != nil {
		return "", err
	}
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, fullMethod("SendText"), in, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// MarkRead marks a stored message as read.
func (c *Client) MarkRead(ctx context.Context, chatID, msgID string) (map[string]any, error) {
	in, err := structpb.NewStruct(map[string]any{"chat_id": chatID, "message_id": msgID})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "MarkRead", in)
}

// WatchEvents calls fn for every event in namespace until ctx ends, the
// stream fails or fn returns an error.
func (c *Client) WatchEvents(ctx context.Context, namespace string, fn func(map[string]any) error) error {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("WatchEvents"))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(wrapperspb.String(namespace)); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		evt := new(structpb.Struct)
		if err := stream.RecvMsg(evt); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(evt.AsMap()); err != nil {
			return err
		}
	}
}
