package wa

import (
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestExtractTextBody(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil message", nil, ""},
		{"conversation", &waE2E.Message{Conversation: proto.String("hello")}, "hello"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("extended")}}, "extended"},
		{"image without caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, ""},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")}}, "look"},
		{"document name", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{FileName: proto.String("a.pdf")}}, "a.pdf"},
		{"empty conversation", &waE2E.Message{Conversation: proto.String("")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractTextBody(tt.msg); got != tt.want {
				t.Errorf("extractTextBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectMessageType(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil", nil, "unknown"},
		{"text conversation", &waE2E.Message{Conversation: proto.String("hi")}, "text"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hi")}}, "text"},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, "image"},
		{"video", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{}}, "video"},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, "audio"},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{}}, "document"},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, "sticker"},
		{"contact", &waE2E.Message{ContactMessage: &waE2E.ContactMessage{}}, "contact"},
		{"location", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{}}, "location"},
		{"empty message", &waE2E.Message{}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectMessageType(tt.msg); got != tt.want {
				t.Errorf("detectMessageType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLiveMessage(t *testing.T) {
	ts := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	evt := &events.Message{
		Info: types.MessageInfo{
			PushName:  "Alice",
			Timestamp: ts,
			MessageSource: types.MessageSource{
				Chat:     types.JID{User: "chat", Server: types.DefaultUserServer, Device: 2},
				Sender:   types.JID{User: "sender", Server: types.DefaultUserServer, Device: 7},
				IsFromMe: true,
			},
			ID: "MSG123",
		},
		Message: &waE2E.Message{Conversation: proto.String("hello world")},
	}

	p := ParseLiveMessage(evt)

	if p.Chat.String() != "chat@s.whatsapp.net" || p.Sender.String() != "sender@s.whatsapp.net" {
		t.Errorf("chat/sender = %s/%s, want device suffix stripped", p.Chat, p.Sender)
	}
	if p.ID != "MSG123" || p.PushName != "Alice" || p.Body != "hello world" || p.MessageType != "text" {
		t.Errorf("parsed = %+v", p)
	}
	if !p.FromMe || !p.Timestamp.Equal(ts) {
		t.Errorf("FromMe/Timestamp = %v/%v", p.FromMe, p.Timestamp)
	}
}

func TestParseHistoryMessage(t *testing.T) {
	chat := types.JID{User: "120363123456", Server: types.GroupServer}
	ts := uint64(1_700_000_000)

	if ParseHistoryMessage(chat, nil) != nil {
		t.Error("nil info should parse to nil")
	}
	if ParseHistoryMessage(chat, &waWeb.WebMessageInfo{}) != nil {
		t.Error("info without message should parse to nil")
	}

	p := ParseHistoryMessage(chat, &waWeb.WebMessageInfo{
		Key: &waCommon.MessageKey{
			ID:          proto.String("h1"),
			Participant: proto.String("558592403672:2@s.whatsapp.net"),
		},
		MessageTimestamp: &ts,
		Message:          &waE2E.Message{VideoMessage: &waE2E.VideoMessage{Caption: proto.String("clip")}},
	})
	if p == nil {
		t.Fatal("ParseHistoryMessage() = nil")
	}
	if p.Sender.String() != "558592403672@s.whatsapp.net" {
		t.Errorf("Sender = %s", p.Sender)
	}
	if p.Body != "clip" || p.MessageType != "video" || p.Timestamp.Unix() != 1_700_000_000 {
		t.Errorf("parsed = %+v", p)
	}
}

func TestToStoreMessage(t *testing.T) {
	peer := types.JID{User: "peer", Server: types.DefaultUserServer}
	group := types.JID{User: "120363123456", Server: types.GroupServer}
	ts := time.UnixMilli(42_000)

	tests := []struct {
		name string
		p    ParsedMessage
		want store.Message
	}{
		{
			name: "private incoming",
			p:    ParsedMessage{Chat: peer, ID: "m1", Sender: peer, Body: "hi", MessageType: "text", Timestamp: ts},
			want: store.Message{
				ID: "m1", ChatID: account + "_peer@s.whatsapp.net",
				AuthorID: "peer@s.whatsapp.net", RecipientID: account,
				Body: "hi", SentAt: 42_000, Direction: store.Incoming,
			},
		},
		{
			name: "private outgoing",
			p:    ParsedMessage{Chat: peer, ID: "m2", Sender: peer, Body: "yo", MessageType: "text", FromMe: true, Timestamp: ts},
			want: store.Message{
				ID: "m2", ChatID: account + "_peer@s.whatsapp.net",
				AuthorID: account, RecipientID: "peer@s.whatsapp.net",
				Body: "yo", SentAt: 42_000, Direction: store.Outgoing, Read: true,
			},
		},
		{
			name: "group media",
			p:    ParsedMessage{Chat: group, ID: "m3", Sender: peer, MessageType: "image", Timestamp: ts},
			want: store.Message{
				ID: "m3", ChatID: "120363123456@g.us",
				AuthorID: "peer@s.whatsapp.net", Title: "image",
				SentAt: 42_000, Direction: store.Incoming,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.ToStoreMessage(account); !got.Equal(tt.want) {
				t.Errorf("ToStoreMessage() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
