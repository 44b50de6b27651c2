package wa

import (
	"time"

	"github.com/matheus3301/chatsync/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// ParsedMessage is a normalized WhatsApp message, not yet bound to a local
// account.
type ParsedMessage struct {
	Chat        types.JID
	ID          string
	Sender      types.JID
	PushName    string
	Body        string
	MessageType string
	FromMe      bool
	Timestamp   time.Time
}

// ParseLiveMessage normalizes a live whatsmeow message event.
func ParseLiveMessage(evt *events.Message) *ParsedMessage {
	return &ParsedMessage{
		Chat:        evt.Info.Chat.ToNonAD(),
		ID:          evt.Info.ID,
		Sender:      evt.Info.Sender.ToNonAD(),
		PushName:    evt.Info.PushName,
		Body:        extractTextBody(evt.Message),
		MessageType: detectMessageType(evt.Message),
		FromMe:      evt.Info.IsFromMe,
		Timestamp:   evt.Info.Timestamp,
	}
}

// ParseHistoryMessage normalizes one message of a history sync conversation.
// Returns nil for entries without content.
func ParseHistoryMessage(chat types.JID, info *waWeb.WebMessageInfo) *ParsedMessage {
	if info == nil || info.GetMessage() == nil {
		return nil
	}
	key := info.GetKey()
	sender := chat
	if p := key.GetParticipant(); p != "" {
		if jid, err := types.ParseJID(p); err == nil {
			sender = jid
		}
	}
	return &ParsedMessage{
		Chat:        chat.ToNonAD(),
		ID:          key.GetID(),
		Sender:      sender.ToNonAD(),
		PushName:    info.GetPushName(),
		Body:        extractTextBody(info.GetMessage()),
		MessageType: detectMessageType(info.GetMessage()),
		FromMe:      key.GetFromMe(),
		Timestamp:   time.Unix(int64(info.GetMessageTimestamp()), 0),
	}
}

// ToStoreMessage binds the message to account. Outgoing messages are read.
// Non-text messages carry their media type as title.
func (p *ParsedMessage) ToStoreMessage(account string) store.Message {
	m := store.Message{
		ID:        p.ID,
		ChatID:    ChatID(account, p.Chat),
		Body:      p.Body,
		SentAt:    p.Timestamp.UnixMilli(),
		Direction: store.Incoming,
		AuthorID:  UserID(p.Sender),
	}
	if p.MessageType != "text" {
		m.Title = p.MessageType
	}
	if p.FromMe {
		m.Direction = store.Outgoing
		m.AuthorID = account
		m.Read = true
	}
	if !IsGroup(p.Chat) {
		if p.FromMe {
			m.RecipientID = UserID(p.Chat)
		} else {
			m.RecipientID = account
		}
	}
	return m
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetFileName()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}
