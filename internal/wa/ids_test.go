package wa

import (
	"testing"

	"github.com/matheus3301/chatsync/internal/entity"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/sync"
	"go.mau.fi/whatsmeow/types"
)

func TestChatID(t *testing.T) {
	tests := []struct {
		name string
		jid  types.JID
		want string
	}{
		{"private", types.JID{User: "peer", Server: types.DefaultUserServer}, account + "_peer@s.whatsapp.net"},
		{"private device", types.JID{User: "peer", Server: types.DefaultUserServer, Device: 4}, account + "_peer@s.whatsapp.net"},
		{"group", types.JID{User: "120363123456", Server: types.GroupServer}, "120363123456@g.us"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChatID(account, tt.jid); got != tt.want {
				t.Errorf("ChatID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChatJID(t *testing.T) {
	tests := []struct {
		name    string
		chat    store.Chat
		want    string
		wantErr bool
	}{
		{
			name: "realm ref wins",
			chat: store.Chat{ID: "x", Realm: entity.Ref{RealmID: Realm, RealmEntityID: "120363123456@g.us"}},
			want: "120363123456@g.us",
		},
		{
			name: "private derives peer",
			chat: store.Chat{ID: entity.PrivateChatID("peer@s.whatsapp.net", account), Private: true},
			want: "peer@s.whatsapp.net",
		},
		{
			name: "group id",
			chat: store.Chat{ID: "120363123456@g.us"},
			want: "120363123456@g.us",
		},
		{
			name:    "private without peer",
			chat:    store.Chat{ID: "broken", Private: true},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ChatJID(tt.chat, account)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ChatJID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.String() != tt.want {
				t.Errorf("ChatJID() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestChatForPrivateListsAccountFirst(t *testing.T) {
	c := chatFor(account, types.JID{User: "peer", Server: types.DefaultUserServer}, "Peer", nil)
	if !c.Private || c.Title != "Peer" {
		t.Errorf("chat = %+v", c)
	}
	ids := c.ParticipantIDs()
	if len(ids) != 2 || ids[0] != account || ids[1] != "peer@s.whatsapp.net" {
		t.Errorf("participants = %v", ids)
	}
	if c.Participants[1].DisplayName != "Peer" || c.Participants[1].Login != "peer" {
		t.Errorf("peer user = %+v", c.Participants[1])
	}
}

func TestBuildMessage(t *testing.T) {
	plain := buildMessage(sync.Draft{Body: "hello"})
	if plain.GetConversation() != "hello" {
		t.Errorf("plain = %v", plain)
	}

	titled := buildMessage(sync.Draft{Body: "body", Title: "News"})
	if titled.GetConversation() != "*News*\nbody" {
		t.Errorf("titled = %q", titled.GetConversation())
	}

	fwd := buildMessage(sync.Draft{Body: "fwd", Forwarded: []string{"a", "b"}})
	ctx := fwd.GetExtendedTextMessage().GetContextInfo()
	if !ctx.GetIsForwarded() || ctx.GetForwardingScore() != 2 {
		t.Errorf("forwarded context = %v", ctx)
	}
}
