package bus

import (
	"errors"
	"slices"
	"testing"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPublishSubscribe(t *testing.T) {
	b := New(nil)
	ch, unsub := b.Subscribe("chat.", 10)
	defer unsub()

	if err := b.Publish(Event{Kind: ChatCreated, SubjectID: "c1"}); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != ChatCreated {
			t.Errorf("got kind %q, want %s", evt.Kind, ChatCreated)
		}
		if evt.ID == "" || evt.Timestamp.IsZero() {
			t.Errorf("event id/timestamp not filled: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New(nil)
	var got []string
	unsub := b.Listen(UserNamespace, ListenerFunc(func(evt Event) error {
		got = append(got, evt.Kind)
		return nil
	}))
	defer unsub()

	_ = b.Publish(Event{Kind: ChatChanged})
	_ = b.Publish(Event{Kind: UserChanged})

	if !slices.Equal(got, []string{UserChanged}) {
		t.Errorf("got %v, want [%s]", got, UserChanged)
	}
}

func TestBatchOrderPerListener(t *testing.T) {
	b := New(nil)
	var first, second []string
	b.Listen(All, ListenerFunc(func(evt Event) error { first = append(first, evt.SubjectID); return nil }))
	b.Listen(All, ListenerFunc(func(evt Event) error { second = append(second, evt.SubjectID); return nil }))

	_ = b.PublishBatch([]Event{{Kind: ChatCreated, SubjectID: "a"}, {Kind: ChatCreated, SubjectID: "b"}, {Kind: ChatChanged, SubjectID: "c"}})

	want := []string{"a", "b", "c"}
	if !slices.Equal(first, want) || !slices.Equal(second, want) {
		t.Errorf("first = %v second = %v, want %v", first, second, want)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New(nil)
	ch, unsub := b.Subscribe("chat.", 10)
	unsub()
	unsub() // idempotent

	_ = b.Publish(Event{Kind: ChatChanged})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	b := New(zap.New(core))
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	// Fill buffer.
	_ = b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	_ = b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
	if n := logs.FilterMessage("event dropped, subscriber full").Len(); n != 1 {
		t.Errorf("drop warnings = %d, want 1", n)
	}
}

func TestSnapshotDelivery(t *testing.T) {
	b := New(nil)
	var late int
	var unsubSecond func()
	secondCalls := 0

	b.Listen(All, ListenerFunc(func(evt Event) error {
		// Subscribing mid-delivery must not see the in-flight batch, and
		// unsubscribing must not cancel delivery already in progress.
		b.Listen(All, ListenerFunc(func(Event) error { late++; return nil }))
		if unsubSecond != nil {
			unsubSecond()
		}
		return nil
	}))
	unsubSecond = b.Listen(All, ListenerFunc(func(Event) error { secondCalls++; return nil }))

	_ = b.PublishBatch([]Event{{Kind: "x"}, {Kind: "y"}})

	if late != 0 {
		t.Errorf("late listener got %d events, want 0", late)
	}
	if secondCalls != 2 {
		t.Errorf("removed listener got %d events, want 2", secondCalls)
	}
}

func TestListenerFailuresAreIsolated(t *testing.T) {
	b := New(nil)
	boom := errors.New("boom")
	delivered := 0

	b.Listen(All, ListenerFunc(func(Event) error { return boom }))
	b.Listen(All, ListenerFunc(func(Event) error { panic("bad listener") }))
	b.Listen(All, ListenerFunc(func(Event) error { delivered++; return nil }))

	err := b.PublishBatch([]Event{{Kind: "a"}, {Kind: "b"}})
	if delivered != 2 {
		t.Errorf("healthy listener got %d events, want 2", delivered)
	}
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want to wrap boom", err)
	}
	if n := len(multierr.Errors(err)); n != 4 {
		t.Errorf("aggregated %d errors, want 4", n)
	}
}

func TestReentrantPublish(t *testing.T) {
	b := New(nil)
	var derived []string
	b.Listen(ChatNamespace, ListenerFunc(func(evt Event) error {
		if evt.Kind == ChatMessageAdded {
			return b.Publish(Event{Kind: ChatLastMessageChanged, SubjectID: evt.SubjectID})
		}
		derived = append(derived, evt.Kind)
		return nil
	}))

	if err := b.Publish(Event{Kind: ChatMessageAdded, SubjectID: "c1"}); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(derived, []string{ChatLastMessageChanged}) {
		t.Errorf("derived = %v", derived)
	}
}
