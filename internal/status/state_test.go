package status

import (
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Unpaired},
		{Booting, Connecting},
		{Booting, Error},
		{Unpaired, Connecting},
		{Connecting, Syncing},
		{Syncing, Ready},
		{Ready, Syncing},
		{Ready, Reconnecting},
		{Reconnecting, Connecting},
		{Error, Booting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Ready); err == nil {
		t.Error("Transition(BOOTING -> READY) should fail")
	}
	if m.Current() != Booting {
		t.Errorf("state = %s, want BOOTING", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New(nil)
	ch, unsub := b.Subscribe("status.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Unpaired); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != EventStatusChanged {
			t.Errorf("event kind = %q, want %q", evt.Kind, EventStatusChanged)
		}
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		if change.From != Booting || change.To != Unpaired {
			t.Errorf("change = %v -> %v, want BOOTING -> UNPAIRED", change.From, change.To)
		}
	case <-time.After(time.Second):
		t.Fatal("no status event")
	}
}

func TestListenerMayTransition(t *testing.T) {
	b := bus.New(nil)
	m := NewMachine(b)
	b.Listen("status.", bus.ListenerFunc(func(evt bus.Event) error {
		if evt.Payload.(StatusChange).To == Syncing {
			return m.Transition(Ready)
		}
		return nil
	}))

	walkTo(t, m, Syncing)
	if m.Current() != Ready {
		t.Errorf("state = %s, want READY", m.Current())
	}
}

func TestTransitionIf(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Syncing)

	ok, err := m.TransitionIf(Connecting, Ready)
	if ok || err != nil {
		t.Errorf("TransitionIf from wrong state = %v, %v", ok, err)
	}
	ok, err = m.TransitionIf(Syncing, Ready)
	if !ok || err != nil {
		t.Errorf("TransitionIf = %v, %v", ok, err)
	}
	if m.Current() != Ready {
		t.Errorf("state = %s, want READY", m.Current())
	}
}

func TestSnapshotSince(t *testing.T) {
	m := NewMachine(nil)
	before := m.Snapshot()
	time.Sleep(time.Millisecond)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	after := m.Snapshot()
	if after.State != Connecting || !after.Since.After(before.Since) {
		t.Errorf("snapshot = %+v, before %+v", after, before)
	}
}

// Unpaired cannot jump straight to Syncing; pairing reconnects first.
func TestUnpairedToSyncingRequiresConnecting(t *testing.T) {
	m := NewMachine(nil)
	_ = m.Transition(Unpaired)

	if err := m.Transition(Syncing); err == nil {
		t.Fatal("Transition(UNPAIRED -> SYNCING) should fail")
	}
	if m.Current() != Unpaired {
		t.Errorf("state = %s, want UNPAIRED", m.Current())
	}
	if err := m.Transition(Connecting); err != nil {
		t.Fatalf("UNPAIRED -> CONNECTING: %v", err)
	}
	if err := m.Transition(Syncing); err != nil {
		t.Fatalf("CONNECTING -> SYNCING: %v", err)
	}
}

// BOOTING → CONNECTING → SYNCING → READY → RECONNECTING → CONNECTING → SYNCING → READY
func TestDisconnectReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Ready)

	for _, s := range []State{Reconnecting, Connecting, Syncing, Ready} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Ready {
		t.Errorf("final state = %s, want READY", m.Current())
	}
}

func TestLoggedOutFromReady(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Ready)

	if err := m.Transition(Unpaired); err != nil {
		t.Fatalf("READY -> UNPAIRED: %v", err)
	}
}

func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:      {},
		Unpaired:     {Unpaired},
		Connecting:   {Unpaired, Connecting},
		Syncing:      {Connecting, Syncing},
		Ready:        {Connecting, Syncing, Ready},
		Reconnecting: {Connecting, Syncing, Ready, Reconnecting},
		Error:        {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
