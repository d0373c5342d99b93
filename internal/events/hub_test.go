package events

import (
	"testing"
	"time"
)

func TestHub_PublishAndSubscribe(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(Event{Type: TypeDecision, AgentID: "agent-1", Outcome: "allow"})

	select {
	case e := <-ch:
		if e.Type != TypeDecision {
			t.Errorf("type = %s, want decision", e.Type)
		}
		if e.AgentID != "agent-1" {
			t.Errorf("agent = %s, want agent-1", e.AgentID)
		}
		if e.At.IsZero() {
			t.Error("publish did not stamp the event time")
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestHub_FanOut(t *testing.T) {
	hub := NewHub()

	ch1, cancel1 := hub.Subscribe()
	defer cancel1()
	ch2, cancel2 := hub.Subscribe()
	defer cancel2()

	if n := hub.SubscriberCount(); n != 2 {
		t.Fatalf("SubscriberCount = %d, want 2", n)
	}

	hub.Publish(Event{Type: TypeAnomalySignal, AgentID: "agent-1"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != TypeAnomalySignal {
				t.Errorf("subscriber %d: type = %s, want anomaly_signal", i, e.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the event", i)
		}
	}
}

func TestHub_Cancel(t *testing.T) {
	hub := NewHub()

	ch, cancel := hub.Subscribe()
	cancel()
	// Cancel is idempotent.
	cancel()

	if n := hub.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}

	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}

	// Publishing to no subscribers must not panic or block.
	hub.Publish(Event{Type: TypeDecision})
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	// Overfill the buffer without draining. Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Publish(Event{Type: TypeDecision})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	if got := len(ch); got != subscriberBuffer {
		t.Errorf("buffered events = %d, want %d (overflow dropped)", got, subscriberBuffer)
	}
}
