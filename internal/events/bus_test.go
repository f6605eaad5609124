package events

import (
	"strconv"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBus(0)
	ch, cancel := b.Subscribe(4)
	defer cancel()

	b.Publish(Event{Kind: KindRequest, Method: "connect"})

	select {
	case ev := <-ch:
		if ev.Kind != KindRequest || ev.Method != "connect" {
			t.Errorf("event = %+v", ev)
		}
		if ev.Time.IsZero() {
			t.Error("Publish() did not stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := NewBus(0)
	var dropped int
	b.OnDrop(func() { dropped++ })

	_, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(Event{Kind: KindState})
	b.Publish(Event{Kind: KindState})
	b.Publish(Event{Kind: KindState})

	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
}

func TestCancelClosesChannel(t *testing.T) {
	b := NewBus(0)
	ch, cancel := b.Subscribe(1)

	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
	if b.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", b.Subscribers())
	}
	b.Publish(Event{Kind: KindState})
}

func TestHistory(t *testing.T) {
	b := NewBus(2)
	b.Publish(Event{Message: "one"})
	b.Publish(Event{Message: "two"})
	b.Publish(Event{Message: "three"})

	h := b.History()
	if len(h) != 2 || h[0].Message != "two" || h[1].Message != "three" {
		t.Errorf("History() = %+v", h)
	}
}

func TestClose(t *testing.T) {
	b := NewBus(0)
	ch, cancel := b.Subscribe(1)
	b.Close()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel still open after Close")
	}

	late, _ := b.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("subscribe after Close returned an open channel")
	}
}

func TestSubscribeWithHistory_NoGapsOrRepeats(t *testing.T) {
	const total = 1000
	b := NewBus(total)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			if i == total/2 {
				close(started)
			}
			b.Publish(Event{Message: strconv.Itoa(i)})
		}
	}()

	<-started
	history, ch, cancel := b.SubscribeWithHistory(total)
	defer cancel()
	<-done

	seen := append([]Event(nil), history...)
	for len(seen) < total {
		select {
		case ev := <-ch:
			seen = append(seen, ev)
		case <-time.After(time.Second):
			t.Fatalf("got %d events, want %d", len(seen), total)
		}
	}
	select {
	case ev := <-ch:
		t.Fatalf("extra event %q", ev.Message)
	default:
	}

	for i, ev := range seen {
		if ev.Message != strconv.Itoa(i) {
			t.Fatalf("event %d = %q, want %d", i, ev.Message, i)
		}
	}
}

func TestSubscribeWithHistory_Closed(t *testing.T) {
	b := NewBus(4)
	b.Publish(Event{Message: "kept"})
	b.Close()

	history, ch, _ := b.SubscribeWithHistory(1)
	if len(history) != 1 || history[0].Message != "kept" {
		t.Errorf("history = %+v", history)
	}
	if _, ok := <-ch; ok {
		t.Error("channel open after Close")
	}
}
