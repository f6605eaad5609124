package inbound

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFeed_Initial(t *testing.T) {
	f := NewFeed("walletlink://onConnect?x=1", 1)
	d, ok := f.Initial()
	if !ok || d.URL != "walletlink://onConnect?x=1" || d.Origin != "initial" {
		t.Errorf("Initial() = %+v, %v", d, ok)
	}

	if _, ok := NewFeed("", 1).Initial(); ok {
		t.Error("Initial() reported a URL for an empty feed")
	}
}

func TestFeed_PushAndClose(t *testing.T) {
	f := NewFeed("", 2)
	ctx := context.Background()

	if err := f.Push(ctx, "a", "http"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := f.Push(ctx, "b", "control"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	f.Close()
	f.Close()

	if err := f.Push(ctx, "c", "http"); !errors.Is(err, ErrFeedClosed) {
		t.Errorf("Push() after Close error = %v, want ErrFeedClosed", err)
	}

	var got []string
	for d := range f.Deliveries() {
		got = append(got, d.URL+"@"+d.Origin)
	}
	if len(got) != 2 || got[0] != "a@http" || got[1] != "b@control" {
		t.Errorf("deliveries = %v", got)
	}
}

func TestFeed_PushHonoursContext(t *testing.T) {
	f := NewFeed("", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := f.Push(ctx, "a", "http"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Push() error = %v, want DeadlineExceeded", err)
	}
}

func TestStaticFeed(t *testing.T) {
	f := StaticFeed("first", "second", "third")

	if d, ok := f.Initial(); !ok || d.URL != "first" {
		t.Errorf("Initial() = %+v, %v", d, ok)
	}
	var n int
	for range f.Deliveries() {
		n++
	}
	if n != 2 {
		t.Errorf("delivered %d, want 2", n)
	}
}
