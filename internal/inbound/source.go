// Package inbound collects callback URLs delivered to the process, whether
// present at start-up or arriving later.
package inbound

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrFeedClosed is returned by Push after Close.
var ErrFeedClosed = errors.New("feed closed")

// Delivery is one callback URL and where it came from.
type Delivery struct {
	URL        string
	Origin     string // "initial", "http", "control", ...
	ReceivedAt time.Time
}

// Source supplies callback URLs. Initial reports a URL that was already
// present when the process started; Deliveries yields every later one and
// is closed when the source ends.
type Source interface {
	Initial() (Delivery, bool)
	Deliveries() <-chan Delivery
}

// Feed is a Source that any number of producers push into.
type Feed struct {
	initial    Delivery
	hasInitial bool

	ch     chan Delivery
	mu     sync.RWMutex
	closed bool
}

// NewFeed creates a feed. An empty initial URL means there is none.
func NewFeed(initial string, buffer int) *Feed {
	f := &Feed{ch: make(chan Delivery, buffer)}
	if initial != "" {
		f.initial = Delivery{URL: initial, Origin: "initial", ReceivedAt: time.Now()}
		f.hasInitial = true
	}
	return f
}

// Initial implements Source.
func (f *Feed) Initial() (Delivery, bool) {
	return f.initial, f.hasInitial
}

// Deliveries implements Source.
func (f *Feed) Deliveries() <-chan Delivery {
	return f.ch
}

// Push queues a URL, blocking until there is room or ctx ends.
func (f *Feed) Push(ctx context.Context, raw, origin string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrFeedClosed
	}

	d := Delivery{URL: raw, Origin: origin, ReceivedAt: time.Now()}
	select {
	case f.ch <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the feed. Pushes blocked in progress finish first.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
}

// StaticFeed returns a closed feed holding a fixed set of URLs.
func StaticFeed(initial string, later ...string) *Feed {
	f := NewFeed(initial, len(later))
	now := time.Now()
	for _, raw := range later {
		f.ch <- Delivery{URL: raw, Origin: "static", ReceivedAt: now}
	}
	f.Close()
	return f
}
