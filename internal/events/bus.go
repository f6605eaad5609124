// Package events fans out client activity to observers such as the
// console event log and the /events websocket.
package events

import (
	"sync"
	"time"
)

// Kind classifies an event.
type Kind string

const (
	KindRequest     Kind = "request"      // Target handed to the opener
	KindResult      Kind = "result"       // Callback produced a result
	KindWalletError Kind = "wallet_error" // Wallet answered with an error code
	KindFailure     Kind = "failure"      // Callback could not be decoded or decrypted
	KindState       Kind = "state"        // Session state changed
	KindUnmatched   Kind = "unmatched"    // Callback with no pending request
)

// Event is a single log entry. It never carries key material, ciphertext
// or session tokens.
type Event struct {
	Time      time.Time `json:"time"`
	Kind      Kind      `json:"kind"`
	Method    string    `json:"method,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	State     string    `json:"state,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Code      string    `json:"code,omitempty"`
}

// DropFunc is invoked when an event is not delivered to a slow subscriber.
type DropFunc func()

// Bus delivers every published event to all subscribers. Publishing never
// blocks; a subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	history []Event
	keep    int
	onDrop  DropFunc
	closed  bool
}

// NewBus creates a bus retaining the last keep events for late subscribers.
func NewBus(keep int) *Bus {
	return &Bus{
		subs: make(map[uint64]chan Event),
		keep: keep,
	}
}

// OnDrop registers fn to observe dropped events.
func (b *Bus) OnDrop(fn DropFunc) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Publish stamps and delivers ev.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if b.keep > 0 {
		b.history = append(b.history, ev)
		if len(b.history) > b.keep {
			b.history = b.history[len(b.history)-b.keep:]
		}
	}
	onDrop := b.onDrop
	var dropped int
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	b.mu.Unlock()

	if onDrop != nil {
		for i := 0; i < dropped; i++ {
			onDrop()
		}
	}
}

// Subscribe returns a channel receiving events published from now on and a
// cancel function that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	_, ch, cancel := b.subscribe(buffer, false)
	return ch, cancel
}

// SubscribeWithHistory is Subscribe that also returns the retained events.
// Every event appears exactly once across the history and the channel.
func (b *Bus) SubscribeWithHistory(buffer int) ([]Event, <-chan Event, func()) {
	return b.subscribe(buffer, true)
}

func (b *Bus) subscribe(buffer int, withHistory bool) ([]Event, <-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	var history []Event
	if withHistory {
		history = append([]Event(nil), b.history...)
	}
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return history, ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return history, ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
}

// History returns the retained events, oldest first.
func (b *Bus) History() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Event(nil), b.history...)
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
