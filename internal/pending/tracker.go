// Package pending tracks outbound requests awaiting their wallet callback.
package pending

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/postalsys/walletlink/internal/protocol"
)

var (
	// ErrClosed is delivered to every operation still pending on Close.
	ErrClosed = errors.New("tracker closed")

	// ErrTooManyPending is returned when a method already has the maximum
	// number of outstanding requests.
	ErrTooManyPending = errors.New("too many pending requests")

	// ErrSuperseded is delivered to a pending connect when a newer connect
	// replaces the keypair it was built with.
	ErrSuperseded = errors.New("superseded by a newer request")
)

// Request describes an operation to track.
type Request struct {
	Method protocol.Method
	ID     string // Correlation id, empty when correlation is off

	// Message is the signMessage input, kept to verify the signature.
	Message []byte
}

// Operation is the handle for one outstanding request.
type Operation struct {
	req       Request
	createdAt time.Time
	tracker   *Tracker

	once   sync.Once
	done   chan struct{}
	result protocol.Result
	err    error
}

// ID returns the correlation id.
func (o *Operation) ID() string { return o.req.ID }

// Method returns the operation kind.
func (o *Operation) Method() protocol.Method { return o.req.Method }

// Message returns the signMessage input, if any.
func (o *Operation) Message() []byte { return o.req.Message }

// CreatedAt returns when the request was registered.
func (o *Operation) CreatedAt() time.Time { return o.createdAt }

// Done is closed once the operation completes.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Result returns the outcome. Only valid after Done is closed.
func (o *Operation) Result() (protocol.Result, error) {
	return o.result, o.err
}

// Wait blocks until the callback arrives or ctx ends. A cancelled wait
// withdraws the operation so a later callback cannot resolve it.
func (o *Operation) Wait(ctx context.Context) (protocol.Result, error) {
	select {
	case <-o.done:
		return o.result, o.err
	case <-ctx.Done():
		if o.tracker != nil {
			o.tracker.remove(o)
		}
		o.Complete(nil, ctx.Err())
		<-o.done
		return o.result, o.err
	}
}

// Complete records the outcome. Only the first call has effect; it reports
// whether this call was the one that completed the operation.
func (o *Operation) Complete(res protocol.Result, err error) bool {
	completed := false
	o.once.Do(func() {
		o.result = res
		o.err = err
		close(o.done)
		completed = true
	})
	return completed
}

// Info is a point-in-time description of a pending operation.
type Info struct {
	Method    protocol.Method
	ID        string
	CreatedAt time.Time
}

// Tracker holds pending operations, indexed by correlation id and by
// method in arrival order.
type Tracker struct {
	mu        sync.Mutex
	byID      map[string]*Operation
	byMethod  map[protocol.Method][]*Operation
	maxPerKey int
	closed    bool
}

// NewTracker creates a tracker. maxPerMethod <= 0 means unlimited.
func NewTracker(maxPerMethod int) *Tracker {
	return &Tracker{
		byID:      make(map[string]*Operation),
		byMethod:  make(map[protocol.Method][]*Operation),
		maxPerKey: maxPerMethod,
	}
}

// Add registers a request and returns its handle.
func (t *Tracker) Add(req Request) (*Operation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	if t.maxPerKey > 0 && len(t.byMethod[req.Method]) >= t.maxPerKey {
		return nil, ErrTooManyPending
	}

	op := &Operation{
		req:       req,
		createdAt: time.Now(),
		tracker:   t,
		done:      make(chan struct{}),
	}
	if req.ID != "" {
		t.byID[req.ID] = op
	}
	t.byMethod[req.Method] = append(t.byMethod[req.Method], op)
	return op, nil
}

// Take removes and returns the operation a callback answers. With an id
// the match is exact; without one the oldest operation of the method is
// taken, which is ambiguous when several are outstanding.
func (t *Tracker) Take(method protocol.Method, id string) (*Operation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var op *Operation
	if id != "" {
		op = t.byID[id]
		if op == nil || (method != protocol.MethodUnknown && op.req.Method != method) {
			return nil, false
		}
	} else {
		queue := t.byMethod[method]
		if len(queue) == 0 {
			return nil, false
		}
		op = queue[0]
	}

	t.removeLocked(op)
	return op, true
}

// CancelMethod completes every pending operation of method with err.
func (t *Tracker) CancelMethod(method protocol.Method, err error) int {
	t.mu.Lock()
	ops := append([]*Operation(nil), t.byMethod[method]...)
	for _, op := range ops {
		t.removeLocked(op)
	}
	t.mu.Unlock()

	for _, op := range ops {
		op.Complete(nil, err)
	}
	return len(ops)
}

// Cancel withdraws op and completes it with err. It reports whether op was
// still pending.
func (t *Tracker) Cancel(op *Operation, err error) bool {
	t.remove(op)
	return op.Complete(nil, err)
}

// Len returns the number of pending operations.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, q := range t.byMethod {
		n += len(q)
	}
	return n
}

// Pending lists pending operations, oldest first.
func (t *Tracker) Pending() []Info {
	t.mu.Lock()
	var out []Info
	for _, q := range t.byMethod {
		for _, op := range q {
			out = append(out, Info{Method: op.req.Method, ID: op.req.ID, CreatedAt: op.createdAt})
		}
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Close completes all pending operations with ErrClosed and rejects new ones.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	var ops []*Operation
	for _, q := range t.byMethod {
		ops = append(ops, q...)
	}
	t.byID = make(map[string]*Operation)
	t.byMethod = make(map[protocol.Method][]*Operation)
	t.mu.Unlock()

	for _, op := range ops {
		op.Complete(nil, ErrClosed)
	}
}

func (t *Tracker) remove(op *Operation) {
	t.mu.Lock()
	t.removeLocked(op)
	t.mu.Unlock()
}

func (t *Tracker) removeLocked(op *Operation) {
	if op.req.ID != "" && t.byID[op.req.ID] == op {
		delete(t.byID, op.req.ID)
	}
	queue := t.byMethod[op.req.Method]
	for i, o := range queue {
		if o == op {
			t.byMethod[op.req.Method] = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}
	if len(t.byMethod[op.req.Method]) == 0 {
		delete(t.byMethod, op.req.Method)
	}
}
