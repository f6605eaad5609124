package pending

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/postalsys/walletlink/internal/protocol"
)

func TestTakeByID(t *testing.T) {
	tr := NewTracker(0)

	a, _ := tr.Add(Request{Method: protocol.MethodSignTransaction, ID: "a"})
	b, _ := tr.Add(Request{Method: protocol.MethodSignTransaction, ID: "b"})

	got, ok := tr.Take(protocol.MethodSignTransaction, "b")
	if !ok || got != b {
		t.Fatalf("Take(b) = %v, %v; want op b", got, ok)
	}
	if _, ok := tr.Take(protocol.MethodSignTransaction, "b"); ok {
		t.Error("Take(b) matched twice")
	}
	if _, ok := tr.Take(protocol.MethodSignMessage, "a"); ok {
		t.Error("Take() matched an id under the wrong method")
	}
	if got, ok := tr.Take(protocol.MethodSignTransaction, ""); !ok || got != a {
		t.Error("FIFO fallback did not return the remaining op")
	}
	if tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tr.Len())
	}
}

func TestTakeFIFO(t *testing.T) {
	tr := NewTracker(0)

	first, _ := tr.Add(Request{Method: protocol.MethodSignAndSendTransaction})
	second, _ := tr.Add(Request{Method: protocol.MethodSignAndSendTransaction})
	other, _ := tr.Add(Request{Method: protocol.MethodSignTransaction})

	if got, _ := tr.Take(protocol.MethodSignAndSendTransaction, ""); got != first {
		t.Error("Take() did not return the oldest op")
	}
	if got, _ := tr.Take(protocol.MethodSignAndSendTransaction, ""); got != second {
		t.Error("Take() did not return the next op")
	}
	if _, ok := tr.Take(protocol.MethodSignAndSendTransaction, ""); ok {
		t.Error("Take() on an empty queue matched")
	}
	if tr.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tr.Len())
	}
	if got, ok := tr.Take(protocol.MethodSignTransaction, ""); !ok || got != other {
		t.Error("Take() did not find the sign op")
	}
}

func TestMaxPerMethod(t *testing.T) {
	tr := NewTracker(1)

	if _, err := tr.Add(Request{Method: protocol.MethodSignMessage}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := tr.Add(Request{Method: protocol.MethodSignMessage}); !errors.Is(err, ErrTooManyPending) {
		t.Errorf("Add() error = %v, want ErrTooManyPending", err)
	}
	if _, err := tr.Add(Request{Method: protocol.MethodSignTransaction}); err != nil {
		t.Errorf("Add() for another method error = %v", err)
	}
}

func TestCompleteOnce(t *testing.T) {
	tr := NewTracker(0)
	op, _ := tr.Add(Request{Method: protocol.MethodDisconnect})

	if !op.Complete(&protocol.DisconnectResult{}, nil) {
		t.Error("first Complete() returned false")
	}
	if op.Complete(nil, errors.New("late")) {
		t.Error("second Complete() returned true")
	}

	res, err := op.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if _, ok := res.(*protocol.DisconnectResult); !ok {
		t.Errorf("Wait() result = %T", res)
	}
}

func TestWaitCancelWithdraws(t *testing.T) {
	tr := NewTracker(0)
	op, _ := tr.Add(Request{Method: protocol.MethodSignTransaction, ID: "x"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := op.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
	if _, ok := tr.Take(protocol.MethodSignTransaction, "x"); ok {
		t.Error("cancelled op was still pending")
	}
	if tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tr.Len())
	}
}

func TestWaitReceivesResult(t *testing.T) {
	tr := NewTracker(0)
	op, _ := tr.Add(Request{Method: protocol.MethodSignMessage, Message: []byte("hi")})

	go func() {
		time.Sleep(5 * time.Millisecond)
		if got, ok := tr.Take(protocol.MethodSignMessage, ""); ok {
			got.Complete(&protocol.SignMessageResult{Verified: true}, nil)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := op.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if r, ok := res.(*protocol.SignMessageResult); !ok || !r.Verified {
		t.Errorf("Wait() = %#v", res)
	}
	if string(op.Message()) != "hi" {
		t.Errorf("Message() = %q", op.Message())
	}
}

func TestCancelMethod(t *testing.T) {
	tr := NewTracker(0)
	a, _ := tr.Add(Request{Method: protocol.MethodConnect})
	b, _ := tr.Add(Request{Method: protocol.MethodConnect})
	keep, _ := tr.Add(Request{Method: protocol.MethodSignMessage})

	if n := tr.CancelMethod(protocol.MethodConnect, ErrSuperseded); n != 2 {
		t.Errorf("CancelMethod() = %d, want 2", n)
	}
	for _, op := range []*Operation{a, b} {
		<-op.Done()
		if _, err := op.Result(); !errors.Is(err, ErrSuperseded) {
			t.Errorf("Result() error = %v, want ErrSuperseded", err)
		}
	}
	select {
	case <-keep.Done():
		t.Error("CancelMethod() completed an op of another method")
	default:
	}
}

func TestCancelOne(t *testing.T) {
	tr := NewTracker(0)
	a, _ := tr.Add(Request{Method: protocol.MethodSignTransaction})
	b, _ := tr.Add(Request{Method: protocol.MethodSignTransaction})

	boom := errors.New("open failed")
	if !tr.Cancel(b, boom) {
		t.Fatal("Cancel() = false for a pending op")
	}
	if tr.Cancel(b, boom) {
		t.Error("second Cancel() = true")
	}
	if _, err := b.Result(); !errors.Is(err, boom) {
		t.Errorf("Result() error = %v, want %v", err, boom)
	}

	// The FIFO head is untouched.
	if got, ok := tr.Take(protocol.MethodSignTransaction, ""); !ok || got != a {
		t.Errorf("Take() = %v, %v; want op a", got, ok)
	}
}

func TestClose(t *testing.T) {
	tr := NewTracker(0)
	op, _ := tr.Add(Request{Method: protocol.MethodSignAllTransactions, ID: "z"})

	tr.Close()
	tr.Close()

	if _, err := op.Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Wait() error = %v, want ErrClosed", err)
	}
	if _, err := tr.Add(Request{Method: protocol.MethodConnect}); !errors.Is(err, ErrClosed) {
		t.Errorf("Add() after Close error = %v, want ErrClosed", err)
	}
}

func TestPendingOrder(t *testing.T) {
	tr := NewTracker(0)
	tr.Add(Request{Method: protocol.MethodSignMessage, ID: "1"})
	time.Sleep(time.Millisecond)
	tr.Add(Request{Method: protocol.MethodConnect, ID: "2"})

	infos := tr.Pending()
	if len(infos) != 2 || infos[0].ID != "1" || infos[1].ID != "2" {
		t.Errorf("Pending() = %+v", infos)
	}
}
