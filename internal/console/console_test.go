package console

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/postalsys/walletlink/internal/dapp"
	"github.com/postalsys/walletlink/internal/events"
	"github.com/postalsys/walletlink/internal/pending"
	"github.com/postalsys/walletlink/internal/protocol"
)

// fakeClient answers every request immediately with a canned outcome.
type fakeClient struct {
	tracker *pending.Tracker
	result  protocol.Result
	err     error
	forgot  bool
	status  dapp.Status
}

func newFakeClient() *fakeClient {
	return &fakeClient{tracker: pending.NewTracker(0)}
}

func (f *fakeClient) op(method protocol.Method) (*pending.Operation, error) {
	op, err := f.tracker.Add(pending.Request{Method: method})
	if err != nil {
		return nil, err
	}
	if f.result != nil || f.err != nil {
		f.tracker.Take(method, "")
		op.Complete(f.result, f.err)
	}
	return op, nil
}

func (f *fakeClient) Connect(context.Context) (*pending.Operation, error) {
	return f.op(protocol.MethodConnect)
}
func (f *fakeClient) Disconnect(context.Context) (*pending.Operation, error) {
	return f.op(protocol.MethodDisconnect)
}
func (f *fakeClient) SignAndSendTransaction(context.Context, []byte) (*pending.Operation, error) {
	return f.op(protocol.MethodSignAndSendTransaction)
}
func (f *fakeClient) SignTransaction(context.Context, []byte) (*pending.Operation, error) {
	return f.op(protocol.MethodSignTransaction)
}
func (f *fakeClient) SignAllTransactions(context.Context, [][]byte) (*pending.Operation, error) {
	return f.op(protocol.MethodSignAllTransactions)
}
func (f *fakeClient) SignMessageText(context.Context, string) (*pending.Operation, error) {
	return f.op(protocol.MethodSignMessage)
}
func (f *fakeClient) Browse(context.Context, string, string) error { return nil }
func (f *fakeClient) Forget()                                      { f.forgot = true }
func (f *fakeClient) Status() dapp.Status                          { return f.status }

func TestFormatEvent(t *testing.T) {
	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		ev   events.Event
		want []string
	}{
		{
			name: "request",
			ev:   events.Event{Kind: events.KindRequest, Method: "connect", RequestID: "0123456789abcdef"},
			want: []string{"15:04:05", "connect", "01234567"},
		},
		{
			name: "wallet error",
			ev:   events.Event{Kind: events.KindWalletError, Method: "sign_message", Code: "4001", Message: "User rejected"},
			want: []string{"4001", "USER_REJECTED", "User rejected"},
		},
		{
			name: "failure without method",
			ev:   events.Event{Kind: events.KindFailure, Error: "unrecognized callback"},
			want: []string{"callback", "unrecognized callback"},
		},
		{
			name: "state",
			ev:   events.Event{Kind: events.KindState, State: "CONNECTED"},
			want: []string{"CONNECTED"},
		},
		{
			name: "unmatched",
			ev:   events.Event{Kind: events.KindUnmatched, Method: "disconnect"},
			want: []string{"disconnect", "no pending request"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.ev.Time = at
			got := FormatEvent(tt.ev)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("FormatEvent() = %q, want to contain %q", got, w)
				}
			}
		})
	}
}

func TestFormatResult(t *testing.T) {
	tests := []struct {
		name string
		res  protocol.Result
		err  error
		want string
	}{
		{"disconnect", &protocol.DisconnectResult{}, nil, "Disconnected"},
		{"sign all", &protocol.SignAllResult{Transactions: [][]byte{{1}, {2}}}, nil, "Signed 2 transactions"},
		{"verified", &protocol.SignMessageResult{Signature: []byte{1}, Verified: true}, nil, "verified"},
		{"unverified", &protocol.SignMessageResult{Signature: []byte{1}}, nil, "unverified"},
		{"rejected", nil, &protocol.WalletError{Code: "4001"}, "declined"},
		{"other wallet error", nil, &protocol.WalletError{Code: "-32603", Params: url.Values{}}, "INTERNAL_ERROR"},
		{"failure", nil, errors.New("decryption failed"), "Failed: decryption failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatResult(tt.res, tt.err); !strings.Contains(got, tt.want) {
				t.Errorf("FormatResult() = %q, want to contain %q", got, tt.want)
			}
		})
	}
}

func TestFormatStatus(t *testing.T) {
	now := time.Now()
	connected := now.Add(-2 * time.Minute)
	st := dapp.Status{
		State:           "CONNECTED",
		Generation:      1234,
		WalletPublicKey: "WalletKey111",
		ConnectedAt:     &connected,
		ChangedAt:       connected,
		Pending: []dapp.PendingStatus{
			{Method: "sign_message", RequestID: "abcdef0123456789", CreatedAt: now.Add(-10 * time.Second)},
		},
	}

	got := FormatStatus(st, now)
	for _, want := range []string{"CONNECTED", "WalletKey111", "2 minutes ago", "1,234", "sign_message abcdef01", "10 seconds ago"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatStatus() missing %q:\n%s", want, got)
		}
	}
}

func TestParseTransactions(t *testing.T) {
	txs, err := ParseTransactions("\n" + protocol.Encode([]byte{1, 2}) + "\n  " + protocol.Encode([]byte{3}) + "  \n")
	if err != nil {
		t.Fatalf("ParseTransactions() error = %v", err)
	}
	if len(txs) != 2 || !bytes.Equal(txs[0], []byte{1, 2}) || !bytes.Equal(txs[1], []byte{3}) {
		t.Errorf("ParseTransactions() = %v", txs)
	}

	if _, err := ParseTransactions("   \n"); err == nil {
		t.Error("ParseTransactions() accepted empty input")
	}
	if _, err := ParseTransactions("0OIl"); !errors.Is(err, protocol.ErrEncoding) {
		t.Errorf("ParseTransactions() error = %v, want ErrEncoding", err)
	}
}

func TestDo_NonPromptingActions(t *testing.T) {
	fc := newFakeClient()
	fc.status = dapp.Status{State: "IDLE", ChangedAt: time.Now()}
	fc.result = &protocol.DisconnectResult{}

	bus := events.NewBus(8)
	defer bus.Close()
	bus.Publish(events.Event{Kind: events.KindState, State: "IDLE"})

	var out bytes.Buffer
	c := New(fc, bus, &out, time.Second)
	ctx := context.Background()

	for _, action := range []string{ActionStatus, ActionEvents, ActionDisconnect, ActionForget} {
		if err := c.Do(ctx, action); err != nil {
			t.Errorf("Do(%s) error = %v", action, err)
		}
	}

	text := out.String()
	for _, want := range []string{"IDLE", "Disconnected", "Session forgotten"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if !fc.forgot {
		t.Error("Forget() not called")
	}

	if err := c.Do(ctx, "teleport"); err == nil {
		t.Error("Do() accepted an unknown action")
	}
}

func TestAwait_Timeout(t *testing.T) {
	fc := newFakeClient() // operations never complete
	var out bytes.Buffer
	c := New(fc, events.NewBus(0), &out, 20*time.Millisecond)

	err := c.Do(context.Background(), ActionConnect)
	if err == nil || !strings.Contains(err.Error(), "no answer from the wallet") {
		t.Errorf("Do() error = %v, want timeout", err)
	}
	if fc.tracker.Len() != 0 {
		t.Error("timed out operation still pending")
	}
}

func TestMenuOptions(t *testing.T) {
	if n := len(menuOptions(false)); n != 5 {
		t.Errorf("idle menu has %d options, want 5", n)
	}
	if n := len(menuOptions(true)); n != 11 {
		t.Errorf("connected menu has %d options, want 11", n)
	}
}

func TestTail(t *testing.T) {
	bus := events.NewBus(0)
	var out safeBuffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Tail(ctx, bus, &out)
		close(done)
	}()

	for bus.Subscribers() == 0 {
		time.Sleep(time.Millisecond)
	}
	bus.Publish(events.Event{Kind: events.KindRequest, Method: "browse"})
	bus.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Tail() did not return after the bus closed")
	}
	cancel()

	if !strings.Contains(out.String(), "browse") {
		t.Errorf("Tail() output = %q", out.String())
	}
}
