package agent

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/postalsys/walletlink/internal/config"
	"github.com/postalsys/walletlink/internal/control"
	"github.com/postalsys/walletlink/internal/logging"
	"github.com/postalsys/walletlink/internal/metrics"
	"github.com/postalsys/walletlink/internal/opener"
	"github.com/postalsys/walletlink/internal/protocol"
	"github.com/postalsys/walletlink/internal/session"
	"github.com/postalsys/walletlink/internal/testutil/walletsim"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Callback.Address = "127.0.0.1:0"
	cfg.Callback.RateLimit = 0
	cfg.Control.SocketPath = filepath.Join(t.TempDir(), "control.sock")
	return cfg
}

func startAgent(t *testing.T, cfg *config.Config, opts Options) (*Agent, *opener.Recorder) {
	t.Helper()
	rec := &opener.Recorder{}
	opts.Opener = rec
	opts.Logger = logging.NopLogger()

	a, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { a.Stop() })
	return a, rec
}

func TestNew(t *testing.T) {
	a, err := New(testConfig(t), Options{Opener: &opener.Recorder{}, Logger: logging.NopLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.IsRunning() {
		t.Error("New agent should not be running")
	}
	if a.Client().State() != session.StateIdle {
		t.Errorf("State() = %v, want Idle", a.Client().State())
	}
	if a.CallbackAddress() != "" {
		t.Errorf("CallbackAddress() = %q before Start", a.CallbackAddress())
	}
}

func TestNew_BadOpener(t *testing.T) {
	cfg := testConfig(t)
	cfg.Opener.Mode = "carrier-pigeon"

	if _, err := New(cfg, Options{Logger: logging.NopLogger()}); err == nil {
		t.Error("New() should fail for an unknown opener mode")
	}
}

func TestAgent_StartStop(t *testing.T) {
	a, _ := startAgent(t, testConfig(t), Options{})

	if !a.IsRunning() {
		t.Error("agent should be running after Start")
	}
	if a.CallbackAddress() == "" {
		t.Error("CallbackAddress() empty after Start")
	}
	if err := a.Start(); err == nil {
		t.Error("second Start() should fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.StopWithContext(ctx); err != nil {
		t.Fatalf("StopWithContext() error = %v", err)
	}
	if a.IsRunning() {
		t.Error("agent still running after Stop")
	}
	if err := a.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestAgent_ConnectThroughListener(t *testing.T) {
	a, rec := startAgent(t, testConfig(t), Options{})
	w, err := walletsim.New()
	if err != nil {
		t.Fatalf("walletsim.New() error = %v", err)
	}

	op, err := a.Client().Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	cbURL, err := w.Handle(rec.Last())
	if err != nil {
		t.Fatalf("wallet Handle() error = %v", err)
	}

	// The redirect names the configured address; send it to the bound one.
	u, err := url.Parse(cbURL)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	u.Host = a.CallbackAddress()

	resp, err := http.Get(u.String())
	if err != nil {
		t.Fatalf("GET callback error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback status = %d, want 200", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := op.Wait(ctx)
	if err != nil {
		t.Fatalf("connect op error = %v", err)
	}
	if _, ok := res.(*protocol.ConnectResult); !ok {
		t.Errorf("result = %T, want *protocol.ConnectResult", res)
	}
	if a.Client().State() != session.StateConnected {
		t.Errorf("State() = %v, want Connected", a.Client().State())
	}
}

func TestAgent_DeliverThroughControl(t *testing.T) {
	cfg := testConfig(t)
	cfg.App.RedirectBase = "walletlink://"
	cfg.Callback.Enabled = false

	a, rec := startAgent(t, cfg, Options{})
	w, err := walletsim.New()
	if err != nil {
		t.Fatalf("walletsim.New() error = %v", err)
	}

	op, err := a.Client().Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	cbURL, err := w.Handle(rec.Last())
	if err != nil {
		t.Fatalf("wallet Handle() error = %v", err)
	}
	if !strings.HasPrefix(cbURL, "walletlink://") {
		t.Fatalf("callback = %s, want walletlink:// prefix", cbURL)
	}

	ctl := control.NewClient(cfg.Control.SocketPath)
	defer ctl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ctl.Deliver(ctx, cbURL); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if _, err := op.Wait(ctx); err != nil {
		t.Fatalf("connect op error = %v", err)
	}

	var st Status
	if err := ctl.Status(ctx, &st); err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !st.Connected || st.State != session.StateConnected.String() {
		t.Errorf("status = %+v, want connected", st)
	}
	if st.Runtime.Version == "" || st.Runtime.OS == "" {
		t.Errorf("status runtime = %+v", st.Runtime)
	}
}

func TestAgent_InitialURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Control.Enabled = false

	a, _ := startAgent(t, cfg, Options{InitialURL: "walletlink://onConnect?errorCode=4001&errorMessage=no"})

	ch, cancel := a.Events().Subscribe(8)
	defer cancel()

	// The initial URL may be consumed before the subscription; history has it.
	deadline := time.After(2 * time.Second)
	for {
		for _, ev := range a.Events().History() {
			if ev.Code == "4001" {
				return
			}
		}
		select {
		case <-ch:
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("initial URL was not consumed")
		}
	}
}

func TestAgent_StopCompletesPending(t *testing.T) {
	cfg := testConfig(t)
	cfg.Control.Enabled = false
	a, _ := startAgent(t, cfg, Options{})

	op, err := a.Client().Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	select {
	case <-op.Done():
	case <-time.After(time.Second):
		t.Fatal("pending connect not completed by Stop")
	}
	if _, err := op.Result(); err == nil {
		t.Error("pending connect completed without error")
	}
}

func TestAgent_StopDrainsQueuedCallbacks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Control.Enabled = false
	cfg.Callback.Enabled = false
	cfg.App.RedirectBase = "walletlink://"
	a, _ := startAgent(t, cfg, Options{})

	const queued = 8
	for i := 0; i < queued; i++ {
		if err := a.feed.Push(context.Background(), "walletlink://onConnect?errorCode=4001", "test"); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	got := testutil.ToFloat64(a.metrics.CallbacksReceived.WithLabelValues("connect", metrics.OutcomeWalletError))
	if got != queued {
		t.Errorf("handled callbacks = %v, want %d", got, queued)
	}
}

func TestRequestConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Wallet.Scheme = "https"
	cfg.Wallet.Host = "solflare.com/ul"
	cfg.Wallet.Correlate = false

	rc := RequestConfig(cfg)
	if rc.Scheme != "https" || rc.Host != "solflare.com/ul" || rc.Correlate {
		t.Errorf("RequestConfig() = %+v", rc)
	}
	if rc.RedirectBase != cfg.App.RedirectBase || rc.AppURL != cfg.App.URL {
		t.Errorf("RequestConfig() = %+v", rc)
	}
}
