// Package dapp is the application side of the wallet deeplink protocol. A
// Client owns the session, builds and opens outbound requests, and resolves
// them when the wallet's callbacks come back.
package dapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/postalsys/walletlink/internal/callback"
	"github.com/postalsys/walletlink/internal/crypto"
	"github.com/postalsys/walletlink/internal/events"
	"github.com/postalsys/walletlink/internal/inbound"
	"github.com/postalsys/walletlink/internal/logging"
	"github.com/postalsys/walletlink/internal/metrics"
	"github.com/postalsys/walletlink/internal/opener"
	"github.com/postalsys/walletlink/internal/pending"
	"github.com/postalsys/walletlink/internal/protocol"
	"github.com/postalsys/walletlink/internal/request"
	"github.com/postalsys/walletlink/internal/session"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("client closed")

// Config configures a Client.
type Config struct {
	Request request.Config

	// WalletKeyParam names the connect callback parameter carrying the
	// wallet's encryption key. Empty selects the protocol default.
	WalletKeyParam string

	// MaxPendingPerMethod bounds outstanding requests per method; 0 means
	// unlimited.
	MaxPendingPerMethod int

	// Rand is the entropy source for keys and nonces; nil means crypto/rand.
	Rand io.Reader

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Events  *events.Bus
}

// Client drives one session with one wallet. All methods are safe for
// concurrent use.
type Client struct {
	session *session.Session
	builder *request.Builder
	router  *callback.Router
	tracker *pending.Tracker
	opener  opener.Opener

	logger  *slog.Logger
	metrics *metrics.Metrics
	events  *events.Bus

	closed atomic.Bool
}

// New creates a client that hands targets to op.
func New(cfg Config, op opener.Opener) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	c := &Client{
		session: session.New(cfg.Rand),
		builder: request.NewBuilder(cfg.Request, cfg.Rand),
		router:  callback.NewRouter(cfg.WalletKeyParam),
		tracker: pending.NewTracker(cfg.MaxPendingPerMethod),
		opener:  op,
		logger:  logger.With(logging.KeyComponent, "dapp"),
		metrics: cfg.Metrics,
		events:  cfg.Events,
	}
	c.session.SetTransitionHook(c.onTransition)
	return c
}

func (c *Client) onTransition(from, to session.State) {
	c.logger.Info("session state changed",
		logging.KeyFromState, from.String(),
		logging.KeyState, to.String())
	if c.metrics != nil {
		c.metrics.RecordTransition(int(to), to.String())
	}
	c.publish(events.Event{Kind: events.KindState, State: to.String()})
}

// Connect starts a new key exchange and opens the connect request. Any
// connect still waiting is completed with pending.ErrSuperseded.
func (c *Client) Connect(ctx context.Context) (*pending.Operation, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	pub, err := c.session.BeginConnect()
	if err != nil {
		return nil, c.requestFailed(protocol.MethodConnect, "keygen", err)
	}
	if n := c.tracker.CancelMethod(protocol.MethodConnect, pending.ErrSuperseded); n > 0 {
		c.logger.Debug("superseded pending connects", logging.KeyCount, n)
	}

	target, err := c.builder.Connect(pub)
	if err != nil {
		return nil, c.requestFailed(protocol.MethodConnect, "build", err)
	}
	return c.dispatch(ctx, target, nil)
}

// Disconnect asks the wallet to drop the session. The local session is
// cleared when the wallet confirms; use Forget to clear it immediately.
func (c *Client) Disconnect(ctx context.Context) (*pending.Operation, error) {
	return c.sessionRequest(ctx, protocol.MethodDisconnect, nil, func(creds request.Credentials) (*request.Target, error) {
		return c.builder.Disconnect(creds)
	})
}

// SignAndSendTransaction asks the wallet to sign and submit a serialized
// transaction. The result is a *protocol.SignAndSendResult.
func (c *Client) SignAndSendTransaction(ctx context.Context, tx []byte) (*pending.Operation, error) {
	return c.sessionRequest(ctx, protocol.MethodSignAndSendTransaction, nil, func(creds request.Credentials) (*request.Target, error) {
		return c.builder.SignAndSendTransaction(creds, tx)
	})
}

// SignTransaction asks the wallet to sign a serialized transaction without
// submitting it.
func (c *Client) SignTransaction(ctx context.Context, tx []byte) (*pending.Operation, error) {
	return c.sessionRequest(ctx, protocol.MethodSignTransaction, nil, func(creds request.Credentials) (*request.Target, error) {
		return c.builder.SignTransaction(creds, tx)
	})
}

// SignAllTransactions asks the wallet to sign several transactions at once.
func (c *Client) SignAllTransactions(ctx context.Context, txs [][]byte) (*pending.Operation, error) {
	return c.sessionRequest(ctx, protocol.MethodSignAllTransactions, nil, func(creds request.Credentials) (*request.Target, error) {
		return c.builder.SignAllTransactions(creds, txs)
	})
}

// SignMessage asks the wallet to sign message. The signature in the result
// is checked against the connected wallet key.
func (c *Client) SignMessage(ctx context.Context, message []byte, display string) (*pending.Operation, error) {
	msg := append([]byte(nil), message...)
	return c.sessionRequest(ctx, protocol.MethodSignMessage, msg, func(creds request.Credentials) (*request.Target, error) {
		return c.builder.SignMessage(creds, msg, display)
	})
}

// SignMessageText signs text in Unicode NFC form with a utf8 display hint,
// so the bytes signed match what the wallet renders.
func (c *Client) SignMessageText(ctx context.Context, text string) (*pending.Operation, error) {
	return c.SignMessage(ctx, norm.NFC.Bytes([]byte(text)), protocol.DisplayUTF8)
}

// Browse asks the wallet to open resource in its in-app browser. No
// callback follows.
func (c *Client) Browse(ctx context.Context, resource, ref string) error {
	if c.closed.Load() {
		return ErrClosed
	}

	target, err := c.builder.Browse(resource, ref)
	if err != nil {
		return c.requestFailed(protocol.MethodBrowse, "build", err)
	}
	_, err = c.dispatch(ctx, target, nil)
	return err
}

// Forget clears the local session without contacting the wallet. Pending
// operations are completed with protocol.ErrNoActiveSession.
func (c *Client) Forget() {
	c.session.MarkDisconnected()
	for _, m := range protocol.Methods() {
		c.tracker.CancelMethod(m, protocol.ErrNoActiveSession)
	}
	c.updatePending()
}

func (c *Client) sessionRequest(ctx context.Context, method protocol.Method, message []byte, build func(request.Credentials) (*request.Target, error)) (*pending.Operation, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	creds, err := c.session.Credentials()
	if err != nil {
		return nil, c.requestFailed(method, "no_session", fmt.Errorf("%s: %w", method, err))
	}
	target, err := build(creds)
	creds.Secret.Zero()
	if err != nil {
		return nil, c.requestFailed(method, "build", err)
	}
	return c.dispatch(ctx, target, message)
}

// dispatch registers the operation before opening the target, so a
// callback arriving immediately still finds it. Methods without a callback
// are opened untracked and return a nil operation.
func (c *Client) dispatch(ctx context.Context, target *request.Target, message []byte) (*pending.Operation, error) {
	if !target.Method.ExpectsCallback() {
		if err := c.opener.Open(ctx, target.URL); err != nil {
			return nil, c.requestFailed(target.Method, "open", err)
		}
		c.requestSent(target)
		return nil, nil
	}

	op, err := c.tracker.Add(pending.Request{
		Method:  target.Method,
		ID:      target.RequestID,
		Message: message,
	})
	if err != nil {
		return nil, c.requestFailed(target.Method, "pending", fmt.Errorf("%s: %w", target.Method, err))
	}

	if err := c.opener.Open(ctx, target.URL); err != nil {
		c.tracker.Cancel(op, err)
		c.updatePending()
		return nil, c.requestFailed(target.Method, "open", err)
	}

	c.requestSent(target)
	c.updatePending()
	return op, nil
}

func (c *Client) requestSent(target *request.Target) {
	c.logger.Debug("request opened",
		logging.KeyMethod, target.Method.String(),
		logging.KeyRequestID, target.RequestID,
		logging.KeyURL, logging.RedactURL(target.URL))
	if c.metrics != nil {
		c.metrics.RecordRequest(target.Method.String())
	}
	c.publish(events.Event{
		Kind:      events.KindRequest,
		Method:    target.Method.String(),
		RequestID: target.RequestID,
	})
}

func (c *Client) requestFailed(method protocol.Method, reason string, err error) error {
	c.logger.Warn("request not sent",
		logging.KeyMethod, method.String(),
		logging.KeyError, err)
	if c.metrics != nil {
		c.metrics.RecordRequestFailure(method.String(), reason)
	}
	c.publish(events.Event{
		Kind:   events.KindFailure,
		Method: method.String(),
		Error:  err.Error(),
	})
	return err
}

// HandleURL processes one callback URL. The pending operation it answers,
// if any, is completed with the same result and error.
//
// Wallet errors are returned as *protocol.WalletError and never change the
// session state. Callbacks that fail to decode or decrypt leave the state
// unchanged too.
func (c *Client) HandleURL(ctx context.Context, raw string) (protocol.Result, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	cb, err := callback.Parse(raw)
	if err != nil {
		c.logger.Warn("unrecognized callback", logging.KeyError, err)
		if c.metrics != nil {
			c.metrics.RecordCallback(protocol.MethodUnknown.String(), metrics.OutcomeUnrecognized)
		}
		c.publish(events.Event{Kind: events.KindFailure, Error: err.Error()})
		return nil, err
	}

	op, matched := c.tracker.Take(cb.Method, cb.RequestID)
	if matched {
		c.updatePending()
	}

	res, err := c.router.Route(cb, c.session)
	if err == nil {
		err = c.apply(res, op)
	}

	c.observe(cb, op, res, err)
	if matched {
		op.Complete(res, err)
	}
	return res, err
}

// apply feeds a decoded result into the session.
func (c *Client) apply(res protocol.Result, op *pending.Operation) error {
	switch r := res.(type) {
	case *protocol.ConnectResult:
		err := c.session.Establish(r)
		r.Secret.Zero()
		r.Secret = nil
		if err != nil {
			return err
		}
		if c.metrics != nil {
			c.metrics.RecordSessionEstablished()
		}

	case *protocol.DisconnectResult:
		return c.session.ConfirmDisconnected()

	case *protocol.SignMessageResult:
		if op == nil || len(op.Message()) == 0 {
			return nil
		}
		walletKey := c.session.Snapshot().WalletPublicKey
		if err := crypto.VerifySignature(walletKey[:], op.Message(), r.Signature); err != nil {
			c.logger.Warn("message signature did not verify",
				logging.KeyRequestID, op.ID(),
				logging.KeyError, err)
			return nil
		}
		r.Verified = true
	}
	return nil
}

func (c *Client) observe(cb *callback.Callback, op *pending.Operation, res protocol.Result, err error) {
	method := cb.Method.String()
	ev := events.Event{Method: method, RequestID: cb.RequestID}
	var outcome string

	if we, ok := protocol.AsWalletError(err); ok {
		outcome = metrics.OutcomeWalletError
		ev.Kind = events.KindWalletError
		ev.Code = we.Code
		ev.Message = we.Message
		c.logger.Info("wallet reported error",
			logging.KeyMethod, method,
			logging.KeyRequestID, cb.RequestID,
			logging.KeyCode, we.Code)
		if c.metrics != nil {
			c.metrics.RecordWalletError(we.CodeName())
		}
	} else if err != nil {
		outcome = metrics.OutcomeFailed
		ev.Kind = events.KindFailure
		ev.Error = err.Error()
		c.logger.Warn("callback failed",
			logging.KeyMethod, method,
			logging.KeyRequestID, cb.RequestID,
			logging.KeyError, err)
		if c.metrics != nil {
			c.metrics.RecordDecodeFailure(failureReason(err))
		}
	} else {
		outcome = metrics.OutcomeOK
		ev.Kind = events.KindResult
		ev.Message = describe(res)
		c.logger.Info("callback handled",
			logging.KeyMethod, method,
			logging.KeyRequestID, cb.RequestID)
	}

	if op == nil {
		c.logger.Debug("callback matched no pending request",
			logging.KeyMethod, method,
			logging.KeyRequestID, cb.RequestID)
		if err == nil {
			outcome = metrics.OutcomeUnmatched
			ev.Kind = events.KindUnmatched
		}
	} else if c.metrics != nil {
		c.metrics.RecordCallbackLatency(method, time.Since(op.CreatedAt()).Seconds())
	}

	if c.metrics != nil {
		c.metrics.RecordCallback(method, outcome)
	}
	c.publish(ev)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, crypto.ErrDecryptionFailed):
		return "decrypt"
	case errors.Is(err, crypto.ErrMalformedPayload):
		return "malformed"
	case errors.Is(err, crypto.ErrInvalidKeyMaterial):
		return "key"
	case errors.Is(err, protocol.ErrEncoding):
		return "encoding"
	case errors.Is(err, protocol.ErrNoActiveSession):
		return "no_session"
	case errors.Is(err, session.ErrStaleGeneration):
		return "stale"
	case errors.Is(err, session.ErrInvalidTransition):
		return "state"
	default:
		return "other"
	}
}

// describe summarises a result without secret or ciphertext content.
func describe(res protocol.Result) string {
	switch r := res.(type) {
	case *protocol.ConnectResult:
		return "connected to " + protocol.Encode(r.WalletPublicKey[:])
	case *protocol.DisconnectResult:
		return "disconnected"
	case *protocol.SignAndSendResult:
		return "signature " + protocol.Encode(r.Signature)
	case *protocol.SignTransactionResult:
		return fmt.Sprintf("signed transaction (%d bytes)", len(r.Transaction))
	case *protocol.SignAllResult:
		return fmt.Sprintf("%d signed transactions", len(r.Transactions))
	case *protocol.SignMessageResult:
		if r.Verified {
			return "verified signature " + protocol.Encode(r.Signature)
		}
		return "signature " + protocol.Encode(r.Signature)
	}
	return ""
}

// Consume handles the source's initial URL, then every delivery, until the
// source closes or ctx ends. Per-URL failures are logged and reported
// through pending operations, not returned.
func (c *Client) Consume(ctx context.Context, src inbound.Source) error {
	if d, ok := src.Initial(); ok {
		c.consumeOne(ctx, d)
	}

	deliveries := src.Deliveries()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.consumeOne(ctx, d)
		}
	}
}

func (c *Client) consumeOne(ctx context.Context, d inbound.Delivery) {
	c.logger.Debug("callback received",
		"origin", d.Origin,
		logging.KeyURL, logging.RedactURL(d.URL))
	// Errors are already logged and published by HandleURL.
	_, _ = c.HandleURL(ctx, d.URL)
}

func (c *Client) updatePending() {
	if c.metrics != nil {
		c.metrics.SetPending(c.tracker.Len())
	}
}

func (c *Client) publish(ev events.Event) {
	if c.events != nil {
		c.events.Publish(ev)
	}
}

// State returns the current session state.
func (c *Client) State() session.State {
	return c.session.State()
}

// Pending lists outstanding requests, oldest first.
func (c *Client) Pending() []pending.Info {
	return c.tracker.Pending()
}

// Close completes all pending operations with pending.ErrClosed and wipes
// session key material. It is safe to call more than once.
func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.tracker.Close()
	c.session.MarkDisconnected()
	c.updatePending()
}
