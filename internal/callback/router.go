// Package callback classifies inbound callback URLs and turns them into
// typed results.
package callback

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/postalsys/walletlink/internal/crypto"
	"github.com/postalsys/walletlink/internal/protocol"
)

// Callback is an inbound URL classified by method.
type Callback struct {
	Method    protocol.Method
	RequestID string // Segment following the callback name, if any
	Params    url.Values
	Raw       string
}

// IsError reports whether the wallet answered with an error code.
func (c *Callback) IsError() bool {
	return c.Params.Get(protocol.ParamErrorCode) != ""
}

// Parse classifies raw by its path. Matching is an exact lookup of each
// path segment against the known callback names. For custom schemes the
// host is treated as the first segment, so "walletlink://onConnect" and
// "http://127.0.0.1:8787/onConnect" classify the same way.
//
// A URL naming no known callback still parses when it carries an error
// code; its Method is then MethodUnknown.
func Parse(raw string) (*Callback, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrUnrecognizedCallback, err)
	}

	cb := &Callback{Params: u.Query(), Raw: raw}

	segments := pathSegments(u)
	for i, seg := range segments {
		if m, ok := protocol.ParseCallbackName(seg); ok {
			cb.Method = m
			if i+1 < len(segments) {
				cb.RequestID = segments[i+1]
			}
			break
		}
	}

	if cb.Method == protocol.MethodUnknown && !cb.IsError() {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnrecognizedCallback, redact(u))
	}
	return cb, nil
}

func pathSegments(u *url.URL) []string {
	var segments []string
	switch {
	case u.Opaque != "":
		// walletlink:onConnect
		segments = append(segments, strings.Split(u.Opaque, "/")...)
	case u.Scheme != "http" && u.Scheme != "https" && u.Host != "":
		segments = append(segments, u.Host)
	}
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}

// redact drops the query so ciphertext and tokens stay out of errors.
func redact(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.Fragment = ""
	return c.String()
}

// KeyExchange is the session state the router reads. DeriveShared must not
// mutate the session; the returned generation lets the caller reject a
// secret derived from a keypair that has since been replaced.
type KeyExchange interface {
	DeriveShared(peerPublicKey []byte) (*crypto.SharedSecret, uint64, error)
	SharedSecret() (*crypto.SharedSecret, error)
}

// Router decrypts classified callbacks into protocol results.
type Router struct {
	walletKeyParam string
}

// NewRouter creates a router. An empty walletKeyParam selects
// protocol.DefaultWalletKeyParam.
func NewRouter(walletKeyParam string) *Router {
	if walletKeyParam == "" {
		walletKeyParam = protocol.DefaultWalletKeyParam
	}
	return &Router{walletKeyParam: walletKeyParam}
}

// Route turns cb into a typed result. An error code short-circuits to a
// *protocol.WalletError without touching any key material, whatever the
// session state.
func (r *Router) Route(cb *Callback, kx KeyExchange) (protocol.Result, error) {
	if cb.IsError() {
		return nil, walletError(cb)
	}

	switch cb.Method {
	case protocol.MethodConnect:
		return r.routeConnect(cb, kx)

	case protocol.MethodDisconnect:
		return &protocol.DisconnectResult{}, nil

	case protocol.MethodSignAndSendTransaction:
		var data protocol.SignatureData
		if err := decryptSession(cb, kx, &data); err != nil {
			return nil, err
		}
		sig, err := decodeField("signature", data.Signature)
		if err != nil {
			return nil, err
		}
		return &protocol.SignAndSendResult{Signature: sig}, nil

	case protocol.MethodSignTransaction:
		var data protocol.TransactionData
		if err := decryptSession(cb, kx, &data); err != nil {
			return nil, err
		}
		tx, err := decodeField("transaction", data.Transaction)
		if err != nil {
			return nil, err
		}
		return &protocol.SignTransactionResult{Transaction: tx}, nil

	case protocol.MethodSignAllTransactions:
		var data protocol.TransactionsData
		if err := decryptSession(cb, kx, &data); err != nil {
			return nil, err
		}
		txs := make([][]byte, len(data.Transactions))
		for i, enc := range data.Transactions {
			tx, err := decodeField(fmt.Sprintf("transactions[%d]", i), enc)
			if err != nil {
				return nil, err
			}
			txs[i] = tx
		}
		return &protocol.SignAllResult{Transactions: txs}, nil

	case protocol.MethodSignMessage:
		var data protocol.SignatureData
		if err := decryptSession(cb, kx, &data); err != nil {
			return nil, err
		}
		sig, err := decodeField("signature", data.Signature)
		if err != nil {
			return nil, err
		}
		return &protocol.SignMessageResult{Signature: sig}, nil
	}

	return nil, fmt.Errorf("%w: %s", protocol.ErrUnrecognizedCallback, cb.Method)
}

func (r *Router) routeConnect(cb *Callback, kx KeyExchange) (protocol.Result, error) {
	walletKey, err := protocol.DecodeKey(cb.Params.Get(r.walletKeyParam))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.walletKeyParam, err)
	}

	env, err := protocol.DecodeEnvelope(cb.Params.Get(protocol.ParamNonce), cb.Params.Get(protocol.ParamData))
	if err != nil {
		return nil, err
	}

	secret, gen, err := kx.DeriveShared(walletKey[:])
	if err != nil {
		return nil, err
	}

	var data protocol.ConnectData
	if err := crypto.Decrypt(secret, env, &data); err != nil {
		secret.Zero()
		return nil, err
	}

	account, err := protocol.DecodeKey(data.PublicKey)
	if err != nil {
		secret.Zero()
		return nil, fmt.Errorf("public_key: %w", err)
	}

	return &protocol.ConnectResult{
		Session:         data.Session,
		WalletPublicKey: account,
		Secret:          secret,
		Generation:      gen,
	}, nil
}

func decryptSession(cb *Callback, kx KeyExchange, out any) error {
	secret, err := kx.SharedSecret()
	if err != nil {
		return err
	}
	env, err := protocol.DecodeEnvelope(cb.Params.Get(protocol.ParamNonce), cb.Params.Get(protocol.ParamData))
	if err != nil {
		return err
	}
	return crypto.Decrypt(secret, env, out)
}

func decodeField(name, value string) ([]byte, error) {
	b, err := protocol.Decode(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}

func walletError(cb *Callback) *protocol.WalletError {
	msg := cb.Params.Get(protocol.ParamErrorMessage)
	if msg == "" {
		msg = cb.Params.Get(protocol.ParamMessage)
	}
	params := make(url.Values, len(cb.Params))
	for k, v := range cb.Params {
		params[k] = append([]string(nil), v...)
	}
	return &protocol.WalletError{
		Method:    cb.Method,
		RequestID: cb.RequestID,
		Code:      cb.Params.Get(protocol.ParamErrorCode),
		Message:   msg,
		Params:    params,
	}
}
