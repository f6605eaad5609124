// Package walletsim is an in-process wallet used by tests. It answers
// outbound deeplink targets with the callback URL a real wallet would
// redirect to.
package walletsim

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/postalsys/walletlink/internal/crypto"
	"github.com/postalsys/walletlink/internal/protocol"
)

// Wallet simulates the wallet side of the protocol.
type Wallet struct {
	// SessionToken is issued on connect. Defaults to "abc".
	SessionToken string

	// KeyParam names the query parameter carrying the wallet encryption key.
	KeyParam string

	mu        sync.Mutex
	keypair   *crypto.Keypair
	account   ed25519.PrivateKey
	secret    *crypto.SharedSecret
	session   string
	reject    *rejection
	tamper    bool
	plaintext []byte
}

type rejection struct {
	code    string
	message string
}

// New creates a wallet with fresh encryption and account keys.
func New() (*Wallet, error) {
	kp, err := crypto.GenerateKeypair(nil)
	if err != nil {
		return nil, err
	}
	_, account, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	return &Wallet{
		SessionToken: "abc",
		KeyParam:     protocol.DefaultWalletKeyParam,
		keypair:      kp,
		account:      account,
	}, nil
}

// AccountPublicKey returns the wallet account key reported on connect.
func (w *Wallet) AccountPublicKey() ed25519.PublicKey {
	return w.account.Public().(ed25519.PublicKey)
}

// EncryptionPublicKey returns the wallet X25519 key.
func (w *Wallet) EncryptionPublicKey() [crypto.KeySize]byte {
	return w.keypair.PublicKey
}

// RejectNext makes the next Handle answer with an error callback.
func (w *Wallet) RejectNext(code, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reject = &rejection{code: code, message: message}
}

// TamperNext flips a ciphertext bit in the next encrypted callback.
func (w *Wallet) TamperNext() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tamper = true
}

// LastPlaintext returns the decrypted payload of the last encrypted request.
func (w *Wallet) LastPlaintext() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.plaintext...)
}

// Signed returns the simulated signed form of a transaction.
func (w *Wallet) Signed(tx []byte) []byte {
	sig := ed25519.Sign(w.account, tx)
	return append(sig, tx...)
}

// Handle answers an outbound target. Browse produces no callback and
// returns an empty string.
func (w *Wallet) Handle(target string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	segments := strings.Split(strings.Trim(u.EscapedPath(), "/"), "/")
	if len(segments) < 2 {
		return "", fmt.Errorf("walletsim: unexpected path %q", u.Path)
	}
	method, err := protocol.ParseMethod(segments[1])
	if err != nil {
		return "", err
	}
	if method == protocol.MethodBrowse {
		return "", nil
	}

	q := u.Query()
	redirect := q.Get(protocol.ParamRedirectLink)
	if redirect == "" {
		return "", errors.New("walletsim: missing redirect_link")
	}

	if r := w.reject; r != nil {
		w.reject = nil
		params := url.Values{}
		params.Set(protocol.ParamErrorCode, r.code)
		params.Set(protocol.ParamErrorMessage, r.message)
		return withQuery(redirect, params)
	}

	if method == protocol.MethodConnect {
		return w.connect(q, redirect)
	}

	var payload struct {
		Session      string   `json:"session"`
		Transaction  string   `json:"transaction"`
		Transactions []string `json:"transactions"`
		Message      string   `json:"message"`
	}
	if err := w.open(q, &payload); err != nil {
		return "", err
	}
	if payload.Session != w.session {
		params := url.Values{}
		params.Set(protocol.ParamErrorCode, fmt.Sprint(protocol.CodeUnauthorized))
		params.Set(protocol.ParamErrorMessage, "unknown session")
		return withQuery(redirect, params)
	}

	switch method {
	case protocol.MethodDisconnect:
		w.secret = nil
		w.session = ""
		return redirect, nil

	case protocol.MethodSignAndSendTransaction:
		tx, err := protocol.Decode(payload.Transaction)
		if err != nil {
			return "", err
		}
		return w.reply(redirect, protocol.SignatureData{
			Signature: protocol.Encode(ed25519.Sign(w.account, tx)),
		})

	case protocol.MethodSignTransaction:
		tx, err := protocol.Decode(payload.Transaction)
		if err != nil {
			return "", err
		}
		return w.reply(redirect, protocol.TransactionData{
			Transaction: protocol.Encode(w.Signed(tx)),
		})

	case protocol.MethodSignAllTransactions:
		out := make([]string, len(payload.Transactions))
		for i, enc := range payload.Transactions {
			tx, err := protocol.Decode(enc)
			if err != nil {
				return "", err
			}
			out[i] = protocol.Encode(w.Signed(tx))
		}
		return w.reply(redirect, protocol.TransactionsData{Transactions: out})

	case protocol.MethodSignMessage:
		msg, err := protocol.Decode(payload.Message)
		if err != nil {
			return "", err
		}
		return w.reply(redirect, protocol.SignatureData{
			Signature: protocol.Encode(ed25519.Sign(w.account, msg)),
		})
	}
	return "", fmt.Errorf("walletsim: unhandled method %s", method)
}

func (w *Wallet) connect(q url.Values, redirect string) (string, error) {
	dappKey, err := protocol.DecodeKey(q.Get(protocol.ParamDappPublicKey))
	if err != nil {
		return "", err
	}
	secret, err := crypto.DeriveShared(w.keypair.PrivateKey[:], dappKey[:])
	if err != nil {
		return "", err
	}
	w.secret = &secret
	w.session = w.SessionToken

	env, err := w.seal(protocol.ConnectData{
		Session:   w.session,
		PublicKey: protocol.Encode(w.AccountPublicKey()),
	})
	if err != nil {
		return "", err
	}
	nonce, data := protocol.EncodeEnvelope(env)

	params := url.Values{}
	params.Set(w.KeyParam, protocol.Encode(w.keypair.PublicKey[:]))
	params.Set(protocol.ParamNonce, nonce)
	params.Set(protocol.ParamData, data)
	return withQuery(redirect, params)
}

func (w *Wallet) open(q url.Values, out any) error {
	if w.secret == nil {
		return errors.New("walletsim: not connected")
	}
	env, err := protocol.DecodeEnvelope(q.Get(protocol.ParamNonce), q.Get(protocol.ParamPayload))
	if err != nil {
		return err
	}
	plaintext, err := crypto.Open(w.secret, env)
	if err != nil {
		return err
	}
	w.plaintext = plaintext
	return crypto.Decrypt(w.secret, env, out)
}

func (w *Wallet) reply(redirect string, data any) (string, error) {
	env, err := w.seal(data)
	if err != nil {
		return "", err
	}
	nonce, payload := protocol.EncodeEnvelope(env)
	params := url.Values{}
	params.Set(protocol.ParamNonce, nonce)
	params.Set(protocol.ParamData, payload)
	return withQuery(redirect, params)
}

func (w *Wallet) seal(data any) (crypto.Envelope, error) {
	env, err := crypto.Encrypt(w.secret, data, nil)
	if err != nil {
		return env, err
	}
	if w.tamper {
		w.tamper = false
		env.Ciphertext[0] ^= 0x01
	}
	return env, nil
}

func withQuery(link string, params url.Values) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}
