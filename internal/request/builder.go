// Package request builds the outbound deeplink targets handed to the wallet.
package request

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/postalsys/walletlink/internal/crypto"
	"github.com/postalsys/walletlink/internal/protocol"
)

// ErrEmptyArgument is returned when a required request argument is missing.
var ErrEmptyArgument = errors.New("empty argument")

// Config describes the wallet endpoint and the dapp identity.
type Config struct {
	// Scheme and Host address the wallet, e.g. "solflare" and "ul", or
	// "https" and "solflare.com/ul" for universal links.
	Scheme  string
	Host    string
	Version string

	AppURL  string
	Cluster string

	// RedirectBase is the prefix of every redirect_link, e.g.
	// "walletlink://" or "http://127.0.0.1:8787".
	RedirectBase string

	// Correlate appends a per-request identifier to redirect links.
	Correlate bool
}

// Credentials is the session state a request needs. Only PublicKey is read
// for connect; every encrypted request needs all three.
type Credentials struct {
	PublicKey [crypto.KeySize]byte
	Secret    *crypto.SharedSecret
	Session   string
}

// Target is a fully formed outbound URL.
type Target struct {
	Method    protocol.Method
	URL       string
	RequestID string // Empty unless correlation is enabled
}

// Builder constructs targets. It holds no session state of its own and is
// safe for concurrent use.
type Builder struct {
	cfg   Config
	rand  io.Reader
	newID func() string
}

// NewBuilder creates a builder. A nil reader uses crypto/rand.
func NewBuilder(cfg Config, r io.Reader) *Builder {
	return &Builder{
		cfg:   cfg,
		rand:  r,
		newID: uuid.NewString,
	}
}

// Connect builds the unencrypted handshake request.
func (b *Builder) Connect(publicKey [crypto.KeySize]byte) (*Target, error) {
	if crypto.IsZeroKey(publicKey) {
		return nil, fmt.Errorf("connect: %w", crypto.ErrInvalidKeyMaterial)
	}

	id := b.requestID()
	params := url.Values{}
	params.Set(protocol.ParamDappPublicKey, protocol.Encode(publicKey[:]))
	params.Set(protocol.ParamCluster, b.cfg.Cluster)
	params.Set(protocol.ParamAppURL, b.cfg.AppURL)
	params.Set(protocol.ParamRedirectLink, b.redirectLink(protocol.MethodConnect, id))

	return b.target(protocol.MethodConnect, protocol.MethodConnect.Path(), params, id), nil
}

// Disconnect asks the wallet to drop the session.
func (b *Builder) Disconnect(creds Credentials) (*Target, error) {
	return b.encrypted(protocol.MethodDisconnect, creds, &protocol.SessionPayload{
		Session: creds.Session,
	})
}

// SignAndSendTransaction asks the wallet to sign and submit a serialized
// transaction.
func (b *Builder) SignAndSendTransaction(creds Credentials, tx []byte) (*Target, error) {
	if len(tx) == 0 {
		return nil, fmt.Errorf("%s: %w: transaction", protocol.MethodSignAndSendTransaction, ErrEmptyArgument)
	}
	return b.encrypted(protocol.MethodSignAndSendTransaction, creds, &protocol.TransactionPayload{
		Session:     creds.Session,
		Transaction: protocol.Encode(tx),
	})
}

// SignTransaction asks the wallet to sign a serialized transaction without
// submitting it.
func (b *Builder) SignTransaction(creds Credentials, tx []byte) (*Target, error) {
	if len(tx) == 0 {
		return nil, fmt.Errorf("%s: %w: transaction", protocol.MethodSignTransaction, ErrEmptyArgument)
	}
	return b.encrypted(protocol.MethodSignTransaction, creds, &protocol.TransactionPayload{
		Session:     creds.Session,
		Transaction: protocol.Encode(tx),
	})
}

// SignAllTransactions asks the wallet to sign a batch of transactions.
func (b *Builder) SignAllTransactions(creds Credentials, txs [][]byte) (*Target, error) {
	if len(txs) == 0 {
		return nil, fmt.Errorf("%s: %w: transactions", protocol.MethodSignAllTransactions, ErrEmptyArgument)
	}
	encoded := make([]string, len(txs))
	for i, tx := range txs {
		if len(tx) == 0 {
			return nil, fmt.Errorf("%s: %w: transactions[%d]", protocol.MethodSignAllTransactions, ErrEmptyArgument, i)
		}
		encoded[i] = protocol.Encode(tx)
	}
	return b.encrypted(protocol.MethodSignAllTransactions, creds, &protocol.TransactionsPayload{
		Session:      creds.Session,
		Transactions: encoded,
	})
}

// SignMessage asks the wallet to sign arbitrary bytes. display is an optional
// rendering hint (protocol.DisplayUTF8 or protocol.DisplayHex).
func (b *Builder) SignMessage(creds Credentials, message []byte, display string) (*Target, error) {
	if len(message) == 0 {
		return nil, fmt.Errorf("%s: %w: message", protocol.MethodSignMessage, ErrEmptyArgument)
	}
	return b.encrypted(protocol.MethodSignMessage, creds, &protocol.MessagePayload{
		Session: creds.Session,
		Message: protocol.Encode(message),
		Display: display,
	})
}

// Browse asks the wallet to open resource in its in-app browser. Nothing is
// encrypted and no callback follows.
func (b *Builder) Browse(resource, ref string) (*Target, error) {
	if resource == "" {
		return nil, fmt.Errorf("%s: %w: url", protocol.MethodBrowse, ErrEmptyArgument)
	}
	if ref == "" {
		ref = b.cfg.AppURL
	}
	params := url.Values{}
	params.Set(protocol.ParamRef, ref)

	path := protocol.MethodBrowse.Path() + "/" + EscapeComponent(resource)
	return b.target(protocol.MethodBrowse, path, params, ""), nil
}

func (b *Builder) encrypted(method protocol.Method, creds Credentials, payload any) (*Target, error) {
	if !method.Encrypted() {
		return nil, fmt.Errorf("%s: request is not sealed", method)
	}
	if creds.Session == "" || creds.Secret.IsZero() || crypto.IsZeroKey(creds.PublicKey) {
		return nil, fmt.Errorf("%s: %w", method, protocol.ErrNoActiveSession)
	}

	env, err := crypto.Encrypt(creds.Secret, payload, b.rand)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	nonce, ciphertext := protocol.EncodeEnvelope(env)

	id := b.requestID()
	params := url.Values{}
	params.Set(protocol.ParamDappPublicKey, protocol.Encode(creds.PublicKey[:]))
	params.Set(protocol.ParamNonce, nonce)
	params.Set(protocol.ParamRedirectLink, b.redirectLink(method, id))
	params.Set(protocol.ParamPayload, ciphertext)

	return b.target(method, method.Path(), params, id), nil
}

// target assembles <scheme>://<host>/<version>/<path>?<query>. Query keys
// are emitted in sorted order.
func (b *Builder) target(method protocol.Method, path string, params url.Values, id string) *Target {
	var sb strings.Builder
	sb.WriteString(b.cfg.Scheme)
	sb.WriteString("://")
	sb.WriteString(strings.Trim(b.cfg.Host, "/"))
	if b.cfg.Version != "" {
		sb.WriteByte('/')
		sb.WriteString(b.cfg.Version)
	}
	sb.WriteByte('/')
	sb.WriteString(path)
	if len(params) > 0 {
		sb.WriteByte('?')
		sb.WriteString(params.Encode())
	}
	return &Target{Method: method, URL: sb.String(), RequestID: id}
}

func (b *Builder) requestID() string {
	if !b.cfg.Correlate {
		return ""
	}
	return b.newID()
}

func (b *Builder) redirectLink(method protocol.Method, id string) string {
	link := JoinPath(b.cfg.RedirectBase, method.CallbackName())
	if id != "" {
		link = JoinPath(link, id)
	}
	return link
}

// JoinPath appends a path segment, keeping "scheme://" prefixes intact.
func JoinPath(base, segment string) string {
	if base == "" {
		return segment
	}
	if strings.HasSuffix(base, "/") {
		return base + segment
	}
	return base + "/" + segment
}

// componentUnescape restores the characters a URI component leaves as-is
// but url.QueryEscape encodes.
var componentUnescape = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// EscapeComponent percent-encodes s for use as a single path segment. Only
// A-Z a-z 0-9 and -_.!~*'() are left unescaped; spaces become %20.
func EscapeComponent(s string) string {
	return componentUnescape.Replace(url.QueryEscape(s))
}
