// Package protocol defines the deeplink protocol spoken between the dapp and
// the wallet: operation kinds, query parameter names, payload schemas and
// the error taxonomy.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Method identifies an operation kind. The set is closed; callbacks are
// classified into a Method once, up front, and dispatched with a switch.
type Method uint8

const (
	MethodUnknown Method = iota
	MethodConnect
	MethodDisconnect
	MethodSignAndSendTransaction
	MethodSignAllTransactions
	MethodSignTransaction
	MethodSignMessage
	MethodBrowse
)

// Query parameter names
const (
	ParamDappPublicKey = "dapp_encryption_public_key"
	ParamCluster       = "cluster"
	ParamAppURL        = "app_url"
	ParamRedirectLink  = "redirect_link"
	ParamNonce         = "nonce"
	ParamPayload       = "payload" // Outbound ciphertext
	ParamData          = "data"    // Inbound ciphertext
	ParamRef           = "ref"

	ParamErrorCode    = "errorCode"
	ParamErrorMessage = "errorMessage"
	ParamMessage      = "message" // Alternate error message key

	// DefaultWalletKeyParam carries the wallet's X25519 public key on connect.
	DefaultWalletKeyParam = "counterparty_encryption_public_key"
)

// Wallet error codes reported through errorCode.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeDisconnected      = 4900
	CodeInvalidInput      = -32000
	CodeResourceMissing   = -32002
	CodeTransactionReject = -32003
	CodeMethodNotFound    = -32601
	CodeInternalError     = -32603
)

type methodInfo struct {
	name     string // Human and metrics label
	path     string // Outbound path segment
	callback string // Inbound redirect segment
}

var methods = map[Method]methodInfo{
	MethodConnect:                {"connect", "connect", "onConnect"},
	MethodDisconnect:             {"disconnect", "disconnect", "onDisconnect"},
	MethodSignAndSendTransaction: {"sign_and_send_transaction", "signAndSendTransaction", "onSignAndSendTransaction"},
	MethodSignAllTransactions:    {"sign_all_transactions", "signAllTransactions", "onSignAllTransactions"},
	MethodSignTransaction:        {"sign_transaction", "signTransaction", "onSignTransaction"},
	MethodSignMessage:            {"sign_message", "signMessage", "onSignMessage"},
	MethodBrowse:                 {"browse", "browse", ""},
}

var callbackNames = func() map[string]Method {
	m := make(map[string]Method, len(methods))
	for method, info := range methods {
		if info.callback != "" {
			m[info.callback] = method
		}
	}
	return m
}()

// Methods returns every known method in declaration order.
func Methods() []Method {
	return []Method{
		MethodConnect,
		MethodDisconnect,
		MethodSignAndSendTransaction,
		MethodSignAllTransactions,
		MethodSignTransaction,
		MethodSignMessage,
		MethodBrowse,
	}
}

// String returns a snake_case name suitable for logs and metric labels.
func (m Method) String() string {
	if info, ok := methods[m]; ok {
		return info.name
	}
	return "unknown"
}

// Path returns the outbound path segment, e.g. "signAndSendTransaction".
func (m Method) Path() string {
	return methods[m].path
}

// CallbackName returns the redirect path segment the wallet returns to,
// e.g. "onSignAndSendTransaction". Browse has no callback.
func (m Method) CallbackName() string {
	return methods[m].callback
}

// Encrypted reports whether the request payload travels inside an envelope.
// Connect has no shared secret yet and Browse is a public navigation hint.
func (m Method) Encrypted() bool {
	switch m {
	case MethodConnect, MethodBrowse, MethodUnknown:
		return false
	default:
		return true
	}
}

// ExpectsCallback reports whether the wallet redirects back after the request.
func (m Method) ExpectsCallback() bool {
	return methods[m].callback != ""
}

// ParseCallbackName maps a redirect path segment to its method. Matching is
// exact, so "onSignAndSendTransaction" can never be taken for
// "onSignTransaction".
func ParseCallbackName(segment string) (Method, bool) {
	m, ok := callbackNames[segment]
	return m, ok
}

// ParseMethod parses a method from its name or outbound path segment,
// case-insensitively. Dashes are accepted in place of underscores.
func ParseMethod(s string) (Method, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for _, m := range Methods() {
		info := methods[m]
		if norm == info.name || norm == strings.ToLower(info.path) {
			return m, nil
		}
	}
	return MethodUnknown, fmt.Errorf("unknown method: %q", s)
}

// WalletErrorCodeName returns a human-readable name for a wallet error code.
func WalletErrorCodeName(code string) string {
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return "UNKNOWN"
	}
	switch n {
	case CodeUserRejected:
		return "USER_REJECTED"
	case CodeUnauthorized:
		return "UNAUTHORIZED"
	case CodeDisconnected:
		return "DISCONNECTED"
	case CodeInvalidInput:
		return "INVALID_INPUT"
	case CodeResourceMissing:
		return "RESOURCE_NOT_AVAILABLE"
	case CodeTransactionReject:
		return "TRANSACTION_REJECTED"
	case CodeMethodNotFound:
		return "METHOD_NOT_FOUND"
	case CodeInternalError:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}
