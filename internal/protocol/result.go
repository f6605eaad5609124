package protocol

import "github.com/postalsys/walletlink/internal/crypto"

// Result is the typed outcome of a callback. Concrete types mirror the
// request kinds one to one.
type Result interface {
	Method() Method
}

// ConnectResult carries the session established by a connect callback.
type ConnectResult struct {
	Session         string
	WalletPublicKey [crypto.Ed25519PublicKeySize]byte

	// Secret and Generation are consumed by the session state machine and
	// cleared before the result reaches callers.
	Secret     *crypto.SharedSecret
	Generation uint64
}

// DisconnectResult confirms the wallet dropped the session.
type DisconnectResult struct{}

// SignAndSendResult carries the signature of the submitted transaction.
type SignAndSendResult struct {
	Signature []byte
}

// SignTransactionResult carries the signed transaction bytes.
type SignTransactionResult struct {
	Transaction []byte
}

// SignAllResult carries every signed transaction, in request order.
type SignAllResult struct {
	Transactions [][]byte
}

// SignMessageResult carries the wallet's signature over the message.
type SignMessageResult struct {
	Signature []byte

	// Verified is set once the signature has been checked against the
	// wallet public key and the message that was sent.
	Verified bool
}

func (*ConnectResult) Method() Method         { return MethodConnect }
func (*DisconnectResult) Method() Method      { return MethodDisconnect }
func (*SignAndSendResult) Method() Method     { return MethodSignAndSendTransaction }
func (*SignTransactionResult) Method() Method { return MethodSignTransaction }
func (*SignAllResult) Method() Method         { return MethodSignAllTransactions }
func (*SignMessageResult) Method() Method     { return MethodSignMessage }
