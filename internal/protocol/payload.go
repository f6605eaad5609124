package protocol

import "fmt"

// Plaintext schemas encrypted into the payload parameter of outbound requests.
// Field order is the serialization order.

// SessionPayload is the disconnect request body.
type SessionPayload struct {
	Session string `json:"session"`
}

// TransactionPayload is the signAndSendTransaction and signTransaction body.
type TransactionPayload struct {
	Session     string `json:"session"`
	Transaction string `json:"transaction"` // base-58 serialized transaction
}

// TransactionsPayload is the signAllTransactions body.
type TransactionsPayload struct {
	Session      string   `json:"session"`
	Transactions []string `json:"transactions"`
}

// Message display hints understood by wallets.
const (
	DisplayUTF8 = "utf8"
	DisplayHex  = "hex"
)

// MessagePayload is the signMessage body.
type MessagePayload struct {
	Session string `json:"session"`
	Message string `json:"message"` // base-58 of the message bytes
	Display string `json:"display,omitempty"`
}

// Plaintext schemas decrypted from the data parameter of callbacks.

// ConnectData is returned by the wallet on a successful connect.
type ConnectData struct {
	Session   string `json:"session"`
	PublicKey string `json:"public_key"` // base-58 wallet account key
}

// Validate implements crypto.Validator.
func (d *ConnectData) Validate() error {
	if d.Session == "" {
		return fmt.Errorf("session is required")
	}
	if d.PublicKey == "" {
		return fmt.Errorf("public_key is required")
	}
	return nil
}

// SignatureData is returned by signAndSendTransaction and signMessage.
type SignatureData struct {
	Signature string `json:"signature"`
}

// Validate implements crypto.Validator.
func (d *SignatureData) Validate() error {
	if d.Signature == "" {
		return fmt.Errorf("signature is required")
	}
	return nil
}

// TransactionData is returned by signTransaction.
type TransactionData struct {
	Transaction string `json:"transaction"`
}

// Validate implements crypto.Validator.
func (d *TransactionData) Validate() error {
	if d.Transaction == "" {
		return fmt.Errorf("transaction is required")
	}
	return nil
}

// TransactionsData is returned by signAllTransactions.
type TransactionsData struct {
	Transactions []string `json:"transactions"`
}

// Validate implements crypto.Validator.
func (d *TransactionsData) Validate() error {
	if len(d.Transactions) == 0 {
		return fmt.Errorf("transactions is required")
	}
	for i, tx := range d.Transactions {
		if tx == "" {
			return fmt.Errorf("transactions[%d] is empty", i)
		}
	}
	return nil
}
