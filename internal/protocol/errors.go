package protocol

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrEncoding is returned when a base-58 value cannot be decoded or has
	// the wrong length for its field.
	ErrEncoding = errors.New("encoding error")

	// ErrNoActiveSession is returned when an operation needs a session token
	// and shared secret that do not exist.
	ErrNoActiveSession = errors.New("no active session")

	// ErrUnrecognizedCallback is returned when an inbound URL does not name
	// any known callback.
	ErrUnrecognizedCallback = errors.New("unrecognized callback")
)

// WalletError is an explicit failure reported by the wallet through the
// errorCode parameter, typically a user rejection. It is an expected outcome
// rather than a transport or crypto fault.
type WalletError struct {
	Method    Method
	RequestID string
	Code      string
	Message   string

	// Params holds every query parameter of the callback verbatim.
	Params url.Values
}

// Error implements the error interface.
func (e *WalletError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("wallet reported error %s (%s)", e.Code, e.CodeName())
	}
	return fmt.Sprintf("wallet reported error %s (%s): %s", e.Code, e.CodeName(), e.Message)
}

// CodeName returns the symbolic name of the error code.
func (e *WalletError) CodeName() string {
	return WalletErrorCodeName(e.Code)
}

// UserRejected reports whether the user declined the request in the wallet.
func (e *WalletError) UserRejected() bool {
	return e.CodeName() == "USER_REJECTED"
}

// AsWalletError unwraps err into a *WalletError.
func AsWalletError(err error) (*WalletError, bool) {
	var we *WalletError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}
