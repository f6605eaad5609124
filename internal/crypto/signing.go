// Ed25519 verification of signatures returned by the wallet.

package crypto

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

const (
	// Ed25519PublicKeySize is the size of wallet account public keys in bytes.
	Ed25519PublicKeySize = ed25519.PublicKeySize

	// Ed25519SignatureSize is the size of Ed25519 signatures in bytes.
	Ed25519SignatureSize = ed25519.SignatureSize
)

// ErrInvalidSignature is returned when a wallet signature does not verify.
var ErrInvalidSignature = errors.New("invalid signature")

// VerifySignature checks that signature is a valid Ed25519 signature of
// message by publicKey. The wallet signs messages with its account key,
// which is the public key it reports on connect.
func VerifySignature(publicKey, message, signature []byte) error {
	if len(publicKey) != Ed25519PublicKeySize {
		return fmt.Errorf("%w: public key is %d bytes, expected %d", ErrInvalidKeyMaterial, len(publicKey), Ed25519PublicKeySize)
	}
	if len(signature) != Ed25519SignatureSize {
		return fmt.Errorf("%w: signature is %d bytes, expected %d", ErrInvalidSignature, len(signature), Ed25519SignatureSize)
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), message, signature) {
		return ErrInvalidSignature
	}
	return nil
}
