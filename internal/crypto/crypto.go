// Package crypto provides the key agreement and authenticated encryption used
// between the dapp and the wallet.
// It uses X25519 for key exchange and NaCl box (XSalsa20-Poly1305) for payloads.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const (
	// KeySize is the size of X25519 keys and box shared secrets in bytes.
	KeySize = 32

	// NonceSize is the size of box nonces in bytes.
	NonceSize = 24

	// TagSize is the size of Poly1305 authentication tags in bytes.
	TagSize = box.Overhead
)

var (
	// ErrInvalidKeyMaterial is returned when a key has the wrong length,
	// is all zeros, or is a low-order curve point.
	ErrInvalidKeyMaterial = errors.New("invalid key material")

	// ErrDecryptionFailed is returned when the key is missing, the
	// authentication tag does not verify, or the plaintext is not JSON.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrMalformedPayload is returned when a payload decrypts to valid JSON
	// that does not have the expected structure.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Keypair is an ephemeral X25519 keypair for a single connect attempt.
type Keypair struct {
	PublicKey  [KeySize]byte
	PrivateKey [KeySize]byte
}

// SharedSecret is the precomputed box key shared with the wallet.
type SharedSecret [KeySize]byte

// GenerateKeypair generates a new ephemeral keypair from r.
// A nil reader means crypto/rand.
func GenerateKeypair(r io.Reader) (*Keypair, error) {
	if r == nil {
		r = rand.Reader
	}

	pub, priv, err := box.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	return &Keypair{PublicKey: *pub, PrivateKey: *priv}, nil
}

// Zero clears the private key. The public key is kept so the keypair can
// still be identified in logs.
func (k *Keypair) Zero() {
	if k == nil {
		return
	}
	ZeroKey(&k.PrivateKey)
}

// DeriveShared combines a local private key with the wallet's public key.
// The result is deterministic: both sides derive the same secret from their
// own private key and the other side's public key.
func DeriveShared(privateKey, peerPublicKey []byte) (SharedSecret, error) {
	var secret SharedSecret

	if len(privateKey) != KeySize {
		return secret, fmt.Errorf("%w: private key is %d bytes, expected %d", ErrInvalidKeyMaterial, len(privateKey), KeySize)
	}
	if len(peerPublicKey) != KeySize {
		return secret, fmt.Errorf("%w: public key is %d bytes, expected %d", ErrInvalidKeyMaterial, len(peerPublicKey), KeySize)
	}

	var priv, peer [KeySize]byte
	copy(priv[:], privateKey)
	copy(peer[:], peerPublicKey)
	defer ZeroKey(&priv)

	if IsZeroKey(priv) {
		return secret, fmt.Errorf("%w: zero private key", ErrInvalidKeyMaterial)
	}
	if IsZeroKey(peer) {
		return secret, fmt.Errorf("%w: zero public key", ErrInvalidKeyMaterial)
	}

	// X25519 rejects low-order points, which box.Precompute silently accepts.
	check, err := curve25519.X25519(priv[:], peer[:])
	if err != nil {
		return secret, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	ZeroBytes(check)

	box.Precompute((*[KeySize]byte)(&secret), &peer, &priv)
	return secret, nil
}

// IsZero returns true if the secret is unset.
func (s *SharedSecret) IsZero() bool {
	return s == nil || IsZeroKey(*s)
}

// Zero clears the secret.
func (s *SharedSecret) Zero() {
	if s == nil {
		return
	}
	ZeroKey((*[KeySize]byte)(s))
}

// IsZeroKey returns true if every byte of the key is zero.
func IsZeroKey(k [KeySize]byte) bool {
	var zero [KeySize]byte
	return k == zero
}

// ZeroBytes zeroes out a byte slice to prevent sensitive data from lingering
// in memory.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroKey zeroes out a key array.
func ZeroKey(k *[KeySize]byte) {
	for i := range k {
		k[i] = 0
	}
}
