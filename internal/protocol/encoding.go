package protocol

import (
	"fmt"

	"github.com/mr-tron/base58/base58"

	"github.com/postalsys/walletlink/internal/crypto"
)

// Encode returns the base-58 (Bitcoin alphabet) form of b.
func Encode(b []byte) string {
	return base58.Encode(b)
}

// Decode parses a base-58 value.
func Decode(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty value", ErrEncoding)
	}
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return b, nil
}

// DecodeKey parses a base-58 encoded 32-byte key.
func DecodeKey(s string) ([crypto.KeySize]byte, error) {
	var key [crypto.KeySize]byte
	b, err := Decode(s)
	if err != nil {
		return key, err
	}
	if len(b) != crypto.KeySize {
		return key, fmt.Errorf("%w: key is %d bytes, expected %d", crypto.ErrInvalidKeyMaterial, len(b), crypto.KeySize)
	}
	copy(key[:], b)
	return key, nil
}

// EncodeEnvelope returns the base-58 nonce and ciphertext of env.
func EncodeEnvelope(env crypto.Envelope) (nonce, payload string) {
	return Encode(env.Nonce[:]), Encode(env.Ciphertext)
}

// DecodeEnvelope parses a base-58 nonce and ciphertext pair.
func DecodeEnvelope(nonce, payload string) (crypto.Envelope, error) {
	var env crypto.Envelope

	n, err := Decode(nonce)
	if err != nil {
		return env, fmt.Errorf("nonce: %w", err)
	}
	if len(n) != crypto.NonceSize {
		return env, fmt.Errorf("nonce: %w: %d bytes, expected %d", ErrEncoding, len(n), crypto.NonceSize)
	}

	ct, err := Decode(payload)
	if err != nil {
		return env, fmt.Errorf("data: %w", err)
	}

	copy(env.Nonce[:], n)
	env.Ciphertext = ct
	return env, nil
}
