package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
)

// Envelope is a nonce and box ciphertext pair exchanged with the wallet.
type Envelope struct {
	Nonce      [NonceSize]byte
	Ciphertext []byte
}

// Validator is implemented by payloads that have structural constraints
// beyond what JSON typing expresses.
type Validator interface {
	Validate() error
}

// Seal encrypts plaintext under key with a fresh random nonce read from r.
// A nil reader means crypto/rand. Nonces are never derived from a counter.
func Seal(key *SharedSecret, plaintext []byte, r io.Reader) (Envelope, error) {
	if key.IsZero() {
		return Envelope{}, fmt.Errorf("%w: missing shared secret", ErrInvalidKeyMaterial)
	}
	if r == nil {
		r = rand.Reader
	}

	var env Envelope
	if _, err := io.ReadFull(r, env.Nonce[:]); err != nil {
		return Envelope{}, fmt.Errorf("generate nonce: %w", err)
	}

	env.Ciphertext = box.SealAfterPrecomputation(nil, plaintext, &env.Nonce, (*[KeySize]byte)(key))
	return env, nil
}

// Open verifies and decrypts an envelope.
func Open(key *SharedSecret, env Envelope) ([]byte, error) {
	if key.IsZero() {
		return nil, fmt.Errorf("%w: missing shared secret", ErrDecryptionFailed)
	}
	if len(env.Ciphertext) < TagSize {
		return nil, fmt.Errorf("%w: ciphertext too short: %d bytes", ErrDecryptionFailed, len(env.Ciphertext))
	}

	plaintext, ok := box.OpenAfterPrecomputation(nil, env.Ciphertext, &env.Nonce, (*[KeySize]byte)(key))
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Encrypt serializes payload to JSON and seals it.
func Encrypt(key *SharedSecret, payload any, r io.Reader) (Envelope, error) {
	plaintext, err := MarshalCanonical(payload)
	if err != nil {
		return Envelope{}, err
	}
	defer ZeroBytes(plaintext)

	return Seal(key, plaintext, r)
}

// Decrypt opens env and decodes the JSON plaintext into out.
// Authentication failures and non-JSON plaintext yield ErrDecryptionFailed;
// well-formed JSON of the wrong shape yields ErrMalformedPayload.
func Decrypt(key *SharedSecret, env Envelope, out any) error {
	plaintext, err := Open(key, env)
	if err != nil {
		return err
	}
	defer ZeroBytes(plaintext)

	if !json.Valid(plaintext) {
		return fmt.Errorf("%w: plaintext is not JSON", ErrDecryptionFailed)
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}
	return nil
}

// MarshalCanonical encodes v as compact UTF-8 JSON without HTML escaping.
// Struct fields keep declaration order and map keys are sorted.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
