package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	message := []byte("To avoid digital dognappers, sign below to authenticate.")
	sig := ed25519.Sign(priv, message)

	if err := VerifySignature(pub, message, sig); err != nil {
		t.Errorf("VerifySignature() valid signature error = %v", err)
	}

	// Modified message should fail
	if err := VerifySignature(pub, []byte("other"), sig); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("VerifySignature() modified message error = %v, want ErrInvalidSignature", err)
	}

	// Modified signature should fail
	bad := append([]byte(nil), sig...)
	bad[0] ^= 0xff
	if err := VerifySignature(pub, message, bad); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("VerifySignature() modified signature error = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifySignature_BadLengths(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	sig := ed25519.Sign(priv, []byte("m"))

	if err := VerifySignature(pub[:16], []byte("m"), sig); !errors.Is(err, ErrInvalidKeyMaterial) {
		t.Errorf("short key error = %v, want ErrInvalidKeyMaterial", err)
	}
	if err := VerifySignature(pub, []byte("m"), sig[:10]); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("short signature error = %v, want ErrInvalidSignature", err)
	}
}
