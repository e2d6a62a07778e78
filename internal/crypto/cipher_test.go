package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func testKey(t *testing.T, passphrase string) []byte {
	t.Helper()
	salt := bytes.Repeat([]byte{0x5a}, SaltSize)
	key, err := DeriveMasterKey(passphrase, salt)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	return key
}

func TestDeriveMasterKey(t *testing.T) {
	t.Run("deterministic for same passphrase and salt", func(t *testing.T) {
		a := testKey(t, "correct horse battery staple")
		b := testKey(t, "correct horse battery staple")
		if !bytes.Equal(a, b) {
			t.Fatal("expected identical keys for identical inputs")
		}
		if len(a) != KeySize {
			t.Fatalf("unexpected key length: %d", len(a))
		}
	})

	t.Run("differs across passphrases", func(t *testing.T) {
		if bytes.Equal(testKey(t, "one"), testKey(t, "two")) {
			t.Fatal("expected different keys for different passphrases")
		}
	})

	t.Run("rejects empty passphrase", func(t *testing.T) {
		salt := bytes.Repeat([]byte{1}, SaltSize)
		if _, err := DeriveMasterKey("", salt); err == nil {
			t.Fatal("expected error for empty passphrase")
		}
	})

	t.Run("rejects bad salt length", func(t *testing.T) {
		if _, err := DeriveMasterKey("p", []byte("short")); err == nil {
			t.Fatal("expected error for short salt")
		}
	})
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	key := testKey(t, "master")
	secret := []byte("sk_live_0123456789abcdef")

	box, err := Encrypt(secret, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(box, secret) {
		t.Fatal("ciphertext contains plaintext")
	}

	got, err := Decrypt(box, key)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Fatalf("roundtrip mismatch: got %q", got)
	}
}

func TestEncryptProducesUniqueBoxes(t *testing.T) {
	key := testKey(t, "master")
	a, err := Encrypt([]byte("same"), key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b, err := Encrypt([]byte("same"), key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("expected distinct nonces to produce distinct boxes")
	}
}

func TestDecryptFailsClosed(t *testing.T) {
	key := testKey(t, "master")
	box, err := Encrypt([]byte("secret-value"), key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	t.Run("flipped ciphertext byte", func(t *testing.T) {
		tampered := append([]byte(nil), box...)
		tampered[len(tampered)-1] ^= 0x01
		if _, err := Decrypt(tampered, key); !errors.Is(err, ErrTamperedOrWrongKey) {
			t.Fatalf("expected ErrTamperedOrWrongKey, got %v", err)
		}
	})

	t.Run("flipped nonce byte", func(t *testing.T) {
		tampered := append([]byte(nil), box...)
		tampered[0] ^= 0x01
		if _, err := Decrypt(tampered, key); !errors.Is(err, ErrTamperedOrWrongKey) {
			t.Fatalf("expected ErrTamperedOrWrongKey, got %v", err)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		other := testKey(t, "a different passphrase")
		if _, err := Decrypt(box, other); !errors.Is(err, ErrTamperedOrWrongKey) {
			t.Fatalf("expected ErrTamperedOrWrongKey, got %v", err)
		}
	})

	t.Run("truncated box", func(t *testing.T) {
		if _, err := Decrypt(box[:8], key); !errors.Is(err, ErrTamperedOrWrongKey) {
			t.Fatalf("expected ErrTamperedOrWrongKey, got %v", err)
		}
	})
}
