package crypto

import (
	"strings"
	"testing"
)

func TestCrypto_String(t *testing.T) {
	s1, err := String(40)
	if err != nil {
		t.Fatal("failed to generate string:", err)
	}
	s2, err := String(40)
	if err != nil {
		t.Fatal("failed to generate string:", err)
	}

	if len(s1) != 40 {
		t.Error("string length does not match, want 40, got", len(s1))
	}
	if s1 == s2 {
		t.Error("generated strings are not unique")
	}
}

func TestCrypto_StringFromSample(t *testing.T) {
	s, err := String(32, "0123456789")
	if err != nil {
		t.Fatal("failed to generate string:", err)
	}

	for _, c := range s {
		if !strings.ContainsRune("0123456789", c) {
			t.Error("character outside of sample:", string(c))
		}
	}
}

func TestCrypto_SaltedHash(t *testing.T) {
	h1, err := SaltedHash("backup-code")
	if err != nil {
		t.Fatal("failed to hash:", err)
	}
	h2, err := SaltedHash("backup-code")
	if err != nil {
		t.Fatal("failed to hash:", err)
	}

	if h1 == h2 {
		t.Error("hashes of the same value should be salted and unequal")
	}

	if !VerifySalted("backup-code", h1) {
		t.Error("expected hash to verify")
	}
	if VerifySalted("other-code", h1) {
		t.Error("expected wrong value to fail verification")
	}
	if VerifySalted("backup-code", "not-a-hash") {
		t.Error("expected malformed hash to fail verification")
	}
}
