// Package crypto provides cryptographic utility functions.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// Bytes returns securely generated random bytes.
func Bytes(length int) ([]byte, error) {
	b := make([]byte, length)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// BytesFromSample returns securely generated random bytes from a string
// sample.
func BytesFromSample(length int, samples ...string) ([]byte, error) {
	sample := strings.Join(samples, "")
	if sample == "" {
		sample = "!\"#$%&'()*+,-./0123456789:;<=>?@ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
			"[\\]^_`abcdefghijklmnopqrstuvwxyz{|}~"
	}

	bytes, err := Bytes(length)
	if err != nil {
		return nil, err
	}
	for i, b := range bytes {
		bytes[i] = sample[b%byte(len(sample))]
	}

	return bytes, nil
}

// String returns a securely generated random string from an optional
// sample.
func String(length int, samples ...string) (string, error) {
	b, err := BytesFromSample(length, samples...)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

// Hash returns a sha512 hash of a string.
func Hash(s string) (string, error) {
	h := sha512.New()
	_, err := h.Write([]byte(s))
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// SaltedHash returns a sha512 hash of a string under a fresh random
// salt, encoded as salt.digest.
func SaltedHash(s string) (string, error) {
	salt, err := Bytes(16)
	if err != nil {
		return "", err
	}

	h := sha512.New()
	h.Write(salt)
	h.Write([]byte(s))

	return base64.RawURLEncoding.EncodeToString(salt) + "." +
		hex.EncodeToString(h.Sum(nil)), nil
}

// VerifySalted compares a string against a salt.digest value produced
// by SaltedHash. The comparison cost does not depend on the submitted
// value.
func VerifySalted(s, saltedHash string) bool {
	parts := strings.SplitN(saltedHash, ".", 2)
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	want, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}

	h := sha512.New()
	h.Write(salt)
	h.Write([]byte(s))

	return hmac.Equal(h.Sum(nil), want)
}

// ConstantTimeEq compares two strings without leaking where they
// diverge.
func ConstantTimeEq(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
