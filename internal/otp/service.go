// Package otp provides second-factor secret generation and validation:
// TOTP enrollments, single-use verification codes and backup codes.
package otp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	otplib "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/hkdf"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/crypto"
)

const (
	backupCodeCount     = 10
	backupCodeGroupLen  = 5
	backupCodeSample    = "abcdefghjkmnpqrstuvwxyz23456789"
	numericSample       = "0123456789"
	alphanumericSample  = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	totpPeriod          = 30
	totpSkew            = 1
	encryptionKeyLength = 32
)

// OTP generates and validates second-factor secrets. TOTP shared
// secrets are encrypted with AES-GCM before storage; the key is
// derived from a configured secret with HKDF.
type OTP struct {
	// totpIssuer is the issuing domain shown in authenticator apps.
	totpIssuer string
	// key encrypts TOTP secrets at rest.
	key []byte
}

// TOTPSecret generates a new TOTP secret for a principal and returns
// it encrypted for storage.
func (o *OTP) TOTPSecret(principal *auth.Principal) (string, error) {
	k, err := totp.Generate(totp.GenerateOpts{
		Issuer:      o.totpIssuer,
		AccountName: principal.Email,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to generate TOTP secret")
	}

	return o.encrypt(k.Secret())
}

// TOTPQRString renders a provisioning URL for authenticator apps.
func (o *OTP) TOTPQRString(principal *auth.Principal, encryptedSecret string) (string, error) {
	secret, err := o.decrypt(encryptedSecret)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		"otpauth://totp/%s:%s?secret=%s&issuer=%s&period=%d&digits=6",
		o.totpIssuer, principal.Email, secret, o.totpIssuer, totpPeriod,
	), nil
}

// TOTPDecrypt recovers the shared secret for display during setup.
func (o *OTP) TOTPDecrypt(encryptedSecret string) (string, error) {
	return o.decrypt(encryptedSecret)
}

// ValidateTOTP checks a submitted TOTP code against an encrypted
// enrollment secret. The current 30s step is accepted plus one step
// of clock drift in either direction.
func (o *OTP) ValidateTOTP(encryptedSecret, code string) error {
	secret, err := o.decrypt(encryptedSecret)
	if err != nil {
		return err
	}

	valid, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otplib.DigitsSix,
		Algorithm: otplib.AlgorithmSHA1,
	})
	if err != nil {
		return errors.Wrap(err, "failed to validate TOTP code")
	}
	if !valid {
		return auth.ErrCodeInvalid("incorrect code provided")
	}

	return nil
}

// GenerateCode produces a verification code in the requested format
// together with its salted storage hash.
func (o *OTP) GenerateCode(format auth.CodeFormat) (string, string, error) {
	var (
		length int
		sample string
	)

	switch format {
	case auth.CodeNumeric8:
		length, sample = 8, numericSample
	case auth.CodeAlphanumeric6:
		length, sample = 6, alphanumericSample
	default:
		length, sample = 6, numericSample
	}

	code, err := crypto.String(length, sample)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to generate code")
	}

	hash, err := crypto.SaltedHash(code)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to hash code")
	}

	return code, hash, nil
}

// ValidateCode compares a submitted code against a stored hash. The
// comparison cost does not depend on the submitted value.
func (o *OTP) ValidateCode(code, hash string) error {
	if !crypto.VerifySalted(code, hash) {
		return auth.ErrCodeInvalid("incorrect code provided")
	}

	return nil
}

// GenerateBackupCodes produces a fresh set of recovery codes and
// their salted storage hashes. Codes read as two dash separated
// groups from an alphabet without lookalike characters.
func (o *OTP) GenerateBackupCodes() ([]string, []string, error) {
	codes := make([]string, 0, backupCodeCount)
	hashes := make([]string, 0, backupCodeCount)

	for i := 0; i < backupCodeCount; i++ {
		left, err := crypto.String(backupCodeGroupLen, backupCodeSample)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to generate backup code")
		}
		right, err := crypto.String(backupCodeGroupLen, backupCodeSample)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to generate backup code")
		}

		code := left + "-" + right
		hash, err := crypto.SaltedHash(normalizeBackupCode(code))
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to hash backup code")
		}

		codes = append(codes, code)
		hashes = append(hashes, hash)
	}

	return codes, hashes, nil
}

// MatchBackupCode finds the unconsumed stored code matching a
// submitted value. Every stored code is checked regardless of an
// early match so the scan cost does not reveal position.
func (o *OTP) MatchBackupCode(code string, stored []*auth.BackupCode) (*auth.BackupCode, error) {
	normalized := normalizeBackupCode(code)

	var matched *auth.BackupCode
	for _, c := range stored {
		ok := crypto.VerifySalted(normalized, c.CodeHash)
		if ok && !c.IsConsumed() && matched == nil {
			matched = c
		}
	}

	if matched == nil {
		return nil, auth.ErrCodeInvalid("incorrect backup code provided")
	}

	return matched, nil
}

// normalizeBackupCode tolerates the dash being omitted and mixed
// case on submission.
func normalizeBackupCode(code string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
}

func (o *OTP) encrypt(plaintext string) (string, error) {
	gcm, err := o.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "failed to generate nonce")
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (o *OTP) decrypt(encrypted string) (string, error) {
	gcm, err := o.gcm()
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", errors.Wrap(err, "secret is not valid base64")
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to decrypt secret")
	}

	return string(plaintext), nil
}

func (o *OTP) gcm() (cipher.AEAD, error) {
	if len(o.key) == 0 {
		return nil, errors.New("secret encryption is not configured")
	}

	block, err := aes.NewCipher(o.key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}

	return cipher.NewGCM(block)
}

// deriveKey stretches a configured secret into an AES-256 key.
func deriveKey(secret string) []byte {
	r := hkdf.New(sha256.New, []byte(secret), []byte("castellan-totp"), []byte("encryption-key"))
	key := make([]byte, encryptionKeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		panic(fmt.Sprintf("failed to derive encryption key: %v", err))
	}

	return key
}
