package password

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	auth "github.com/castellan/castellan"
)

// Password is a credential validator for password authentication.
type Password struct {
	// cost is the bcrypt hash repetition. Higher cost results
	// in slower computations.
	cost int
	// minLength is the minimum length of a password.
	minLength int
	// maxLength is the maximum length of a password.
	// We enforce a maximum length to mitigate DOS attacks.
	maxLength int
}

// Hash hashes a password for storage.
func (p *Password) Hash(password string) ([]byte, error) {
	// bcrypt will manage its own salt
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return []byte(""), err
	}

	return hash, nil
}

// Validate validates if a submitted password is valid for a
// principal's stored password hash.
func (p *Password) Validate(principal *auth.Principal, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(principal.Password), []byte(password))
	if err == bcrypt.ErrMismatchedHashAndPassword {
		return auth.ErrInvalidCredentials("invalid email or password")
	}
	if err != nil {
		return auth.ErrInternal("stored password digest is malformed")
	}

	return nil
}

// DummyValidate burns a full bcrypt comparison against a throwaway
// digest. Called for unknown emails so that the latency of a login
// failure does not reveal whether the account exists.
func (p *Password) DummyValidate(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyDigest, []byte(password))
}

// dummyDigest is a digest of an unguessable value, generated once at
// package load with the default cost.
var dummyDigest, _ = bcrypt.GenerateFromPassword([]byte("castellan-timing-equalizer"), bcrypt.DefaultCost)

// OKForUser tells us if a password meets minimum requirements to
// be set for any principal: length bounds and at least three of the
// four character classes.
func (p *Password) OKForUser(password string) error {
	if len(password) < p.minLength {
		return auth.ErrInvalidInput(
			fmt.Sprintf("password must be at least %d characters long", p.minLength),
		)
	}

	if len(password) > p.maxLength {
		return auth.ErrInvalidInput(
			fmt.Sprintf("password cannot be longer than %d characters", p.maxLength),
		)
	}

	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, c := range password {
		switch {
		case unicode.IsLower(c):
			hasLower = true
		case unicode.IsUpper(c):
			hasUpper = true
		case unicode.IsDigit(c):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}

	classes := 0
	var missing []string
	for _, class := range []struct {
		ok   bool
		name string
	}{
		{hasLower, "a lowercase letter"},
		{hasUpper, "an uppercase letter"},
		{hasDigit, "a digit"},
		{hasSymbol, "a symbol"},
	} {
		if class.ok {
			classes++
		} else {
			missing = append(missing, class.name)
		}
	}

	if classes < 3 {
		return auth.ErrInvalidInput(fmt.Sprintf(
			"password must contain at least three of: lowercase, uppercase, digit, symbol (missing %s)",
			strings.Join(missing, ", "),
		))
	}

	return nil
}

// MatchesHash reports whether a plaintext matches an existing digest.
// Used to reject re-use of the previous password on change.
func (p *Password) MatchesHash(password, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}
