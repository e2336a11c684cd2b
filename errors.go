package castellan

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrCode is a machine readable code representing an error within
// the castellan domain.
type ErrCode string

const (
	// EInvalidInput represents a malformed request.
	EInvalidInput ErrCode = "invalid_input"
	// EInvalidCredentials represents a generic login failure. It never
	// reveals whether the email, the password, or the account state
	// was at fault.
	EInvalidCredentials ErrCode = "invalid_credentials"
	// EInvalidToken represents a missing, malformed, expired or
	// badly signed bearer credential.
	EInvalidToken ErrCode = "invalid_token"
	// EConflict represents a uniqueness violation.
	EConflict ErrCode = "conflict"
	// EForbidden represents a capability or ownership failure.
	EForbidden ErrCode = "forbidden"
	// ENotFound represents an entity absent or invisible to the actor.
	ENotFound ErrCode = "not_found"
	// ERateLimited represents a throttled request.
	ERateLimited ErrCode = "rate_limited"
	// EChallengeInvalid represents a bad MFA challenge token.
	EChallengeInvalid ErrCode = "challenge_invalid"
	// EChallengeExpired represents an expired MFA challenge.
	EChallengeExpired ErrCode = "challenge_expired"
	// EChallengeExhausted represents a challenge already consumed.
	EChallengeExhausted ErrCode = "challenge_exhausted"
	// ECodeInvalid represents a wrong or already consumed code.
	ECodeInvalid ErrCode = "code_invalid"
	// ECodeExpired represents a code past its expiry.
	ECodeExpired ErrCode = "code_expired"
	// ECodeAttemptsExhausted represents a code over its attempt budget.
	ECodeAttemptsExhausted ErrCode = "code_attempts_exhausted"
	// ESessionExpired signals forced re-authentication.
	ESessionExpired ErrCode = "session_expired"
	// ESessionForbidden represents a cross-principal session access.
	ESessionForbidden ErrCode = "session_forbidden"
	// ECannotRevokeCurrent rejects revoking the presented session.
	ECannotRevokeCurrent ErrCode = "cannot_revoke_current"
	// ELocked represents an active MFA lockout.
	ELocked ErrCode = "locked"
	// EDeadlineExceeded represents an operation past its deadline.
	EDeadlineExceeded ErrCode = "deadline_exceeded"
	// EDependencyUnavailable represents an unreachable collaborator.
	EDependencyUnavailable ErrCode = "dependency_unavailable"
	// EInternal represents an error outside of our domain.
	EInternal ErrCode = "internal"
)

// Error represents an error within the castellan domain.
type Error interface {
	Error() string
	Code() ErrCode
	Message() string
}

// ErrInvalidInput represents an error related to a malformed request.
type ErrInvalidInput string

func (e ErrInvalidInput) Code() ErrCode   { return EInvalidInput }
func (e ErrInvalidInput) Message() string { return string(e) }
func (e ErrInvalidInput) Error() string   { return fmt.Sprintf("[%s] %s", e.Code(), string(e)) }

// ErrInvalidCredentials represents a generic authentication failure.
type ErrInvalidCredentials string

func (e ErrInvalidCredentials) Code() ErrCode   { return EInvalidCredentials }
func (e ErrInvalidCredentials) Message() string { return string(e) }
func (e ErrInvalidCredentials) Error() string   { return fmt.Sprintf("[%s] %s", e.Code(), string(e)) }

// ErrInvalidToken represents an error related to bearer credential
// validation such as expiry, revocation, or signing errors.
type ErrInvalidToken string

func (e ErrInvalidToken) Code() ErrCode   { return EInvalidToken }
func (e ErrInvalidToken) Message() string { return string(e) }
func (e ErrInvalidToken) Error() string   { return fmt.Sprintf("[%s] %s", e.Code(), string(e)) }

// ErrConflict represents a uniqueness violation.
type ErrConflict string

func (e ErrConflict) Code() ErrCode   { return EConflict }
func (e ErrConflict) Message() string { return string(e) }
func (e ErrConflict) Error() string   { return fmt.Sprintf("[%s] %s", e.Code(), string(e)) }

// ErrForbidden represents a capability or ownership failure.
type ErrForbidden string

func (e ErrForbidden) Code() ErrCode   { return EForbidden }
func (e ErrForbidden) Message() string { return string(e) }
func (e ErrForbidden) Error() string   { return fmt.Sprintf("[%s] %s", e.Code(), string(e)) }

// ErrNotFound represents an absent or invisible entity.
type ErrNotFound string

func (e ErrNotFound) Code() ErrCode   { return ENotFound }
func (e ErrNotFound) Message() string { return string(e) }
func (e ErrNotFound) Error() string   { return fmt.Sprintf("[%s] %s", e.Code(), string(e)) }

// ErrRateLimited represents a throttled request. RetryAfter tells
// the caller when the window reopens.
type ErrRateLimited struct {
	RetryAfter time.Duration
}

func (e ErrRateLimited) Code() ErrCode { return ERateLimited }
func (e ErrRateLimited) Message() string {
	return fmt.Sprintf("requests are throttled, try again in %d seconds", int(e.RetryAfter.Seconds()))
}
func (e ErrRateLimited) Error() string { return fmt.Sprintf("[%s] %s", e.Code(), e.Message()) }

// ErrChallengeInvalid represents a bad MFA challenge token.
type ErrChallengeInvalid string

func (e ErrChallengeInvalid) Code() ErrCode   { return EChallengeInvalid }
func (e ErrChallengeInvalid) Message() string { return string(e) }
func (e ErrChallengeInvalid) Error() string   { return fmt.Sprintf("[%s] %s", e.Code(), string(e)) }

// ErrChallengeExpired represents an expired MFA challenge.
type ErrChallengeExpired string

func (e ErrChallengeExpired) Code() ErrCode   { return EChallengeExpired }
func (e ErrChallengeExpired) Message() string { return string(e) }
func (e ErrChallengeExpired) Error() string   { return fmt.Sprintf("[%s] %s", e.Code(), string(e)) }

// ErrChallengeExhausted represents a challenge already consumed.
type ErrChallengeExhausted string

func (e ErrChallengeExhausted) Code() ErrCode   { return EChallengeExhausted }
func (e ErrChallengeExhausted) Message() string { return string(e) }
func (e ErrChallengeExhausted) Error() string   { return fmt.Sprintf("[%s] %s", e.Code(), string(e)) }

// ErrCodeInvalid represents a wrong or consumed verification code.
type ErrCodeInvalid string

func (e ErrCodeInvalid) Code() ErrCode   { return ECodeInvalid }
func (e ErrCodeInvalid) Message() string { return string(e) }
func (e ErrCodeInvalid) Error() string   { return fmt.Sprintf("[%s] %s", e.Code(), string(e)) }

// ErrCodeExpired represents a verification code past its expiry.
type ErrCodeExpired string

func (e ErrCodeExpired) Code() ErrCode   { return ECodeExpired }
func (e ErrCodeExpired) Message() string { return string(e) }
func (e ErrCodeExpired) Error() string   { return fmt.Sprintf("[%s] %s", e.Code(), string(e)) }

// ErrCodeAttemptsExhausted represents a code over its attempt budget.
type ErrCodeAttemptsExhausted string

func (e ErrCodeAttemptsExhausted) Code() ErrCode   { return ECodeAttemptsExhausted }
func (e ErrCodeAttemptsExhausted) Message() string { return string(e) }
func (e ErrCodeAttemptsExhausted) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code(), string(e))
}

// ErrSessionExpired signals inactivity expiry and forced re-login.
type ErrSessionExpired string

func (e ErrSessionExpired) Code() ErrCode   { return ESessionExpired }
func (e ErrSessionExpired) Message() string { return string(e) }
func (e ErrSessionExpired) Error() string   { return fmt.Sprintf("[%s] %s", e.Code(), string(e)) }

// ErrSessionForbidden represents a cross-principal session access.
type ErrSessionForbidden string

func (e ErrSessionForbidden) Code() ErrCode   { return ESessionForbidden }
func (e ErrSessionForbidden) Message() string { return string(e) }
func (e ErrSessionForbidden) Error() string   { return fmt.Sprintf("[%s] %s", e.Code(), string(e)) }

// ErrCannotRevokeCurrent rejects revoking the presented session.
type ErrCannotRevokeCurrent string

func (e ErrCannotRevokeCurrent) Code() ErrCode   { return ECannotRevokeCurrent }
func (e ErrCannotRevokeCurrent) Message() string { return string(e) }
func (e ErrCannotRevokeCurrent) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code(), string(e))
}

// ErrLocked represents an active MFA lockout.
type ErrLocked string

func (e ErrLocked) Code() ErrCode   { return ELocked }
func (e ErrLocked) Message() string { return string(e) }
func (e ErrLocked) Error() string   { return fmt.Sprintf("[%s] %s", e.Code(), string(e)) }

// ErrDeadlineExceeded represents an operation past its deadline.
type ErrDeadlineExceeded string

func (e ErrDeadlineExceeded) Code() ErrCode   { return EDeadlineExceeded }
func (e ErrDeadlineExceeded) Message() string { return string(e) }
func (e ErrDeadlineExceeded) Error() string   { return fmt.Sprintf("[%s] %s", e.Code(), string(e)) }

// ErrDependencyUnavailable represents an unreachable collaborator.
type ErrDependencyUnavailable string

func (e ErrDependencyUnavailable) Code() ErrCode   { return EDependencyUnavailable }
func (e ErrDependencyUnavailable) Message() string { return string(e) }
func (e ErrDependencyUnavailable) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code(), string(e))
}

// ErrInternal represents an internal error.
type ErrInternal string

func (e ErrInternal) Code() ErrCode   { return EInternal }
func (e ErrInternal) Message() string { return string(e) }
func (e ErrInternal) Error() string   { return fmt.Sprintf("[%s] %s", e.Code(), string(e)) }

// DomainError returns a domain error if available.
func DomainError(err error) Error {
	if err == nil {
		return nil
	}

	if e, ok := err.(Error); ok {
		return e
	}

	if e, ok := errors.Cause(err).(Error); ok {
		return e
	}

	return nil
}

// ErrorCode returns the code associated with a domain error. If an
// error is not part of the castellan domain, it returns EInternal.
func ErrorCode(err error) ErrCode {
	if err == nil {
		return ErrCode("")
	}

	e := DomainError(err)
	if e == nil {
		return EInternal
	}

	return e.Code()
}
