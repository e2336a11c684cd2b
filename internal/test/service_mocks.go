package test

import (
	"context"
	"time"

	auth "github.com/castellan/castellan"
)

// PasswordService mocks auth.PasswordService.
type PasswordService struct {
	HashFn          func() ([]byte, error)
	ValidateFn      func() error
	OKForUserFn     func() error
	DummyValidateFn func()
	MatchesHashFn   func() bool
	Calls           struct {
		Hash          int
		Validate      int
		OKForUser     int
		DummyValidate int
		MatchesHash   int
	}
}

// Hash mock.
func (m *PasswordService) Hash(password string) ([]byte, error) {
	m.Calls.Hash++
	if m.HashFn != nil {
		return m.HashFn()
	}
	return []byte("digest"), nil
}

// Validate mock.
func (m *PasswordService) Validate(principal *auth.Principal, password string) error {
	m.Calls.Validate++
	if m.ValidateFn != nil {
		return m.ValidateFn()
	}
	return nil
}

// OKForUser mock.
func (m *PasswordService) OKForUser(password string) error {
	m.Calls.OKForUser++
	if m.OKForUserFn != nil {
		return m.OKForUserFn()
	}
	return nil
}

// DummyValidate mock.
func (m *PasswordService) DummyValidate(password string) {
	m.Calls.DummyValidate++
	if m.DummyValidateFn != nil {
		m.DummyValidateFn()
	}
}

// MatchesHash mock.
func (m *PasswordService) MatchesHash(password, digest string) bool {
	m.Calls.MatchesHash++
	if m.MatchesHashFn != nil {
		return m.MatchesHashFn()
	}
	return false
}

// TokenService mocks auth.TokenService.
type TokenService struct {
	MintAccessFn       func() (string, *auth.AccessClaims, error)
	MintRefreshFn      func() (string, *auth.RefreshClaims, error)
	MintChallengeFn    func() (string, error)
	MintSetupFn        func() (string, error)
	VerifyAccessFn     func() (*auth.AccessClaims, error)
	VerifyRefreshFn    func() (*auth.RefreshClaims, error)
	VerifyChallengeFn  func() (*auth.ChallengeClaims, error)
	VerifySetupFn      func() (*auth.SetupClaims, error)
	ConsumeChallengeFn func() error
	BumpEpochFn        func() error
	AccessTTLFn        func() time.Duration
	RefreshTTLFn       func() time.Duration
	Calls              struct {
		MintAccess       int
		MintRefresh      int
		MintChallenge    int
		MintSetup        int
		VerifyAccess     int
		VerifyRefresh    int
		VerifyChallenge  int
		VerifySetup      int
		ConsumeChallenge int
		BumpEpoch        int
		AccessTTL        int
		RefreshTTL       int
	}
}

// MintAccess mock.
func (m *TokenService) MintAccess(ctx context.Context, principal *auth.Principal, sessionID string) (string, *auth.AccessClaims, error) {
	m.Calls.MintAccess++
	if m.MintAccessFn != nil {
		return m.MintAccessFn()
	}
	return "signed-access-token", &auth.AccessClaims{}, nil
}

// MintRefresh mock.
func (m *TokenService) MintRefresh(ctx context.Context, principal *auth.Principal, familyID string, version int, sessionID string) (string, *auth.RefreshClaims, error) {
	m.Calls.MintRefresh++
	if m.MintRefreshFn != nil {
		return m.MintRefreshFn()
	}
	return "signed-refresh-token", &auth.RefreshClaims{Family: familyID, Version: version}, nil
}

// MintChallenge mock.
func (m *TokenService) MintChallenge(ctx context.Context, principal *auth.Principal, methods, completed []auth.Method, fingerprint string) (string, error) {
	m.Calls.MintChallenge++
	if m.MintChallengeFn != nil {
		return m.MintChallengeFn()
	}
	return "signed-challenge-token", nil
}

// MintSetup mock.
func (m *TokenService) MintSetup(ctx context.Context, principal *auth.Principal) (string, error) {
	m.Calls.MintSetup++
	if m.MintSetupFn != nil {
		return m.MintSetupFn()
	}
	return "signed-setup-token", nil
}

// VerifyAccess mock.
func (m *TokenService) VerifyAccess(ctx context.Context, token string) (*auth.AccessClaims, error) {
	m.Calls.VerifyAccess++
	if m.VerifyAccessFn != nil {
		return m.VerifyAccessFn()
	}
	return &auth.AccessClaims{}, nil
}

// VerifyRefresh mock.
func (m *TokenService) VerifyRefresh(ctx context.Context, token string) (*auth.RefreshClaims, error) {
	m.Calls.VerifyRefresh++
	if m.VerifyRefreshFn != nil {
		return m.VerifyRefreshFn()
	}
	return &auth.RefreshClaims{}, nil
}

// VerifyChallenge mock.
func (m *TokenService) VerifyChallenge(ctx context.Context, token string) (*auth.ChallengeClaims, error) {
	m.Calls.VerifyChallenge++
	if m.VerifyChallengeFn != nil {
		return m.VerifyChallengeFn()
	}
	return &auth.ChallengeClaims{}, nil
}

// VerifySetup mock.
func (m *TokenService) VerifySetup(ctx context.Context, token string) (*auth.SetupClaims, error) {
	m.Calls.VerifySetup++
	if m.VerifySetupFn != nil {
		return m.VerifySetupFn()
	}
	return &auth.SetupClaims{}, nil
}

// ConsumeChallenge mock.
func (m *TokenService) ConsumeChallenge(ctx context.Context, claims *auth.ChallengeClaims) error {
	m.Calls.ConsumeChallenge++
	if m.ConsumeChallengeFn != nil {
		return m.ConsumeChallengeFn()
	}
	return nil
}

// BumpEpoch mock.
func (m *TokenService) BumpEpoch(ctx context.Context, principalID string) error {
	m.Calls.BumpEpoch++
	if m.BumpEpochFn != nil {
		return m.BumpEpochFn()
	}
	return nil
}

// AccessTTL mock.
func (m *TokenService) AccessTTL() time.Duration {
	m.Calls.AccessTTL++
	if m.AccessTTLFn != nil {
		return m.AccessTTLFn()
	}
	return 15 * time.Minute
}

// RefreshTTL mock.
func (m *TokenService) RefreshTTL() time.Duration {
	m.Calls.RefreshTTL++
	if m.RefreshTTLFn != nil {
		return m.RefreshTTLFn()
	}
	return 30 * 24 * time.Hour
}

// OTPService mocks auth.OTPService.
type OTPService struct {
	TOTPSecretFn          func() (string, error)
	TOTPQRStringFn        func() (string, error)
	TOTPDecryptFn         func() (string, error)
	ValidateTOTPFn        func() error
	GenerateCodeFn        func() (string, string, error)
	ValidateCodeFn        func() error
	GenerateBackupCodesFn func() ([]string, []string, error)
	MatchBackupCodeFn     func() (*auth.BackupCode, error)
	Calls                 struct {
		TOTPSecret          int
		TOTPQRString        int
		TOTPDecrypt         int
		ValidateTOTP        int
		GenerateCode        int
		ValidateCode        int
		GenerateBackupCodes int
		MatchBackupCode     int
	}
}

// TOTPSecret mock.
func (m *OTPService) TOTPSecret(principal *auth.Principal) (string, error) {
	m.Calls.TOTPSecret++
	if m.TOTPSecretFn != nil {
		return m.TOTPSecretFn()
	}
	return "encrypted-totp-secret", nil
}

// TOTPQRString mock.
func (m *OTPService) TOTPQRString(principal *auth.Principal, encryptedSecret string) (string, error) {
	m.Calls.TOTPQRString++
	if m.TOTPQRStringFn != nil {
		return m.TOTPQRStringFn()
	}
	return "otpauth://totp/castellan:jane@example.com", nil
}

// TOTPDecrypt mock.
func (m *OTPService) TOTPDecrypt(encryptedSecret string) (string, error) {
	m.Calls.TOTPDecrypt++
	if m.TOTPDecryptFn != nil {
		return m.TOTPDecryptFn()
	}
	return "totp-secret", nil
}

// ValidateTOTP mock.
func (m *OTPService) ValidateTOTP(encryptedSecret, code string) error {
	m.Calls.ValidateTOTP++
	if m.ValidateTOTPFn != nil {
		return m.ValidateTOTPFn()
	}
	return nil
}

// GenerateCode mock.
func (m *OTPService) GenerateCode(format auth.CodeFormat) (string, string, error) {
	m.Calls.GenerateCode++
	if m.GenerateCodeFn != nil {
		return m.GenerateCodeFn()
	}
	return "123456", "hashed-code", nil
}

// ValidateCode mock.
func (m *OTPService) ValidateCode(code, hash string) error {
	m.Calls.ValidateCode++
	if m.ValidateCodeFn != nil {
		return m.ValidateCodeFn()
	}
	return nil
}

// GenerateBackupCodes mock.
func (m *OTPService) GenerateBackupCodes() ([]string, []string, error) {
	m.Calls.GenerateBackupCodes++
	if m.GenerateBackupCodesFn != nil {
		return m.GenerateBackupCodesFn()
	}
	return []string{"aaaaa-bbbbb"}, []string{"hashed-backup-code"}, nil
}

// MatchBackupCode mock.
func (m *OTPService) MatchBackupCode(code string, stored []*auth.BackupCode) (*auth.BackupCode, error) {
	m.Calls.MatchBackupCode++
	if m.MatchBackupCodeFn != nil {
		return m.MatchBackupCodeFn()
	}
	return nil, auth.ErrCodeInvalid("incorrect backup code provided")
}

// CodeService mocks auth.CodeService.
type CodeService struct {
	IssueFn  func() (string, *auth.VerificationCode, error)
	VerifyFn func() error
	Calls    struct {
		Issue  int
		Verify int
	}
}

// Issue mock.
func (m *CodeService) Issue(ctx context.Context, principalID string, purpose auth.CodePurpose) (string, *auth.VerificationCode, error) {
	m.Calls.Issue++
	if m.IssueFn != nil {
		return m.IssueFn()
	}
	return "123456", &auth.VerificationCode{
		PrincipalID: principalID,
		Purpose:     purpose,
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	}, nil
}

// Verify mock.
func (m *CodeService) Verify(ctx context.Context, principalID string, purpose auth.CodePurpose, code string) error {
	m.Calls.Verify++
	if m.VerifyFn != nil {
		return m.VerifyFn()
	}
	return nil
}

// SessionService mocks auth.SessionService.
type SessionService struct {
	FingerprintFn     func() string
	CreateOrRefreshFn func() (*auth.Session, bool, error)
	TouchFn           func()
	ListForFn         func() ([]*auth.Session, error)
	RevokeFn          func() error
	RevokeAllExceptFn func() (int, error)
	RevokeAllFn       func() (int, error)
	MarkTrustedFn     func() error
	IsTrustedFn       func() (bool, error)
	SeenFingerprintFn func() (bool, error)
	Calls             struct {
		Fingerprint     int
		CreateOrRefresh int
		Touch           int
		ListFor         int
		Revoke          int
		RevokeAllExcept int
		RevokeAll       int
		MarkTrusted     int
		IsTrusted       int
		SeenFingerprint int
	}
}

// Fingerprint mock.
func (m *SessionService) Fingerprint(rc auth.RequestContext) string {
	m.Calls.Fingerprint++
	if m.FingerprintFn != nil {
		return m.FingerprintFn()
	}
	return "fingerprint"
}

// CreateOrRefresh mock.
func (m *SessionService) CreateOrRefresh(ctx context.Context, principal *auth.Principal, rc auth.RequestContext) (*auth.Session, bool, error) {
	m.Calls.CreateOrRefresh++
	if m.CreateOrRefreshFn != nil {
		return m.CreateOrRefreshFn()
	}
	return &auth.Session{ID: "session-id"}, true, nil
}

// Touch mock.
func (m *SessionService) Touch(ctx context.Context, sessionID string) {
	m.Calls.Touch++
	if m.TouchFn != nil {
		m.TouchFn()
	}
}

// ListFor mock.
func (m *SessionService) ListFor(ctx context.Context, principalID string) ([]*auth.Session, error) {
	m.Calls.ListFor++
	if m.ListForFn != nil {
		return m.ListForFn()
	}
	return []*auth.Session{}, nil
}

// Revoke mock.
func (m *SessionService) Revoke(ctx context.Context, principalID, sessionID, currentSessionID string) error {
	m.Calls.Revoke++
	if m.RevokeFn != nil {
		return m.RevokeFn()
	}
	return nil
}

// RevokeAllExcept mock.
func (m *SessionService) RevokeAllExcept(ctx context.Context, principalID, keepID string) (int, error) {
	m.Calls.RevokeAllExcept++
	if m.RevokeAllExceptFn != nil {
		return m.RevokeAllExceptFn()
	}
	return 0, nil
}

// RevokeAll mock.
func (m *SessionService) RevokeAll(ctx context.Context, principalID, reason string) (int, error) {
	m.Calls.RevokeAll++
	if m.RevokeAllFn != nil {
		return m.RevokeAllFn()
	}
	return 0, nil
}

// MarkTrusted mock.
func (m *SessionService) MarkTrusted(ctx context.Context, principalID, fingerprint string, d time.Duration, maxTrusted int) error {
	m.Calls.MarkTrusted++
	if m.MarkTrustedFn != nil {
		return m.MarkTrustedFn()
	}
	return nil
}

// IsTrusted mock.
func (m *SessionService) IsTrusted(ctx context.Context, principalID, fingerprint string) (bool, error) {
	m.Calls.IsTrusted++
	if m.IsTrustedFn != nil {
		return m.IsTrustedFn()
	}
	return false, nil
}

// SeenFingerprint mock.
func (m *SessionService) SeenFingerprint(ctx context.Context, principalID, fingerprint string, since time.Time) (bool, error) {
	m.Calls.SeenFingerprint++
	if m.SeenFingerprintFn != nil {
		return m.SeenFingerprintFn()
	}
	return true, nil
}

// RateLimiter mocks auth.RateLimiter.
type RateLimiter struct {
	CheckFn func() (auth.RateDecision, error)
	ResetFn func() error
	Calls   struct {
		Check int
		Reset int
	}
}

// Check mock.
func (m *RateLimiter) Check(ctx context.Context, scope auth.RateScope, identity string) (auth.RateDecision, error) {
	m.Calls.Check++
	if m.CheckFn != nil {
		return m.CheckFn()
	}
	return auth.RateDecision{Allowed: true, Remaining: 1}, nil
}

// Reset mock.
func (m *RateLimiter) Reset(ctx context.Context, scope auth.RateScope, identity string) error {
	m.Calls.Reset++
	if m.ResetFn != nil {
		return m.ResetFn()
	}
	return nil
}

// EventRecorder mocks auth.EventRecorder.
type EventRecorder struct {
	AttemptFn func(attempt *auth.LoginAttempt)
	EventFn   func(event *auth.SecurityEvent)
	AuditFn   func(entry *auth.AuditEntry)
	DroppedFn func() uint64
	Calls     struct {
		Attempt int
		Event   int
		Audit   int
		Dropped int
	}
}

// Attempt mock.
func (m *EventRecorder) Attempt(ctx context.Context, attempt *auth.LoginAttempt) {
	m.Calls.Attempt++
	if m.AttemptFn != nil {
		m.AttemptFn(attempt)
	}
}

// Event mock.
func (m *EventRecorder) Event(ctx context.Context, event *auth.SecurityEvent) {
	m.Calls.Event++
	if m.EventFn != nil {
		m.EventFn(event)
	}
}

// Audit mock.
func (m *EventRecorder) Audit(ctx context.Context, entry *auth.AuditEntry) {
	m.Calls.Audit++
	if m.AuditFn != nil {
		m.AuditFn(entry)
	}
}

// Dropped mock.
func (m *EventRecorder) Dropped() uint64 {
	m.Calls.Dropped++
	if m.DroppedFn != nil {
		return m.DroppedFn()
	}
	return 0
}

// MessagingService mocks auth.MessagingService.
type MessagingService struct {
	SendFn func(msg *auth.Message) error
	Calls  struct {
		Send int
	}
}

// Send mock.
func (m *MessagingService) Send(ctx context.Context, msg *auth.Message) error {
	m.Calls.Send++
	if m.SendFn != nil {
		return m.SendFn(msg)
	}
	return nil
}

// MessageRepository mocks auth.MessageRepository.
type MessageRepository struct {
	PublishFn func() error
	RecentFn  func() (<-chan *auth.Message, <-chan error)
	Calls     struct {
		Publish int
		Recent  int
	}
}

// Publish mock.
func (m *MessageRepository) Publish(ctx context.Context, msg *auth.Message) error {
	m.Calls.Publish++
	if m.PublishFn != nil {
		return m.PublishFn()
	}
	return nil
}

// Recent mock.
func (m *MessageRepository) Recent(ctx context.Context) (<-chan *auth.Message, <-chan error) {
	m.Calls.Recent++
	if m.RecentFn != nil {
		return m.RecentFn()
	}

	msgc := make(chan *auth.Message)
	errc := make(chan error)
	close(msgc)
	close(errc)
	return msgc, errc
}
