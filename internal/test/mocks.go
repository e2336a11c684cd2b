package test

import (
	"context"
	"time"

	"github.com/pkg/errors"

	auth "github.com/castellan/castellan"
)

// RepositoryManager mocks auth.RepositoryManager interface.
type RepositoryManager struct {
	NewWithTransactionFn func() (auth.RepositoryManager, error)
	WithAtomicFn         func(operation func() (interface{}, error)) (interface{}, error)
	PrincipalFn          func() auth.PrincipalRepository
	LinkedIdentityFn     func() auth.LinkedIdentityRepository
	MFAFn                func() auth.MFARepository
	BackupCodeFn         func() auth.BackupCodeRepository
	VerificationCodeFn   func() auth.VerificationCodeRepository
	SessionFn            func() auth.SessionRepository
	RefreshFamilyFn      func() auth.RefreshFamilyRepository
	LoginAttemptFn       func() auth.LoginAttemptRepository
	SecurityEventFn      func() auth.SecurityEventRepository
	AuditFn              func() auth.AuditRepository
	PolicyFn             func() auth.PolicyRepository
	Calls                struct {
		NewWithTransaction int
		WithAtomic         int
		Principal          int
		LinkedIdentity     int
		MFA                int
		BackupCode         int
		VerificationCode   int
		Session            int
		RefreshFamily      int
		LoginAttempt       int
		SecurityEvent      int
		Audit              int
		Policy             int
	}
}

// NewWithTransaction mock.
func (m *RepositoryManager) NewWithTransaction(ctx context.Context) (auth.RepositoryManager, error) {
	m.Calls.NewWithTransaction++
	if m.NewWithTransactionFn != nil {
		return m.NewWithTransactionFn()
	}

	return m, nil
}

// WithAtomic mock. By default the operation runs without a real
// transaction.
func (m *RepositoryManager) WithAtomic(operation func() (interface{}, error)) (interface{}, error) {
	m.Calls.WithAtomic++
	if m.WithAtomicFn != nil {
		return m.WithAtomicFn(operation)
	}

	return operation()
}

// Principal mock.
func (m *RepositoryManager) Principal() auth.PrincipalRepository {
	m.Calls.Principal++
	if m.PrincipalFn != nil {
		return m.PrincipalFn()
	}
	return &PrincipalRepository{}
}

// LinkedIdentity mock.
func (m *RepositoryManager) LinkedIdentity() auth.LinkedIdentityRepository {
	m.Calls.LinkedIdentity++
	if m.LinkedIdentityFn != nil {
		return m.LinkedIdentityFn()
	}
	return &LinkedIdentityRepository{}
}

// MFA mock.
func (m *RepositoryManager) MFA() auth.MFARepository {
	m.Calls.MFA++
	if m.MFAFn != nil {
		return m.MFAFn()
	}
	return &MFARepository{}
}

// BackupCode mock.
func (m *RepositoryManager) BackupCode() auth.BackupCodeRepository {
	m.Calls.BackupCode++
	if m.BackupCodeFn != nil {
		return m.BackupCodeFn()
	}
	return &BackupCodeRepository{}
}

// VerificationCode mock.
func (m *RepositoryManager) VerificationCode() auth.VerificationCodeRepository {
	m.Calls.VerificationCode++
	if m.VerificationCodeFn != nil {
		return m.VerificationCodeFn()
	}
	return &VerificationCodeRepository{}
}

// Session mock.
func (m *RepositoryManager) Session() auth.SessionRepository {
	m.Calls.Session++
	if m.SessionFn != nil {
		return m.SessionFn()
	}
	return &SessionRepository{}
}

// RefreshFamily mock.
func (m *RepositoryManager) RefreshFamily() auth.RefreshFamilyRepository {
	m.Calls.RefreshFamily++
	if m.RefreshFamilyFn != nil {
		return m.RefreshFamilyFn()
	}
	return &RefreshFamilyRepository{}
}

// LoginAttempt mock.
func (m *RepositoryManager) LoginAttempt() auth.LoginAttemptRepository {
	m.Calls.LoginAttempt++
	if m.LoginAttemptFn != nil {
		return m.LoginAttemptFn()
	}
	return &LoginAttemptRepository{}
}

// SecurityEvent mock.
func (m *RepositoryManager) SecurityEvent() auth.SecurityEventRepository {
	m.Calls.SecurityEvent++
	if m.SecurityEventFn != nil {
		return m.SecurityEventFn()
	}
	return &SecurityEventRepository{}
}

// Audit mock.
func (m *RepositoryManager) Audit() auth.AuditRepository {
	m.Calls.Audit++
	if m.AuditFn != nil {
		return m.AuditFn()
	}
	return &AuditRepository{}
}

// Policy mock.
func (m *RepositoryManager) Policy() auth.PolicyRepository {
	m.Calls.Policy++
	if m.PolicyFn != nil {
		return m.PolicyFn()
	}
	return &PolicyRepository{}
}

// PrincipalRepository mocks auth.PrincipalRepository.
type PrincipalRepository struct {
	ByIDFn         func() (*auth.Principal, error)
	ByEmailFn      func() (*auth.Principal, error)
	ByHandleFn     func() (*auth.Principal, error)
	GetForUpdateFn func() (*auth.Principal, error)
	CreateFn       func() error
	UpdateFn       func() error
	ListFn         func() ([]*auth.Principal, int, error)
	Calls          struct {
		ByID         int
		ByEmail      int
		ByHandle     int
		GetForUpdate int
		Create       int
		Update       int
		List         int
	}
}

// ByID mock.
func (m *PrincipalRepository) ByID(ctx context.Context, id string) (*auth.Principal, error) {
	m.Calls.ByID++
	if m.ByIDFn != nil {
		return m.ByIDFn()
	}
	return &auth.Principal{}, nil
}

// ByEmail mock.
func (m *PrincipalRepository) ByEmail(ctx context.Context, email string) (*auth.Principal, error) {
	m.Calls.ByEmail++
	if m.ByEmailFn != nil {
		return m.ByEmailFn()
	}
	return &auth.Principal{}, nil
}

// ByHandle mock.
func (m *PrincipalRepository) ByHandle(ctx context.Context, handle string) (*auth.Principal, error) {
	m.Calls.ByHandle++
	if m.ByHandleFn != nil {
		return m.ByHandleFn()
	}
	return &auth.Principal{}, nil
}

// GetForUpdate mock.
func (m *PrincipalRepository) GetForUpdate(ctx context.Context, id string) (*auth.Principal, error) {
	m.Calls.GetForUpdate++
	if m.GetForUpdateFn != nil {
		return m.GetForUpdateFn()
	}
	return &auth.Principal{}, nil
}

// Create mock.
func (m *PrincipalRepository) Create(ctx context.Context, principal *auth.Principal) error {
	m.Calls.Create++
	if m.CreateFn != nil {
		return m.CreateFn()
	}
	return nil
}

// Update mock.
func (m *PrincipalRepository) Update(ctx context.Context, principal *auth.Principal) error {
	m.Calls.Update++
	if m.UpdateFn != nil {
		return m.UpdateFn()
	}
	return nil
}

// List mock.
func (m *PrincipalRepository) List(ctx context.Context, filter auth.PrincipalFilter) ([]*auth.Principal, int, error) {
	m.Calls.List++
	if m.ListFn != nil {
		return m.ListFn()
	}
	return []*auth.Principal{}, 0, nil
}

// LinkedIdentityRepository mocks auth.LinkedIdentityRepository.
type LinkedIdentityRepository struct {
	ByPrincipalFn       func() ([]*auth.LinkedIdentity, error)
	ByProviderSubjectFn func() (*auth.LinkedIdentity, error)
	CreateFn            func() error
	DeleteByPrincipalFn func() (int, error)
	Calls               struct {
		ByPrincipal       int
		ByProviderSubject int
		Create            int
		DeleteByPrincipal int
	}
}

// ByPrincipal mock.
func (m *LinkedIdentityRepository) ByPrincipal(ctx context.Context, principalID string) ([]*auth.LinkedIdentity, error) {
	m.Calls.ByPrincipal++
	if m.ByPrincipalFn != nil {
		return m.ByPrincipalFn()
	}
	return []*auth.LinkedIdentity{}, nil
}

// ByProviderSubject mock.
func (m *LinkedIdentityRepository) ByProviderSubject(ctx context.Context, provider auth.IdentityProvider, subject string) (*auth.LinkedIdentity, error) {
	m.Calls.ByProviderSubject++
	if m.ByProviderSubjectFn != nil {
		return m.ByProviderSubjectFn()
	}
	return nil, errors.New("linked identity not found")
}

// Create mock.
func (m *LinkedIdentityRepository) Create(ctx context.Context, identity *auth.LinkedIdentity) error {
	m.Calls.Create++
	if m.CreateFn != nil {
		return m.CreateFn()
	}
	return nil
}

// DeleteByPrincipal mock.
func (m *LinkedIdentityRepository) DeleteByPrincipal(ctx context.Context, principalID string) (int, error) {
	m.Calls.DeleteByPrincipal++
	if m.DeleteByPrincipalFn != nil {
		return m.DeleteByPrincipalFn()
	}
	return 0, nil
}

// MFARepository mocks auth.MFARepository.
type MFARepository struct {
	ByPrincipalFn  func() (*auth.MFAEnrollment, error)
	GetForUpdateFn func() (*auth.MFAEnrollment, error)
	CreateFn       func() error
	UpdateFn       func() error
	Calls          struct {
		ByPrincipal  int
		GetForUpdate int
		Create       int
		Update       int
	}
}

// ByPrincipal mock.
func (m *MFARepository) ByPrincipal(ctx context.Context, principalID string) (*auth.MFAEnrollment, error) {
	m.Calls.ByPrincipal++
	if m.ByPrincipalFn != nil {
		return m.ByPrincipalFn()
	}
	return &auth.MFAEnrollment{}, nil
}

// GetForUpdate mock.
func (m *MFARepository) GetForUpdate(ctx context.Context, principalID string) (*auth.MFAEnrollment, error) {
	m.Calls.GetForUpdate++
	if m.GetForUpdateFn != nil {
		return m.GetForUpdateFn()
	}
	return &auth.MFAEnrollment{}, nil
}

// Create mock.
func (m *MFARepository) Create(ctx context.Context, enrollment *auth.MFAEnrollment) error {
	m.Calls.Create++
	if m.CreateFn != nil {
		return m.CreateFn()
	}
	return nil
}

// Update mock.
func (m *MFARepository) Update(ctx context.Context, enrollment *auth.MFAEnrollment) error {
	m.Calls.Update++
	if m.UpdateFn != nil {
		return m.UpdateFn()
	}
	return nil
}

// BackupCodeRepository mocks auth.BackupCodeRepository.
type BackupCodeRepository struct {
	ByPrincipalFn       func() ([]*auth.BackupCode, error)
	ReplaceFn           func() error
	ConsumeFn           func() error
	DeleteByPrincipalFn func() (int, error)
	Calls               struct {
		ByPrincipal       int
		Replace           int
		Consume           int
		DeleteByPrincipal int
	}
}

// ByPrincipal mock.
func (m *BackupCodeRepository) ByPrincipal(ctx context.Context, principalID string) ([]*auth.BackupCode, error) {
	m.Calls.ByPrincipal++
	if m.ByPrincipalFn != nil {
		return m.ByPrincipalFn()
	}
	return []*auth.BackupCode{}, nil
}

// Replace mock.
func (m *BackupCodeRepository) Replace(ctx context.Context, principalID string, hashes []string) error {
	m.Calls.Replace++
	if m.ReplaceFn != nil {
		return m.ReplaceFn()
	}
	return nil
}

// Consume mock.
func (m *BackupCodeRepository) Consume(ctx context.Context, id string, at time.Time) error {
	m.Calls.Consume++
	if m.ConsumeFn != nil {
		return m.ConsumeFn()
	}
	return nil
}

// DeleteByPrincipal mock.
func (m *BackupCodeRepository) DeleteByPrincipal(ctx context.Context, principalID string) (int, error) {
	m.Calls.DeleteByPrincipal++
	if m.DeleteByPrincipalFn != nil {
		return m.DeleteByPrincipalFn()
	}
	return 0, nil
}

// VerificationCodeRepository mocks auth.VerificationCodeRepository.
type VerificationCodeRepository struct {
	ActiveByPurposeFn   func() (*auth.VerificationCode, error)
	CreateFn            func() error
	InvalidatePurposeFn func() error
	IncrementAttemptsFn func() (int, error)
	ConsumeFn           func() error
	Calls               struct {
		ActiveByPurpose   int
		Create            int
		InvalidatePurpose int
		IncrementAttempts int
		Consume           int
	}
}

// ActiveByPurpose mock.
func (m *VerificationCodeRepository) ActiveByPurpose(ctx context.Context, principalID string, purpose auth.CodePurpose) (*auth.VerificationCode, error) {
	m.Calls.ActiveByPurpose++
	if m.ActiveByPurposeFn != nil {
		return m.ActiveByPurposeFn()
	}
	return &auth.VerificationCode{}, nil
}

// Create mock.
func (m *VerificationCodeRepository) Create(ctx context.Context, code *auth.VerificationCode) error {
	m.Calls.Create++
	if m.CreateFn != nil {
		return m.CreateFn()
	}
	return nil
}

// InvalidatePurpose mock.
func (m *VerificationCodeRepository) InvalidatePurpose(ctx context.Context, principalID string, purpose auth.CodePurpose, at time.Time) error {
	m.Calls.InvalidatePurpose++
	if m.InvalidatePurposeFn != nil {
		return m.InvalidatePurposeFn()
	}
	return nil
}

// IncrementAttempts mock.
func (m *VerificationCodeRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	m.Calls.IncrementAttempts++
	if m.IncrementAttemptsFn != nil {
		return m.IncrementAttemptsFn()
	}
	return 1, nil
}

// Consume mock.
func (m *VerificationCodeRepository) Consume(ctx context.Context, id string, at time.Time) error {
	m.Calls.Consume++
	if m.ConsumeFn != nil {
		return m.ConsumeFn()
	}
	return nil
}

// SessionRepository mocks auth.SessionRepository.
type SessionRepository struct {
	ByIDFn                func() (*auth.Session, error)
	ByPrincipalFn         func() ([]*auth.Session, error)
	ActiveByFingerprintFn func() (*auth.Session, error)
	GetForUpdateFn        func() (*auth.Session, error)
	CreateFn              func() error
	UpdateFn              func() error
	TouchFn               func() error
	RevokeAllExceptFn     func() (int, error)
	TrustedFn             func() ([]*auth.Session, error)
	SeenFingerprintFn     func() (bool, error)
	Calls                 struct {
		ByID                int
		ByPrincipal         int
		ActiveByFingerprint int
		GetForUpdate        int
		Create              int
		Update              int
		Touch               int
		RevokeAllExcept     int
		Trusted             int
		SeenFingerprint     int
	}
}

// ByID mock.
func (m *SessionRepository) ByID(ctx context.Context, id string) (*auth.Session, error) {
	m.Calls.ByID++
	if m.ByIDFn != nil {
		return m.ByIDFn()
	}
	return &auth.Session{}, nil
}

// ByPrincipal mock.
func (m *SessionRepository) ByPrincipal(ctx context.Context, principalID string) ([]*auth.Session, error) {
	m.Calls.ByPrincipal++
	if m.ByPrincipalFn != nil {
		return m.ByPrincipalFn()
	}
	return []*auth.Session{}, nil
}

// ActiveByFingerprint mock.
func (m *SessionRepository) ActiveByFingerprint(ctx context.Context, principalID, fingerprint string) (*auth.Session, error) {
	m.Calls.ActiveByFingerprint++
	if m.ActiveByFingerprintFn != nil {
		return m.ActiveByFingerprintFn()
	}
	return nil, errors.New("session not found")
}

// GetForUpdate mock.
func (m *SessionRepository) GetForUpdate(ctx context.Context, id string) (*auth.Session, error) {
	m.Calls.GetForUpdate++
	if m.GetForUpdateFn != nil {
		return m.GetForUpdateFn()
	}
	return &auth.Session{}, nil
}

// Create mock.
func (m *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	m.Calls.Create++
	if m.CreateFn != nil {
		return m.CreateFn()
	}
	return nil
}

// Update mock.
func (m *SessionRepository) Update(ctx context.Context, session *auth.Session) error {
	m.Calls.Update++
	if m.UpdateFn != nil {
		return m.UpdateFn()
	}
	return nil
}

// Touch mock.
func (m *SessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	m.Calls.Touch++
	if m.TouchFn != nil {
		return m.TouchFn()
	}
	return nil
}

// RevokeAllExcept mock.
func (m *SessionRepository) RevokeAllExcept(ctx context.Context, principalID, keepID, reason string, at time.Time) (int, error) {
	m.Calls.RevokeAllExcept++
	if m.RevokeAllExceptFn != nil {
		return m.RevokeAllExceptFn()
	}
	return 0, nil
}

// Trusted mock.
func (m *SessionRepository) Trusted(ctx context.Context, principalID string, now time.Time) ([]*auth.Session, error) {
	m.Calls.Trusted++
	if m.TrustedFn != nil {
		return m.TrustedFn()
	}
	return []*auth.Session{}, nil
}

// SeenFingerprint mock.
func (m *SessionRepository) SeenFingerprint(ctx context.Context, principalID, fingerprint string, since time.Time) (bool, error) {
	m.Calls.SeenFingerprint++
	if m.SeenFingerprintFn != nil {
		return m.SeenFingerprintFn()
	}
	return false, nil
}

// RefreshFamilyRepository mocks auth.RefreshFamilyRepository.
type RefreshFamilyRepository struct {
	ByIDFn              func() (*auth.RefreshFamily, error)
	CreateFn            func() error
	AdvanceFn           func() (int, error)
	RevokeFn            func() error
	RevokeByPrincipalFn func() (int, error)
	RevokeBySessionFn   func() (int, error)
	Calls               struct {
		ByID              int
		Create            int
		Advance           int
		Revoke            int
		RevokeByPrincipal int
		RevokeBySession   int
	}
}

// ByID mock.
func (m *RefreshFamilyRepository) ByID(ctx context.Context, id string) (*auth.RefreshFamily, error) {
	m.Calls.ByID++
	if m.ByIDFn != nil {
		return m.ByIDFn()
	}
	return &auth.RefreshFamily{}, nil
}

// Create mock.
func (m *RefreshFamilyRepository) Create(ctx context.Context, family *auth.RefreshFamily) error {
	m.Calls.Create++
	if m.CreateFn != nil {
		return m.CreateFn()
	}
	return nil
}

// Advance mock.
func (m *RefreshFamilyRepository) Advance(ctx context.Context, id string, fromVersion int) (int, error) {
	m.Calls.Advance++
	if m.AdvanceFn != nil {
		return m.AdvanceFn()
	}
	return fromVersion + 1, nil
}

// Revoke mock.
func (m *RefreshFamilyRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	m.Calls.Revoke++
	if m.RevokeFn != nil {
		return m.RevokeFn()
	}
	return nil
}

// RevokeByPrincipal mock.
func (m *RefreshFamilyRepository) RevokeByPrincipal(ctx context.Context, principalID string, at time.Time) (int, error) {
	m.Calls.RevokeByPrincipal++
	if m.RevokeByPrincipalFn != nil {
		return m.RevokeByPrincipalFn()
	}
	return 0, nil
}

// RevokeBySession mock.
func (m *RefreshFamilyRepository) RevokeBySession(ctx context.Context, sessionID string, at time.Time) (int, error) {
	m.Calls.RevokeBySession++
	if m.RevokeBySessionFn != nil {
		return m.RevokeBySessionFn()
	}
	return 0, nil
}

// LoginAttemptRepository mocks auth.LoginAttemptRepository.
type LoginAttemptRepository struct {
	CreateFn         func() error
	ByPrincipalFn    func() ([]*auth.LoginAttempt, int, error)
	RecentFailuresFn func() (int, error)
	Calls            struct {
		Create         int
		ByPrincipal    int
		RecentFailures int
	}
}

// Create mock.
func (m *LoginAttemptRepository) Create(ctx context.Context, attempt *auth.LoginAttempt) error {
	m.Calls.Create++
	if m.CreateFn != nil {
		return m.CreateFn()
	}
	return nil
}

// ByPrincipal mock.
func (m *LoginAttemptRepository) ByPrincipal(ctx context.Context, principalID string, limit, offset int) ([]*auth.LoginAttempt, int, error) {
	m.Calls.ByPrincipal++
	if m.ByPrincipalFn != nil {
		return m.ByPrincipalFn()
	}
	return []*auth.LoginAttempt{}, 0, nil
}

// RecentFailures mock.
func (m *LoginAttemptRepository) RecentFailures(ctx context.Context, email string, since time.Time) (int, error) {
	m.Calls.RecentFailures++
	if m.RecentFailuresFn != nil {
		return m.RecentFailuresFn()
	}
	return 0, nil
}

// SecurityEventRepository mocks auth.SecurityEventRepository.
type SecurityEventRepository struct {
	CreateFn      func() error
	ByPrincipalFn func() ([]*auth.SecurityEvent, int, error)
	AcknowledgeFn func() error
	Calls         struct {
		Create      int
		ByPrincipal int
		Acknowledge int
	}
}

// Create mock.
func (m *SecurityEventRepository) Create(ctx context.Context, event *auth.SecurityEvent) error {
	m.Calls.Create++
	if m.CreateFn != nil {
		return m.CreateFn()
	}
	return nil
}

// ByPrincipal mock.
func (m *SecurityEventRepository) ByPrincipal(ctx context.Context, principalID string, filter auth.SecurityEventFilter) ([]*auth.SecurityEvent, int, error) {
	m.Calls.ByPrincipal++
	if m.ByPrincipalFn != nil {
		return m.ByPrincipalFn()
	}
	return []*auth.SecurityEvent{}, 0, nil
}

// Acknowledge mock.
func (m *SecurityEventRepository) Acknowledge(ctx context.Context, id int64, principalID string, at time.Time) error {
	m.Calls.Acknowledge++
	if m.AcknowledgeFn != nil {
		return m.AcknowledgeFn()
	}
	return nil
}

// AuditRepository mocks auth.AuditRepository.
type AuditRepository struct {
	CreateFn  func() error
	ListFn    func() ([]*auth.AuditEntry, int, error)
	ByActorFn func() ([]*auth.AuditEntry, int, error)
	Calls     struct {
		Create  int
		List    int
		ByActor int
	}
}

// Create mock.
func (m *AuditRepository) Create(ctx context.Context, entry *auth.AuditEntry) error {
	m.Calls.Create++
	if m.CreateFn != nil {
		return m.CreateFn()
	}
	return nil
}

// List mock.
func (m *AuditRepository) List(ctx context.Context, limit, offset int) ([]*auth.AuditEntry, int, error) {
	m.Calls.List++
	if m.ListFn != nil {
		return m.ListFn()
	}
	return []*auth.AuditEntry{}, 0, nil
}

// ByActor mock.
func (m *AuditRepository) ByActor(ctx context.Context, actorID string, limit, offset int) ([]*auth.AuditEntry, int, error) {
	m.Calls.ByActor++
	if m.ByActorFn != nil {
		return m.ByActorFn()
	}
	return []*auth.AuditEntry{}, 0, nil
}

// PolicyRepository mocks auth.PolicyRepository.
type PolicyRepository struct {
	GetFn    func() (*auth.MFAPolicy, error)
	UpdateFn func() error
	Calls    struct {
		Get    int
		Update int
	}
}

// Get mock.
func (m *PolicyRepository) Get(ctx context.Context) (*auth.MFAPolicy, error) {
	m.Calls.Get++
	if m.GetFn != nil {
		return m.GetFn()
	}
	return auth.DefaultMFAPolicy(), nil
}

// Update mock.
func (m *PolicyRepository) Update(ctx context.Context, policy *auth.MFAPolicy) error {
	m.Calls.Update++
	if m.UpdateFn != nil {
		return m.UpdateFn()
	}
	return nil
}
