package loginapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/kit/log"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/test"
)

func testLoginPrincipal() *auth.Principal {
	return &auth.Principal{
		ID:        "principal-id",
		Handle:    "jane",
		Email:     "jane@example.com",
		Password:  "$2a$10$ItS7Z4kmLRw6ycT2hLzlOe9NzVfyQqbBnMy2TDDJyR0swBaGqMOMe",
		Role:      auth.RoleUser,
		IsActive:  true,
		CreatedAt: time.Now().Add(-90 * 24 * time.Hour),
	}
}

func TestLoginAPI_Login(t *testing.T) {
	lockedUntil := time.Now().Add(10 * time.Minute)

	tt := []struct {
		name          string
		principal     *auth.Principal
		principalErr  error
		passwordSvc   *test.PasswordService
		policy        func() *auth.MFAPolicy
		enrollment    *auth.MFAEnrollment
		enrollmentErr error
		trusted       bool
		errCode       auth.ErrCode
		outcome       auth.LoginOutcomeKind
		attemptCalls  int
		dummyCalls    int
	}{
		{
			name:         "Issues credentials when no factor is required",
			principal:    testLoginPrincipal(),
			passwordSvc:  &test.PasswordService{},
			policy:       auth.DefaultMFAPolicy,
			outcome:      auth.OutcomeCredentials,
			attemptCalls: 1,
		},
		{
			name:         "Hides unknown emails",
			principalErr: auth.ErrNotFound("principal not found"),
			passwordSvc:  &test.PasswordService{},
			policy:       auth.DefaultMFAPolicy,
			errCode:      auth.EInvalidCredentials,
			attemptCalls: 1,
			dummyCalls:   1,
		},
		{
			name:      "Hides bad passwords",
			principal: testLoginPrincipal(),
			passwordSvc: &test.PasswordService{
				ValidateFn: func() error {
					return auth.ErrInvalidCredentials("invalid email or password")
				},
			},
			policy:       auth.DefaultMFAPolicy,
			errCode:      auth.EInvalidCredentials,
			attemptCalls: 1,
		},
		{
			name: "Hides inactive accounts",
			principal: func() *auth.Principal {
				p := testLoginPrincipal()
				p.IsActive = false
				return p
			}(),
			passwordSvc:  &test.PasswordService{},
			policy:       auth.DefaultMFAPolicy,
			errCode:      auth.EInvalidCredentials,
			attemptCalls: 1,
			dummyCalls:   1,
		},
		{
			name:        "Returns a challenge for enrolled TOTP",
			principal:   testLoginPrincipal(),
			passwordSvc: &test.PasswordService{},
			policy: func() *auth.MFAPolicy {
				p := auth.DefaultMFAPolicy()
				p.Mode = auth.MFATOTPOnly
				return p
			},
			enrollment: &auth.MFAEnrollment{
				PrincipalID:   "principal-id",
				IsTOTPEnabled: true,
			},
			outcome: auth.OutcomeMFARequired,
		},
		{
			name:        "Waives MFA for a trusted device",
			principal:   testLoginPrincipal(),
			passwordSvc: &test.PasswordService{},
			policy: func() *auth.MFAPolicy {
				p := auth.DefaultMFAPolicy()
				p.Mode = auth.MFATOTPOnly
				return p
			},
			enrollment: &auth.MFAEnrollment{
				PrincipalID:   "principal-id",
				IsTOTPEnabled: true,
			},
			trusted:      true,
			outcome:      auth.OutcomeCredentials,
			attemptCalls: 1,
		},
		{
			name:        "Pivots to setup under enforcement",
			principal:   testLoginPrincipal(),
			passwordSvc: &test.PasswordService{},
			policy: func() *auth.MFAPolicy {
				p := auth.DefaultMFAPolicy()
				p.Mode = auth.MFATOTPOnly
				p.IsEnforcementEnabled = true
				return p
			},
			enrollmentErr: auth.ErrNotFound("mfa enrollment not found"),
			outcome:       auth.OutcomeMFASetupRequired,
		},
		{
			name:        "Rejects a locked enrollment",
			principal:   testLoginPrincipal(),
			passwordSvc: &test.PasswordService{},
			policy: func() *auth.MFAPolicy {
				p := auth.DefaultMFAPolicy()
				p.Mode = auth.MFATOTPOnly
				return p
			},
			enrollment: &auth.MFAEnrollment{
				PrincipalID:   "principal-id",
				IsTOTPEnabled: true,
				LockedUntil:   &lockedUntil,
			},
			errCode:      auth.ELocked,
			attemptCalls: 1,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			repoMngr := &test.RepositoryManager{
				PrincipalFn: func() auth.PrincipalRepository {
					return &test.PrincipalRepository{
						ByEmailFn: func() (*auth.Principal, error) {
							if tc.principalErr != nil {
								return nil, tc.principalErr
							}
							return tc.principal, nil
						},
					}
				},
				PolicyFn: func() auth.PolicyRepository {
					return &test.PolicyRepository{
						GetFn: func() (*auth.MFAPolicy, error) {
							return tc.policy(), nil
						},
					}
				},
				MFAFn: func() auth.MFARepository {
					return &test.MFARepository{
						ByPrincipalFn: func() (*auth.MFAEnrollment, error) {
							if tc.enrollmentErr != nil {
								return nil, tc.enrollmentErr
							}
							return tc.enrollment, nil
						},
					}
				},
			}
			recorder := &test.EventRecorder{}
			sessionSvc := &test.SessionService{
				IsTrustedFn: func() (bool, error) {
					return tc.trusted, nil
				},
			}

			svc := NewService(
				WithLogger(log.NewNopLogger()),
				WithRepoManager(repoMngr),
				WithTokenService(&test.TokenService{}),
				WithPassword(tc.passwordSvc),
				WithOTP(&test.OTPService{}),
				WithCodes(&test.CodeService{}),
				WithSessions(sessionSvc),
				WithLimiter(&test.RateLimiter{}),
				WithEvents(recorder),
				WithMessaging(&test.MessagingService{}),
			)

			reqBody := `{"email":"jane@example.com","password":"swordfish-42"}`
			req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(reqBody))

			response, err := svc.Login(httptest.NewRecorder(), req)
			if code := auth.ErrorCode(err); code != tc.errCode {
				t.Fatalf("incorrect error code, want %s got %s (%v)", tc.errCode, code, err)
			}
			if recorder.Calls.Attempt != tc.attemptCalls {
				t.Errorf("incorrect Attempt call count, want %d got %d",
					tc.attemptCalls, recorder.Calls.Attempt)
			}
			if tc.passwordSvc.Calls.DummyValidate != tc.dummyCalls {
				t.Errorf("incorrect DummyValidate call count, want %d got %d",
					tc.dummyCalls, tc.passwordSvc.Calls.DummyValidate)
			}

			if tc.errCode != auth.ErrCode("") {
				return
			}

			result, ok := response.(*auth.LoginResult)
			if !ok {
				t.Fatal("unexpected response shape")
			}
			if result.Outcome != tc.outcome {
				t.Errorf("incorrect outcome, want %s got %s", tc.outcome, result.Outcome)
			}
			switch tc.outcome {
			case auth.OutcomeCredentials:
				if result.Credentials == nil || result.Credentials.Access != "signed-access-token" {
					t.Error("credentials should be issued")
				}
			case auth.OutcomeMFARequired:
				if result.Challenge == nil || result.Challenge.Challenge != "signed-challenge-token" {
					t.Error("a challenge should be returned")
				}
			case auth.OutcomeMFASetupRequired:
				if result.SetupToken != "signed-setup-token" {
					t.Error("a setup token should be returned")
				}
			}
		})
	}
}

func TestLoginAPI_LoginSendsEmailCode(t *testing.T) {
	repoMngr := &test.RepositoryManager{
		PrincipalFn: func() auth.PrincipalRepository {
			return &test.PrincipalRepository{
				ByEmailFn: func() (*auth.Principal, error) {
					return testLoginPrincipal(), nil
				},
			}
		},
		PolicyFn: func() auth.PolicyRepository {
			return &test.PolicyRepository{
				GetFn: func() (*auth.MFAPolicy, error) {
					p := auth.DefaultMFAPolicy()
					p.Mode = auth.MFAEmailOnly
					return p, nil
				},
			}
		},
		MFAFn: func() auth.MFARepository {
			return &test.MFARepository{
				ByPrincipalFn: func() (*auth.MFAEnrollment, error) {
					return &auth.MFAEnrollment{
						PrincipalID:     "principal-id",
						IsEmailEnabled:  true,
						PreferredMethod: auth.MethodEmail,
					}, nil
				},
			}
		},
	}
	codeSvc := &test.CodeService{}
	messagingSvc := &test.MessagingService{}

	svc := NewService(
		WithLogger(log.NewNopLogger()),
		WithRepoManager(repoMngr),
		WithTokenService(&test.TokenService{}),
		WithPassword(&test.PasswordService{}),
		WithCodes(codeSvc),
		WithSessions(&test.SessionService{}),
		WithLimiter(&test.RateLimiter{}),
		WithEvents(&test.EventRecorder{}),
		WithMessaging(messagingSvc),
	)

	reqBody := `{"email":"jane@example.com","password":"swordfish-42"}`
	req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(reqBody))

	response, err := svc.Login(httptest.NewRecorder(), req)
	if err != nil {
		t.Fatal("failed to login:", err)
	}

	result := response.(*auth.LoginResult)
	if result.Outcome != auth.OutcomeMFARequired {
		t.Fatalf("incorrect outcome, want %s got %s", auth.OutcomeMFARequired, result.Outcome)
	}
	if !result.Challenge.IsEmailCodeSent {
		t.Error("email code should be sent")
	}
	if codeSvc.Calls.Issue != 1 {
		t.Errorf("incorrect Issue call count, want 1 got %d", codeSvc.Calls.Issue)
	}
	if messagingSvc.Calls.Send != 1 {
		t.Errorf("incorrect Send call count, want 1 got %d", messagingSvc.Calls.Send)
	}
}

func TestLoginAPI_InactiveAccountRecordsInactiveReason(t *testing.T) {
	inactive := testLoginPrincipal()
	inactive.IsActive = false

	var recorded *auth.LoginAttempt
	recorder := &test.EventRecorder{
		AttemptFn: func(attempt *auth.LoginAttempt) {
			recorded = attempt
		},
	}
	passwordSvc := &test.PasswordService{
		ValidateFn: func() error {
			return auth.ErrInvalidCredentials("invalid email or password")
		},
	}
	repoMngr := &test.RepositoryManager{
		PrincipalFn: func() auth.PrincipalRepository {
			return &test.PrincipalRepository{
				ByEmailFn: func() (*auth.Principal, error) {
					return inactive, nil
				},
			}
		},
	}

	svc := NewService(
		WithLogger(log.NewNopLogger()),
		WithRepoManager(repoMngr),
		WithTokenService(&test.TokenService{}),
		WithPassword(passwordSvc),
		WithSessions(&test.SessionService{}),
		WithLimiter(&test.RateLimiter{}),
		WithEvents(recorder),
	)

	reqBody := `{"email":"jane@example.com","password":"wrong-password"}`
	req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(reqBody))

	_, err := svc.Login(httptest.NewRecorder(), req)
	if code := auth.ErrorCode(err); code != auth.EInvalidCredentials {
		t.Fatalf("incorrect error code, want %s got %s (%v)", auth.EInvalidCredentials, code, err)
	}

	// account state decides before the password is ever consulted
	if passwordSvc.Calls.Validate != 0 {
		t.Errorf("incorrect Validate call count, want 0 got %d", passwordSvc.Calls.Validate)
	}
	if passwordSvc.Calls.DummyValidate != 1 {
		t.Errorf("incorrect DummyValidate call count, want 1 got %d", passwordSvc.Calls.DummyValidate)
	}
	if recorded == nil {
		t.Fatal("no login attempt was recorded")
	}
	if recorded.Reason != auth.ReasonAccountInactive {
		t.Errorf("incorrect attempt reason, want %s got %s",
			auth.ReasonAccountInactive, recorded.Reason)
	}
}

func TestLoginAPI_NewDeviceWindow(t *testing.T) {
	history := []*auth.Session{
		{ID: "old-session", Browser: "Firefox", OS: "Linux"},
	}

	tt := []struct {
		name         string
		seenRecently bool
		isNew        bool
		eventCalls   int
		eventType    auth.SecurityEventType
	}{
		{
			name:         "Unseen fingerprint raises a new device event",
			seenRecently: false,
			isNew:        true,
			eventCalls:   1,
			eventType:    auth.EventNewDevice,
		},
		{
			name:         "Recently seen fingerprint stays quiet",
			seenRecently: true,
			isNew:        true,
		},
		{
			name:         "Refreshed session stays quiet",
			seenRecently: false,
			isNew:        false,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			var event *auth.SecurityEvent
			recorder := &test.EventRecorder{
				EventFn: func(e *auth.SecurityEvent) {
					event = e
				},
			}
			sessionSvc := &test.SessionService{
				SeenFingerprintFn: func() (bool, error) {
					return tc.seenRecently, nil
				},
				CreateOrRefreshFn: func() (*auth.Session, bool, error) {
					return &auth.Session{
						ID:      "session-id",
						Browser: "Chrome",
						OS:      "Windows",
					}, tc.isNew, nil
				},
			}
			repoMngr := &test.RepositoryManager{
				PrincipalFn: func() auth.PrincipalRepository {
					return &test.PrincipalRepository{
						ByEmailFn: func() (*auth.Principal, error) {
							return testLoginPrincipal(), nil
						},
					}
				},
				SessionFn: func() auth.SessionRepository {
					return &test.SessionRepository{
						ByPrincipalFn: func() ([]*auth.Session, error) {
							return history, nil
						},
					}
				},
			}

			svc := NewService(
				WithLogger(log.NewNopLogger()),
				WithRepoManager(repoMngr),
				WithTokenService(&test.TokenService{}),
				WithPassword(&test.PasswordService{}),
				WithSessions(sessionSvc),
				WithLimiter(&test.RateLimiter{}),
				WithEvents(recorder),
			)

			reqBody := `{"email":"jane@example.com","password":"swordfish-42"}`
			req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(reqBody))

			_, err := svc.Login(httptest.NewRecorder(), req)
			if err != nil {
				t.Fatal("failed to login:", err)
			}

			if sessionSvc.Calls.SeenFingerprint != 1 {
				t.Errorf("incorrect SeenFingerprint call count, want 1 got %d",
					sessionSvc.Calls.SeenFingerprint)
			}
			if recorder.Calls.Event != tc.eventCalls {
				t.Fatalf("incorrect Event call count, want %d got %d",
					tc.eventCalls, recorder.Calls.Event)
			}
			if tc.eventCalls == 1 && event.Type != tc.eventType {
				t.Errorf("incorrect event type, want %s got %s", tc.eventType, event.Type)
			}
		})
	}
}
