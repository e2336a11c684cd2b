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

func totpChallenge(methods, completed []auth.Method) func() (*auth.ChallengeClaims, error) {
	return func() (*auth.ChallengeClaims, error) {
		claims := &auth.ChallengeClaims{
			Kind:        auth.KindChallenge,
			Methods:     methods,
			Completed:   completed,
			Fingerprint: "fingerprint",
		}
		claims.Subject = "principal-id"
		return claims, nil
	}
}

func verifyService(repoMngr *test.RepositoryManager, tokenSvc *test.TokenService, otpSvc *test.OTPService, codeSvc *test.CodeService, sessionSvc *test.SessionService, recorder *test.EventRecorder) auth.LoginAPI {
	return NewService(
		WithLogger(log.NewNopLogger()),
		WithRepoManager(repoMngr),
		WithTokenService(tokenSvc),
		WithPassword(&test.PasswordService{}),
		WithOTP(otpSvc),
		WithCodes(codeSvc),
		WithSessions(sessionSvc),
		WithLimiter(&test.RateLimiter{}),
		WithEvents(recorder),
		WithMessaging(&test.MessagingService{}),
	)
}

func TestLoginAPI_VerifyTOTP(t *testing.T) {
	tt := []struct {
		name           string
		methods        []auth.Method
		otpSvc         *test.OTPService
		failedAttempts int
		errCode        auth.ErrCode
		consumeCalls   int
		wantAttempts   int
		wantLocked     bool
	}{
		{
			name:         "Completes the challenge",
			methods:      []auth.Method{auth.MethodTOTP},
			otpSvc:       &test.OTPService{},
			consumeCalls: 1,
		},
		{
			name:    "Rejects an incorrect code",
			methods: []auth.Method{auth.MethodTOTP},
			otpSvc: &test.OTPService{
				ValidateTOTPFn: func() error {
					return auth.ErrCodeInvalid("incorrect code provided")
				},
			},
			errCode:      auth.ECodeInvalid,
			wantAttempts: 1,
		},
		{
			name:    "Locks after the attempt budget",
			methods: []auth.Method{auth.MethodTOTP},
			otpSvc: &test.OTPService{
				ValidateTOTPFn: func() error {
					return auth.ErrCodeInvalid("incorrect code provided")
				},
			},
			failedAttempts: 4,
			errCode:        auth.ELocked,
			wantAttempts:   5,
			wantLocked:     true,
		},
		{
			name:    "Rejects a method the challenge does not allow",
			methods: []auth.Method{auth.MethodEmail},
			otpSvc:  &test.OTPService{},
			errCode: auth.EChallengeInvalid,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			enrollment := &auth.MFAEnrollment{
				PrincipalID:    "principal-id",
				TOTPSecret:     "encrypted-totp-secret",
				IsTOTPEnabled:  true,
				FailedAttempts: tc.failedAttempts,
			}
			repoMngr := &test.RepositoryManager{
				PrincipalFn: func() auth.PrincipalRepository {
					return &test.PrincipalRepository{
						ByIDFn: func() (*auth.Principal, error) {
							return testLoginPrincipal(), nil
						},
					}
				},
				MFAFn: func() auth.MFARepository {
					return &test.MFARepository{
						ByPrincipalFn: func() (*auth.MFAEnrollment, error) {
							return enrollment, nil
						},
						GetForUpdateFn: func() (*auth.MFAEnrollment, error) {
							return enrollment, nil
						},
					}
				},
			}
			tokenSvc := &test.TokenService{
				VerifyChallengeFn: totpChallenge(tc.methods, nil),
			}

			svc := verifyService(repoMngr, tokenSvc, tc.otpSvc, &test.CodeService{}, &test.SessionService{}, &test.EventRecorder{})

			reqBody := `{"challenge":"signed-challenge-token","token":"123456"}`
			req := httptest.NewRequest("POST", "/auth/mfa/verify", strings.NewReader(reqBody))

			response, err := svc.VerifyTOTP(httptest.NewRecorder(), req)
			if code := auth.ErrorCode(err); code != tc.errCode {
				t.Fatalf("incorrect error code, want %s got %s (%v)", tc.errCode, code, err)
			}
			if tokenSvc.Calls.ConsumeChallenge != tc.consumeCalls {
				t.Errorf("incorrect ConsumeChallenge call count, want %d got %d",
					tc.consumeCalls, tokenSvc.Calls.ConsumeChallenge)
			}
			if enrollment.FailedAttempts != tc.wantAttempts {
				t.Errorf("incorrect failed attempts, want %d got %d",
					tc.wantAttempts, enrollment.FailedAttempts)
			}
			if tc.wantLocked && enrollment.LockedUntil == nil {
				t.Error("enrollment should be locked")
			}

			if tc.errCode != auth.ErrCode("") {
				return
			}
			result := response.(*auth.LoginResult)
			if result.Outcome != auth.OutcomeCredentials {
				t.Errorf("incorrect outcome, want %s got %s", auth.OutcomeCredentials, result.Outcome)
			}
		})
	}
}

func TestLoginAPI_VerifyEmailCode(t *testing.T) {
	enrollment := &auth.MFAEnrollment{
		PrincipalID:    "principal-id",
		IsEmailEnabled: true,
	}
	repoMngr := &test.RepositoryManager{
		PrincipalFn: func() auth.PrincipalRepository {
			return &test.PrincipalRepository{
				ByIDFn: func() (*auth.Principal, error) {
					return testLoginPrincipal(), nil
				},
			}
		},
		MFAFn: func() auth.MFARepository {
			return &test.MFARepository{
				ByPrincipalFn: func() (*auth.MFAEnrollment, error) {
					return enrollment, nil
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
	}
	tokenSvc := &test.TokenService{
		VerifyChallengeFn: totpChallenge([]auth.Method{auth.MethodEmail}, nil),
	}
	codeSvc := &test.CodeService{}
	sessionSvc := &test.SessionService{}

	svc := verifyService(repoMngr, tokenSvc, &test.OTPService{}, codeSvc, sessionSvc, &test.EventRecorder{})

	reqBody := `{"challenge":"signed-challenge-token","code":"123456","trust_device":true}`
	req := httptest.NewRequest("POST", "/auth/mfa/email/verify", strings.NewReader(reqBody))

	response, err := svc.VerifyEmailCode(httptest.NewRecorder(), req)
	if err != nil {
		t.Fatal("failed to verify email code:", err)
	}

	result := response.(*auth.LoginResult)
	if result.Outcome != auth.OutcomeCredentials {
		t.Fatalf("incorrect outcome, want %s got %s", auth.OutcomeCredentials, result.Outcome)
	}
	if codeSvc.Calls.Verify != 1 {
		t.Errorf("incorrect Verify call count, want 1 got %d", codeSvc.Calls.Verify)
	}
	if sessionSvc.Calls.MarkTrusted != 1 {
		t.Errorf("incorrect MarkTrusted call count, want 1 got %d", sessionSvc.Calls.MarkTrusted)
	}
}

func TestLoginAPI_VerifyEmailCodeRequiresTOTPFirst(t *testing.T) {
	repoMngr := &test.RepositoryManager{
		PrincipalFn: func() auth.PrincipalRepository {
			return &test.PrincipalRepository{
				ByIDFn: func() (*auth.Principal, error) {
					return testLoginPrincipal(), nil
				},
			}
		},
		MFAFn: func() auth.MFARepository {
			return &test.MFARepository{
				ByPrincipalFn: func() (*auth.MFAEnrollment, error) {
					return &auth.MFAEnrollment{
						PrincipalID:    "principal-id",
						IsTOTPEnabled:  true,
						IsEmailEnabled: true,
					}, nil
				},
			}
		},
		PolicyFn: func() auth.PolicyRepository {
			return &test.PolicyRepository{
				GetFn: func() (*auth.MFAPolicy, error) {
					p := auth.DefaultMFAPolicy()
					p.Mode = auth.MFATOTPAndEmail
					return p, nil
				},
			}
		},
	}
	tokenSvc := &test.TokenService{
		VerifyChallengeFn: totpChallenge([]auth.Method{auth.MethodTOTP, auth.MethodEmail}, nil),
	}

	svc := verifyService(repoMngr, tokenSvc, &test.OTPService{}, &test.CodeService{}, &test.SessionService{}, &test.EventRecorder{})

	reqBody := `{"challenge":"signed-challenge-token","code":"123456"}`
	req := httptest.NewRequest("POST", "/auth/mfa/email/verify", strings.NewReader(reqBody))

	_, err := svc.VerifyEmailCode(httptest.NewRecorder(), req)
	if code := auth.ErrorCode(err); code != auth.EChallengeInvalid {
		t.Errorf("incorrect error code, want %s got %s", auth.EChallengeInvalid, code)
	}
}

func TestLoginAPI_VerifyTOTPContinuesToEmail(t *testing.T) {
	enrollment := &auth.MFAEnrollment{
		PrincipalID:    "principal-id",
		TOTPSecret:     "encrypted-totp-secret",
		IsTOTPEnabled:  true,
		IsEmailEnabled: true,
	}
	repoMngr := &test.RepositoryManager{
		PrincipalFn: func() auth.PrincipalRepository {
			return &test.PrincipalRepository{
				ByIDFn: func() (*auth.Principal, error) {
					return testLoginPrincipal(), nil
				},
			}
		},
		MFAFn: func() auth.MFARepository {
			return &test.MFARepository{
				ByPrincipalFn: func() (*auth.MFAEnrollment, error) {
					return enrollment, nil
				},
			}
		},
		PolicyFn: func() auth.PolicyRepository {
			return &test.PolicyRepository{
				GetFn: func() (*auth.MFAPolicy, error) {
					p := auth.DefaultMFAPolicy()
					p.Mode = auth.MFATOTPAndEmail
					return p, nil
				},
			}
		},
	}
	tokenSvc := &test.TokenService{
		VerifyChallengeFn: totpChallenge([]auth.Method{auth.MethodTOTP, auth.MethodEmail}, nil),
	}
	codeSvc := &test.CodeService{}

	svc := verifyService(repoMngr, tokenSvc, &test.OTPService{}, codeSvc, &test.SessionService{}, &test.EventRecorder{})

	reqBody := `{"challenge":"signed-challenge-token","token":"123456"}`
	req := httptest.NewRequest("POST", "/auth/mfa/verify", strings.NewReader(reqBody))

	response, err := svc.VerifyTOTP(httptest.NewRecorder(), req)
	if err != nil {
		t.Fatal("failed to verify totp:", err)
	}

	result := response.(*auth.LoginResult)
	if result.Outcome != auth.OutcomeMFARequired {
		t.Fatalf("incorrect outcome, want %s got %s", auth.OutcomeMFARequired, result.Outcome)
	}
	if len(result.Challenge.Methods) != 1 || result.Challenge.Methods[0] != auth.MethodEmail {
		t.Errorf("incorrect remaining methods: %v", result.Challenge.Methods)
	}
	if !result.Challenge.IsEmailCodeSent {
		t.Error("email code should be sent for the follow-up challenge")
	}
	if tokenSvc.Calls.ConsumeChallenge != 1 {
		t.Errorf("incorrect ConsumeChallenge call count, want 1 got %d", tokenSvc.Calls.ConsumeChallenge)
	}
	if tokenSvc.Calls.MintChallenge != 1 {
		t.Errorf("incorrect MintChallenge call count, want 1 got %d", tokenSvc.Calls.MintChallenge)
	}
}

func TestLoginAPI_VerifyBackupCode(t *testing.T) {
	consumedAt := time.Time{}

	backupRepo := &test.BackupCodeRepository{
		ByPrincipalFn: func() ([]*auth.BackupCode, error) {
			return []*auth.BackupCode{
				{ID: "backup-code-id", PrincipalID: "principal-id", CodeHash: "hashed-backup-code"},
			}, nil
		},
	}
	repoMngr := &test.RepositoryManager{
		PrincipalFn: func() auth.PrincipalRepository {
			return &test.PrincipalRepository{
				ByIDFn: func() (*auth.Principal, error) {
					return testLoginPrincipal(), nil
				},
			}
		},
		MFAFn: func() auth.MFARepository {
			return &test.MFARepository{
				ByPrincipalFn: func() (*auth.MFAEnrollment, error) {
					return &auth.MFAEnrollment{PrincipalID: "principal-id", IsTOTPEnabled: true}, nil
				},
			}
		},
		BackupCodeFn: func() auth.BackupCodeRepository {
			return backupRepo
		},
	}
	tokenSvc := &test.TokenService{
		VerifyChallengeFn: totpChallenge([]auth.Method{auth.MethodTOTP}, nil),
	}
	otpSvc := &test.OTPService{
		MatchBackupCodeFn: func() (*auth.BackupCode, error) {
			return &auth.BackupCode{ID: "backup-code-id"}, nil
		},
	}

	svc := verifyService(repoMngr, tokenSvc, otpSvc, &test.CodeService{}, &test.SessionService{}, &test.EventRecorder{})

	reqBody := `{"challenge":"signed-challenge-token","code":"aaaaa-bbbbb"}`
	req := httptest.NewRequest("POST", "/auth/mfa/verify-backup", strings.NewReader(reqBody))

	response, err := svc.VerifyBackupCode(httptest.NewRecorder(), req)
	if err != nil {
		t.Fatal("failed to verify backup code:", err)
	}

	result := response.(*auth.LoginResult)
	if result.Outcome != auth.OutcomeCredentials {
		t.Fatalf("incorrect outcome, want %s got %s", auth.OutcomeCredentials, result.Outcome)
	}
	if backupRepo.Calls.Consume != 1 {
		t.Errorf("incorrect Consume call count, want 1 got %d", backupRepo.Calls.Consume)
	}
	_ = consumedAt
}

func TestLoginAPI_ResendEmailCodeThrottled(t *testing.T) {
	repoMngr := &test.RepositoryManager{
		PrincipalFn: func() auth.PrincipalRepository {
			return &test.PrincipalRepository{
				ByIDFn: func() (*auth.Principal, error) {
					return testLoginPrincipal(), nil
				},
			}
		},
	}
	tokenSvc := &test.TokenService{
		VerifyChallengeFn: totpChallenge([]auth.Method{auth.MethodEmail}, nil),
	}
	limiter := &test.RateLimiter{
		CheckFn: func() (auth.RateDecision, error) {
			return auth.RateDecision{Allowed: false, RetryAfter: 30 * time.Second}, nil
		},
	}

	svc := NewService(
		WithLogger(log.NewNopLogger()),
		WithRepoManager(repoMngr),
		WithTokenService(tokenSvc),
		WithCodes(&test.CodeService{}),
		WithLimiter(limiter),
		WithEvents(&test.EventRecorder{}),
		WithMessaging(&test.MessagingService{}),
	)

	reqBody := `{"challenge":"signed-challenge-token"}`
	req := httptest.NewRequest("POST", "/auth/mfa/email/resend", strings.NewReader(reqBody))

	_, err := svc.ResendEmailCode(httptest.NewRecorder(), req)
	if code := auth.ErrorCode(err); code != auth.ERateLimited {
		t.Errorf("incorrect error code, want %s got %s", auth.ERateLimited, code)
	}
}
