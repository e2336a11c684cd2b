package mfaapi

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/golang-jwt/jwt/v5"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/httpapi"
	"github.com/castellan/castellan/internal/test"
)

func testPrincipal() *auth.Principal {
	return &auth.Principal{
		ID:       "principal-id",
		Handle:   "jane",
		Email:    "jane@example.com",
		Role:     auth.RoleUser,
		IsActive: true,
	}
}

func principalRepo() auth.PrincipalRepository {
	return &test.PrincipalRepository{
		ByIDFn: func() (*auth.Principal, error) {
			return testPrincipal(), nil
		},
	}
}

func authTokenService() *test.TokenService {
	return &test.TokenService{
		VerifyAccessFn: func() (*auth.AccessClaims, error) {
			return &auth.AccessClaims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: "principal-id"},
				SessionID:        "session-id",
			}, nil
		},
		VerifySetupFn: func() (*auth.SetupClaims, error) {
			claims := &auth.SetupClaims{Kind: auth.KindSetup}
			claims.Subject = "principal-id"
			return claims, nil
		},
	}
}

func TestMFAAPI_BeginTOTP(t *testing.T) {
	tt := []struct {
		name         string
		enrollment   func() (*auth.MFAEnrollment, error)
		errCode      auth.ErrCode
		createCalls  int
		updateCalls  int
		verifySetups int
	}{
		{
			name: "Stages a secret for a fresh account",
			enrollment: func() (*auth.MFAEnrollment, error) {
				return nil, auth.ErrNotFound("mfa enrollment not found")
			},
			createCalls:  1,
			verifySetups: 1,
		},
		{
			name: "Stages a secret on an existing enrollment",
			enrollment: func() (*auth.MFAEnrollment, error) {
				return &auth.MFAEnrollment{PrincipalID: "principal-id", IsEmailEnabled: true}, nil
			},
			updateCalls:  1,
			verifySetups: 1,
		},
		{
			name: "Refuses when already enabled",
			enrollment: func() (*auth.MFAEnrollment, error) {
				return &auth.MFAEnrollment{PrincipalID: "principal-id", IsTOTPEnabled: true}, nil
			},
			errCode:      auth.EConflict,
			verifySetups: 1,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			mfaRepo := &test.MFARepository{
				ByPrincipalFn:  tc.enrollment,
				GetForUpdateFn: tc.enrollment,
			}
			repoMngr := &test.RepositoryManager{
				PrincipalFn: principalRepo,
				MFAFn: func() auth.MFARepository {
					return mfaRepo
				},
			}
			tokenSvc := authTokenService()

			svc := NewService(
				WithLogger(log.NewNopLogger()),
				WithRepoManager(repoMngr),
				WithTokenService(tokenSvc),
				WithOTP(&test.OTPService{}),
				WithEvents(&test.EventRecorder{}),
			)

			reqBody := `{"setup_token":"signed-setup-token"}`
			req := httptest.NewRequest("POST", "/mfa/totp/begin", strings.NewReader(reqBody))

			response, err := svc.BeginTOTP(httptest.NewRecorder(), req)
			if code := auth.ErrorCode(err); code != tc.errCode {
				t.Fatalf("incorrect error code, want %s got %s (%v)", tc.errCode, code, err)
			}
			if tokenSvc.Calls.VerifySetup != tc.verifySetups {
				t.Errorf("incorrect VerifySetup call count, want %d got %d",
					tc.verifySetups, tokenSvc.Calls.VerifySetup)
			}
			if mfaRepo.Calls.Create != tc.createCalls {
				t.Errorf("incorrect Create call count, want %d got %d",
					tc.createCalls, mfaRepo.Calls.Create)
			}
			if mfaRepo.Calls.Update != tc.updateCalls {
				t.Errorf("incorrect Update call count, want %d got %d",
					tc.updateCalls, mfaRepo.Calls.Update)
			}

			if tc.errCode != auth.ErrCode("") {
				return
			}
			begin := response.(*beginTOTPResponse)
			if begin.Secret != "totp-secret" {
				t.Errorf("incorrect secret: %s", begin.Secret)
			}
			if begin.QRString == "" {
				t.Error("provisioning URL should be returned")
			}
		})
	}
}

func TestMFAAPI_ConfirmTOTP(t *testing.T) {
	tt := []struct {
		name         string
		otpSvc       *test.OTPService
		errCode      auth.ErrCode
		replaceCalls int
		eventCalls   int
		wantBackup   bool
	}{
		{
			name:         "Enables the factor and issues backup codes",
			otpSvc:       &test.OTPService{},
			replaceCalls: 1,
			eventCalls:   1,
			wantBackup:   true,
		},
		{
			name: "Rejects an incorrect code",
			otpSvc: &test.OTPService{
				ValidateTOTPFn: func() error {
					return auth.ErrCodeInvalid("incorrect code provided")
				},
			},
			errCode: auth.ECodeInvalid,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			enrollment := &auth.MFAEnrollment{
				PrincipalID: "principal-id",
				TOTPSecret:  "encrypted-totp-secret",
			}
			backupRepo := &test.BackupCodeRepository{}
			repoMngr := &test.RepositoryManager{
				PrincipalFn: principalRepo,
				MFAFn: func() auth.MFARepository {
					return &test.MFARepository{
						GetForUpdateFn: func() (*auth.MFAEnrollment, error) {
							return enrollment, nil
						},
					}
				},
				BackupCodeFn: func() auth.BackupCodeRepository {
					return backupRepo
				},
			}
			recorder := &test.EventRecorder{}

			svc := NewService(
				WithLogger(log.NewNopLogger()),
				WithRepoManager(repoMngr),
				WithTokenService(authTokenService()),
				WithOTP(tc.otpSvc),
				WithEvents(recorder),
			)

			reqBody := `{"setup_token":"signed-setup-token","code":"123456"}`
			req := httptest.NewRequest("POST", "/mfa/totp/confirm", strings.NewReader(reqBody))

			response, err := svc.ConfirmTOTP(httptest.NewRecorder(), req)
			if code := auth.ErrorCode(err); code != tc.errCode {
				t.Fatalf("incorrect error code, want %s got %s (%v)", tc.errCode, code, err)
			}
			if backupRepo.Calls.Replace != tc.replaceCalls {
				t.Errorf("incorrect Replace call count, want %d got %d",
					tc.replaceCalls, backupRepo.Calls.Replace)
			}
			if recorder.Calls.Event != tc.eventCalls {
				t.Errorf("incorrect Event call count, want %d got %d",
					tc.eventCalls, recorder.Calls.Event)
			}

			if tc.errCode != auth.ErrCode("") {
				return
			}
			confirm := response.(*confirmResponse)
			if !confirm.Enrollment.IsTOTPEnabled {
				t.Error("totp should be enabled")
			}
			if tc.wantBackup && len(confirm.BackupCodes) == 0 {
				t.Error("backup codes should be returned")
			}
		})
	}
}

func TestMFAAPI_DisableTOTP(t *testing.T) {
	enrollment := &auth.MFAEnrollment{
		PrincipalID:     "principal-id",
		TOTPSecret:      "encrypted-totp-secret",
		IsTOTPEnabled:   true,
		PreferredMethod: auth.MethodTOTP,
	}
	backupRepo := &test.BackupCodeRepository{}
	repoMngr := &test.RepositoryManager{
		PrincipalFn: principalRepo,
		MFAFn: func() auth.MFARepository {
			return &test.MFARepository{
				GetForUpdateFn: func() (*auth.MFAEnrollment, error) {
					return enrollment, nil
				},
			}
		},
		BackupCodeFn: func() auth.BackupCodeRepository {
			return backupRepo
		},
	}
	recorder := &test.EventRecorder{}
	tokenSvc := authTokenService()

	svc := NewService(
		WithLogger(log.NewNopLogger()),
		WithRepoManager(repoMngr),
		WithTokenService(tokenSvc),
		WithPassword(&test.PasswordService{}),
		WithOTP(&test.OTPService{}),
		WithEvents(recorder),
	)
	handler := httpapi.AuthMiddleware(svc.DisableTOTP, tokenSvc)

	reqBody := `{"password":"swordfish-42"}`
	req := httptest.NewRequest("POST", "/mfa/totp/disable", strings.NewReader(reqBody))
	req.Header.Set("Authorization", "Bearer signed-access-token")

	if _, err := handler(httptest.NewRecorder(), req); err != nil {
		t.Fatal("failed to disable totp:", err)
	}
	if enrollment.IsTOTPEnabled || enrollment.TOTPSecret != "" {
		t.Error("totp should be disabled and the secret cleared")
	}
	if enrollment.PreferredMethod != "" {
		t.Errorf("preferred method should be cleared, got %s", enrollment.PreferredMethod)
	}
	if backupRepo.Calls.DeleteByPrincipal != 1 {
		t.Errorf("incorrect DeleteByPrincipal call count, want 1 got %d", backupRepo.Calls.DeleteByPrincipal)
	}
	if recorder.Calls.Event != 1 {
		t.Errorf("incorrect Event call count, want 1 got %d", recorder.Calls.Event)
	}
}

func TestMFAAPI_EnableEmail(t *testing.T) {
	repoMngr := &test.RepositoryManager{
		PrincipalFn: principalRepo,
		MFAFn: func() auth.MFARepository {
			return &test.MFARepository{
				ByPrincipalFn: func() (*auth.MFAEnrollment, error) {
					return nil, auth.ErrNotFound("mfa enrollment not found")
				},
			}
		},
	}
	codeSvc := &test.CodeService{}
	messagingSvc := &test.MessagingService{
		SendFn: func(msg *auth.Message) error {
			if msg.Template != auth.TemplateMFASetup {
				t.Errorf("incorrect template, want %s got %s", auth.TemplateMFASetup, msg.Template)
			}
			if msg.Address != "jane@example.com" {
				t.Errorf("incorrect address: %s", msg.Address)
			}
			return nil
		},
	}
	tokenSvc := authTokenService()

	svc := NewService(
		WithLogger(log.NewNopLogger()),
		WithRepoManager(repoMngr),
		WithTokenService(tokenSvc),
		WithCodes(codeSvc),
		WithEvents(&test.EventRecorder{}),
		WithMessaging(messagingSvc),
	)
	handler := httpapi.AuthMiddleware(svc.EnableEmail, tokenSvc)

	req := httptest.NewRequest("POST", "/mfa/email/begin", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer signed-access-token")

	if _, err := handler(httptest.NewRecorder(), req); err != nil {
		t.Fatal("failed to begin email enrollment:", err)
	}
	if codeSvc.Calls.Issue != 1 {
		t.Errorf("incorrect Issue call count, want 1 got %d", codeSvc.Calls.Issue)
	}
	if messagingSvc.Calls.Send != 1 {
		t.Errorf("incorrect Send call count, want 1 got %d", messagingSvc.Calls.Send)
	}
}

func TestMFAAPI_ConfirmEmail(t *testing.T) {
	enrollment := &auth.MFAEnrollment{PrincipalID: "principal-id"}
	repoMngr := &test.RepositoryManager{
		PrincipalFn: principalRepo,
		MFAFn: func() auth.MFARepository {
			return &test.MFARepository{
				GetForUpdateFn: func() (*auth.MFAEnrollment, error) {
					return enrollment, nil
				},
			}
		},
	}
	codeSvc := &test.CodeService{}
	recorder := &test.EventRecorder{}
	tokenSvc := authTokenService()

	svc := NewService(
		WithLogger(log.NewNopLogger()),
		WithRepoManager(repoMngr),
		WithTokenService(tokenSvc),
		WithOTP(&test.OTPService{}),
		WithCodes(codeSvc),
		WithEvents(recorder),
	)
	handler := httpapi.AuthMiddleware(svc.ConfirmEmail, tokenSvc)

	reqBody := `{"code":"123456"}`
	req := httptest.NewRequest("POST", "/mfa/email/confirm", strings.NewReader(reqBody))
	req.Header.Set("Authorization", "Bearer signed-access-token")

	response, err := handler(httptest.NewRecorder(), req)
	if err != nil {
		t.Fatal("failed to confirm email enrollment:", err)
	}

	confirm := response.(*confirmResponse)
	if !confirm.Enrollment.IsEmailEnabled {
		t.Error("email factor should be enabled")
	}
	if confirm.Enrollment.PreferredMethod != auth.MethodEmail {
		t.Errorf("incorrect preferred method: %s", confirm.Enrollment.PreferredMethod)
	}
	if codeSvc.Calls.Verify != 1 {
		t.Errorf("incorrect Verify call count, want 1 got %d", codeSvc.Calls.Verify)
	}
	if recorder.Calls.Event != 1 {
		t.Errorf("incorrect Event call count, want 1 got %d", recorder.Calls.Event)
	}
}

func TestMFAAPI_SetPreferred(t *testing.T) {
	tt := []struct {
		name    string
		method  string
		errCode auth.ErrCode
	}{
		{
			name:   "Updates the preferred method",
			method: "email",
		},
		{
			name:    "Rejects a disabled method",
			method:  "totp",
			errCode: auth.EInvalidInput,
		},
		{
			name:    "Rejects an unknown method",
			method:  "sms",
			errCode: auth.EInvalidInput,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			enrollment := &auth.MFAEnrollment{
				PrincipalID:     "principal-id",
				IsEmailEnabled:  true,
				PreferredMethod: auth.MethodEmail,
			}
			repoMngr := &test.RepositoryManager{
				PrincipalFn: principalRepo,
				MFAFn: func() auth.MFARepository {
					return &test.MFARepository{
						GetForUpdateFn: func() (*auth.MFAEnrollment, error) {
							return enrollment, nil
						},
					}
				},
			}
			tokenSvc := authTokenService()

			svc := NewService(
				WithLogger(log.NewNopLogger()),
				WithRepoManager(repoMngr),
				WithTokenService(tokenSvc),
				WithEvents(&test.EventRecorder{}),
			)
			handler := httpapi.AuthMiddleware(svc.SetPreferred, tokenSvc)

			reqBody := `{"method":"` + tc.method + `"}`
			req := httptest.NewRequest("PUT", "/mfa/preferred", strings.NewReader(reqBody))
			req.Header.Set("Authorization", "Bearer signed-access-token")

			_, err := handler(httptest.NewRecorder(), req)
			if code := auth.ErrorCode(err); code != tc.errCode {
				t.Errorf("incorrect error code, want %s got %s (%v)", tc.errCode, code, err)
			}
		})
	}
}

func TestMFAAPI_RegenerateBackupCodes(t *testing.T) {
	tt := []struct {
		name        string
		passwordSvc *test.PasswordService
		enrollment  func() (*auth.MFAEnrollment, error)
		errCode     auth.ErrCode
	}{
		{
			name:        "Replaces the set",
			passwordSvc: &test.PasswordService{},
			enrollment: func() (*auth.MFAEnrollment, error) {
				return &auth.MFAEnrollment{PrincipalID: "principal-id", IsTOTPEnabled: true}, nil
			},
		},
		{
			name: "Requires the password",
			passwordSvc: &test.PasswordService{
				ValidateFn: func() error {
					return auth.ErrInvalidCredentials("invalid email or password")
				},
			},
			enrollment: func() (*auth.MFAEnrollment, error) {
				return &auth.MFAEnrollment{PrincipalID: "principal-id", IsTOTPEnabled: true}, nil
			},
			errCode: auth.EInvalidCredentials,
		},
		{
			name:        "Refuses without an eligible factor",
			passwordSvc: &test.PasswordService{},
			enrollment: func() (*auth.MFAEnrollment, error) {
				return nil, auth.ErrNotFound("mfa enrollment not found")
			},
			errCode: auth.EForbidden,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			backupRepo := &test.BackupCodeRepository{}
			repoMngr := &test.RepositoryManager{
				PrincipalFn: principalRepo,
				MFAFn: func() auth.MFARepository {
					return &test.MFARepository{ByPrincipalFn: tc.enrollment}
				},
				BackupCodeFn: func() auth.BackupCodeRepository {
					return backupRepo
				},
			}
			tokenSvc := authTokenService()

			svc := NewService(
				WithLogger(log.NewNopLogger()),
				WithRepoManager(repoMngr),
				WithTokenService(tokenSvc),
				WithPassword(tc.passwordSvc),
				WithOTP(&test.OTPService{}),
				WithEvents(&test.EventRecorder{}),
			)
			handler := httpapi.AuthMiddleware(svc.RegenerateBackupCodes, tokenSvc)

			reqBody := `{"password":"swordfish-42"}`
			req := httptest.NewRequest("POST", "/mfa/backup-codes/regenerate", strings.NewReader(reqBody))
			req.Header.Set("Authorization", "Bearer signed-access-token")

			response, err := handler(httptest.NewRecorder(), req)
			if code := auth.ErrorCode(err); code != tc.errCode {
				t.Fatalf("incorrect error code, want %s got %s (%v)", tc.errCode, code, err)
			}
			if tc.errCode != auth.ErrCode("") {
				return
			}

			codes := response.(*backupCodesResponse)
			if len(codes.BackupCodes) == 0 {
				t.Error("backup codes should be returned")
			}
			if backupRepo.Calls.Replace != 1 {
				t.Errorf("incorrect Replace call count, want 1 got %d", backupRepo.Calls.Replace)
			}
		})
	}
}
