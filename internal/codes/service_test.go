package codes

import (
	"context"
	"testing"
	"time"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/test"
)

func TestCodes_Issue(t *testing.T) {
	codeRepo := &test.VerificationCodeRepository{}
	repoMngr := &test.RepositoryManager{
		VerificationCodeFn: func() auth.VerificationCodeRepository {
			return codeRepo
		},
	}
	otpSvc := &test.OTPService{}

	svc := NewService(
		WithRepoManager(repoMngr),
		WithOTP(otpSvc),
	)

	code, record, err := svc.Issue(context.Background(), "principal-id", auth.PurposeMFALogin)
	if err != nil {
		t.Fatal("failed to issue code:", err)
	}

	if code != "123456" {
		t.Errorf("incorrect plaintext code, want 123456 got %s", code)
	}
	if record.CodeHash != "hashed-code" {
		t.Errorf("incorrect stored hash, want hashed-code got %s", record.CodeHash)
	}
	if record.ID == "" {
		t.Error("record should be assigned an ID")
	}

	wantExpiry := record.CreatedAt.Add(10 * time.Minute)
	if !record.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("incorrect expiry, want %s got %s", wantExpiry, record.ExpiresAt)
	}

	if codeRepo.Calls.InvalidatePurpose != 1 {
		t.Errorf("previous codes should be invalidated, calls %d", codeRepo.Calls.InvalidatePurpose)
	}
	if codeRepo.Calls.Create != 1 {
		t.Errorf("code should be stored, calls %d", codeRepo.Calls.Create)
	}
	if repoMngr.Calls.WithAtomic != 1 {
		t.Errorf("invalidate and create should share a transaction, calls %d", repoMngr.Calls.WithAtomic)
	}
}

func TestCodes_Verify(t *testing.T) {
	activeCode := func() (*auth.VerificationCode, error) {
		return &auth.VerificationCode{
			ID:          "code-id",
			PrincipalID: "principal-id",
			Purpose:     auth.PurposeMFALogin,
			CodeHash:    "hashed-code",
			ExpiresAt:   time.Now().Add(10 * time.Minute),
		}, nil
	}

	tt := []struct {
		name        string
		codeRepo    *test.VerificationCodeRepository
		otpSvc      *test.OTPService
		wantErrCode auth.ErrCode
	}{
		{
			name:        "Valid code passes",
			codeRepo:    &test.VerificationCodeRepository{ActiveByPurposeFn: activeCode},
			otpSvc:      &test.OTPService{},
			wantErrCode: "",
		},
		{
			name: "No active code",
			codeRepo: &test.VerificationCodeRepository{
				ActiveByPurposeFn: func() (*auth.VerificationCode, error) {
					return nil, auth.ErrNotFound("verification code not found")
				},
			},
			otpSvc:      &test.OTPService{},
			wantErrCode: auth.ECodeInvalid,
		},
		{
			name: "Attempt budget exhausted",
			codeRepo: &test.VerificationCodeRepository{
				ActiveByPurposeFn: activeCode,
				IncrementAttemptsFn: func() (int, error) {
					return 6, nil
				},
			},
			otpSvc:      &test.OTPService{},
			wantErrCode: auth.ECodeAttemptsExhausted,
		},
		{
			name: "Expired code",
			codeRepo: &test.VerificationCodeRepository{
				ActiveByPurposeFn: func() (*auth.VerificationCode, error) {
					c, _ := activeCode()
					c.ExpiresAt = time.Now().Add(-time.Minute)
					return c, nil
				},
			},
			otpSvc:      &test.OTPService{},
			wantErrCode: auth.ECodeExpired,
		},
		{
			name:     "Wrong code",
			codeRepo: &test.VerificationCodeRepository{ActiveByPurposeFn: activeCode},
			otpSvc: &test.OTPService{
				ValidateCodeFn: func() error {
					return auth.ErrCodeInvalid("incorrect code provided")
				},
			},
			wantErrCode: auth.ECodeInvalid,
		},
		{
			name: "Concurrent consumption loses",
			codeRepo: &test.VerificationCodeRepository{
				ActiveByPurposeFn: activeCode,
				ConsumeFn: func() error {
					return auth.ErrCodeInvalid("code was already consumed")
				},
			},
			otpSvc:      &test.OTPService{},
			wantErrCode: auth.ECodeInvalid,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			repoMngr := &test.RepositoryManager{
				VerificationCodeFn: func() auth.VerificationCodeRepository {
					return tc.codeRepo
				},
			}

			svc := NewService(
				WithRepoManager(repoMngr),
				WithOTP(tc.otpSvc),
			)

			err := svc.Verify(context.Background(), "principal-id", auth.PurposeMFALogin, "123456")
			if tc.wantErrCode == "" {
				if err != nil {
					t.Fatal("expected nil error:", err)
				}
				if tc.codeRepo.Calls.Consume != 1 {
					t.Errorf("code should be consumed, calls %d", tc.codeRepo.Calls.Consume)
				}
				return
			}

			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if code := auth.ErrorCode(err); code != tc.wantErrCode {
				t.Errorf("incorrect error code, want %s got %s", tc.wantErrCode, code)
			}
		})
	}
}

func TestCodes_VerifyCountsFailedAttempts(t *testing.T) {
	codeRepo := &test.VerificationCodeRepository{
		ActiveByPurposeFn: func() (*auth.VerificationCode, error) {
			return &auth.VerificationCode{
				ID:        "code-id",
				CodeHash:  "hashed-code",
				ExpiresAt: time.Now().Add(10 * time.Minute),
			}, nil
		},
	}
	repoMngr := &test.RepositoryManager{
		VerificationCodeFn: func() auth.VerificationCodeRepository {
			return codeRepo
		},
	}
	otpSvc := &test.OTPService{
		ValidateCodeFn: func() error {
			return auth.ErrCodeInvalid("incorrect code provided")
		},
	}

	svc := NewService(
		WithRepoManager(repoMngr),
		WithOTP(otpSvc),
	)

	for i := 0; i < 3; i++ {
		if err := svc.Verify(context.Background(), "principal-id", auth.PurposeMFALogin, "000000"); err == nil {
			t.Fatal("expected error, got nil")
		}
	}

	if codeRepo.Calls.IncrementAttempts != 3 {
		t.Errorf("every submission should count, calls %d", codeRepo.Calls.IncrementAttempts)
	}
	if codeRepo.Calls.Consume != 0 {
		t.Errorf("failed submissions should not consume, calls %d", codeRepo.Calls.Consume)
	}
}
