package adminapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/httpapi"
	"github.com/castellan/castellan/internal/test"
)

func ptrTime(t *testing.T) *time.Time {
	t.Helper()
	now := time.Now().UTC().Add(-time.Hour)
	return &now
}

func testTokenService(role auth.Role) *test.TokenService {
	return &test.TokenService{
		VerifyAccessFn: func() (*auth.AccessClaims, error) {
			return &auth.AccessClaims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-id"},
				Role:             role,
				SessionID:        "admin-session",
			}, nil
		},
	}
}

// adminRequest runs a handler through the auth and role middleware
// the way SetupHTTPHandler composes them.
func adminRequest(t *testing.T, svcHandler httpapi.JSONAPIHandler, tokenSvc auth.TokenService, method, path, pattern, body string, roles ...auth.Role) (interface{}, error) {
	t.Helper()

	var (
		response interface{}
		err      error
	)
	handler := httpapi.RoleMiddleware(svcHandler, roles...)
	handler = httpapi.AuthMiddleware(handler, tokenSvc)

	router := mux.NewRouter()
	router.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		response, err = handler(w, r)
	}).Methods(method)

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer signed-access-token")
	router.ServeHTTP(httptest.NewRecorder(), req)

	return response, err
}

func TestAdminAPI_ArchiveRecordsAuditFirst(t *testing.T) {
	var auditedBeforeUpdate bool

	auditRepo := &test.AuditRepository{}
	principalRepo := &test.PrincipalRepository{
		GetForUpdateFn: func() (*auth.Principal, error) {
			return &auth.Principal{ID: "principal-id", IsActive: true}, nil
		},
		UpdateFn: func() error {
			auditedBeforeUpdate = auditRepo.Calls.Create == 1
			return nil
		},
	}
	repoMngr := &test.RepositoryManager{
		PrincipalFn: func() auth.PrincipalRepository { return principalRepo },
		AuditFn:     func() auth.AuditRepository { return auditRepo },
	}
	sessionSvc := &test.SessionService{}
	tokenSvc := testTokenService(auth.RoleAdmin)
	recorder := &test.EventRecorder{}

	svc := NewService(
		WithLogger(log.NewNopLogger()),
		WithRepoManager(repoMngr),
		WithTokenService(tokenSvc),
		WithSessions(sessionSvc),
		WithEvents(recorder),
	)

	response, err := adminRequest(
		t, svc.Archive, tokenSvc,
		"POST", "/admin/users/principal-id/archive", "/admin/users/{id}/archive", "",
		auth.RoleAdmin, auth.RoleSuperAdmin,
	)
	if err != nil {
		t.Fatal("failed to archive principal:", err)
	}

	principal := response.(*auth.Principal)
	if principal.ArchivedAt == nil {
		t.Error("archived timestamp is not set")
	}
	if principal.IsActive {
		t.Error("archived principal is still active")
	}
	if !auditedBeforeUpdate {
		t.Error("audit entry was not written before the mutation")
	}
	if sessionSvc.Calls.RevokeAll != 1 {
		t.Errorf("incorrect RevokeAll call count, want 1 got %d", sessionSvc.Calls.RevokeAll)
	}
	if tokenSvc.Calls.BumpEpoch != 1 {
		t.Errorf("incorrect BumpEpoch call count, want 1 got %d", tokenSvc.Calls.BumpEpoch)
	}
	if recorder.Calls.Event != 1 {
		t.Errorf("incorrect Event call count, want 1 got %d", recorder.Calls.Event)
	}
}

func TestAdminAPI_ArchiveRejectsArchived(t *testing.T) {
	archived := &auth.Principal{ID: "principal-id"}
	archived.ArchivedAt = ptrTime(t)

	repoMngr := &test.RepositoryManager{
		PrincipalFn: func() auth.PrincipalRepository {
			return &test.PrincipalRepository{
				GetForUpdateFn: func() (*auth.Principal, error) {
					return archived, nil
				},
			}
		},
	}
	tokenSvc := testTokenService(auth.RoleAdmin)
	svc := NewService(
		WithLogger(log.NewNopLogger()),
		WithRepoManager(repoMngr),
		WithTokenService(tokenSvc),
		WithSessions(&test.SessionService{}),
		WithEvents(&test.EventRecorder{}),
	)

	_, err := adminRequest(
		t, svc.Archive, tokenSvc,
		"POST", "/admin/users/principal-id/archive", "/admin/users/{id}/archive", "",
		auth.RoleAdmin, auth.RoleSuperAdmin,
	)
	if code := auth.ErrorCode(err); code != auth.EConflict {
		t.Errorf("incorrect error code, want %s got %s (%v)", auth.EConflict, code, err)
	}
}

func TestAdminAPI_AnonymizeErasesPII(t *testing.T) {
	archived := &auth.Principal{
		ID:       "b5dc9812-f5b9-49ee-a4f4-d87f7da3efc0",
		Handle:   "alice",
		Email:    "alice@example.com",
		Password: "digest",
	}
	archived.ArchivedAt = ptrTime(t)

	enrollment := &auth.MFAEnrollment{
		PrincipalID:   archived.ID,
		TOTPSecret:    "encrypted-secret",
		IsTOTPEnabled: true,
	}

	identityRepo := &test.LinkedIdentityRepository{}
	backupRepo := &test.BackupCodeRepository{}
	repoMngr := &test.RepositoryManager{
		PrincipalFn: func() auth.PrincipalRepository {
			return &test.PrincipalRepository{
				GetForUpdateFn: func() (*auth.Principal, error) {
					return archived, nil
				},
			}
		},
		LinkedIdentityFn: func() auth.LinkedIdentityRepository { return identityRepo },
		BackupCodeFn:     func() auth.BackupCodeRepository { return backupRepo },
		MFAFn: func() auth.MFARepository {
			return &test.MFARepository{
				GetForUpdateFn: func() (*auth.MFAEnrollment, error) {
					return enrollment, nil
				},
			}
		},
	}
	tokenSvc := testTokenService(auth.RoleSuperAdmin)
	svc := NewService(
		WithLogger(log.NewNopLogger()),
		WithRepoManager(repoMngr),
		WithTokenService(tokenSvc),
		WithSessions(&test.SessionService{}),
		WithEvents(&test.EventRecorder{}),
	)

	response, err := adminRequest(
		t, svc.Anonymize, tokenSvc,
		"POST", "/admin/users/"+archived.ID+"/anonymize", "/admin/users/{id}/anonymize", "",
		auth.RoleSuperAdmin,
	)
	if err != nil {
		t.Fatal("failed to anonymize principal:", err)
	}

	principal := response.(*auth.Principal)
	if principal.Email == "alice@example.com" || principal.Handle == "alice" {
		t.Error("PII survived anonymization")
	}
	if principal.Password != "" {
		t.Error("password digest survived anonymization")
	}
	if principal.AnonymizedAt == nil {
		t.Error("anonymized timestamp is not set")
	}
	if enrollment.TOTPSecret != "" || enrollment.IsTOTPEnabled {
		t.Error("MFA enrollment secrets survived anonymization")
	}
	if identityRepo.Calls.DeleteByPrincipal != 1 {
		t.Error("linked identities were not detached")
	}
	if backupRepo.Calls.DeleteByPrincipal != 1 {
		t.Error("backup codes were not deleted")
	}
}

func TestAdminAPI_AnonymizeRequiresArchive(t *testing.T) {
	repoMngr := &test.RepositoryManager{
		PrincipalFn: func() auth.PrincipalRepository {
			return &test.PrincipalRepository{
				GetForUpdateFn: func() (*auth.Principal, error) {
					return &auth.Principal{ID: "principal-id", IsActive: true}, nil
				},
			}
		},
	}
	tokenSvc := testTokenService(auth.RoleSuperAdmin)
	svc := NewService(
		WithLogger(log.NewNopLogger()),
		WithRepoManager(repoMngr),
		WithTokenService(tokenSvc),
		WithSessions(&test.SessionService{}),
		WithEvents(&test.EventRecorder{}),
	)

	_, err := adminRequest(
		t, svc.Anonymize, tokenSvc,
		"POST", "/admin/users/principal-id/anonymize", "/admin/users/{id}/anonymize", "",
		auth.RoleSuperAdmin,
	)
	if code := auth.ErrorCode(err); code != auth.EConflict {
		t.Errorf("incorrect error code, want %s got %s (%v)", auth.EConflict, code, err)
	}
}

func TestAdminAPI_AnonymizeRequiresSuperAdmin(t *testing.T) {
	tokenSvc := testTokenService(auth.RoleAdmin)
	svc := NewService(
		WithLogger(log.NewNopLogger()),
		WithRepoManager(&test.RepositoryManager{}),
		WithTokenService(tokenSvc),
		WithSessions(&test.SessionService{}),
		WithEvents(&test.EventRecorder{}),
	)

	_, err := adminRequest(
		t, svc.Anonymize, tokenSvc,
		"POST", "/admin/users/principal-id/anonymize", "/admin/users/{id}/anonymize", "",
		auth.RoleSuperAdmin,
	)
	if code := auth.ErrorCode(err); code != auth.EForbidden {
		t.Errorf("incorrect error code, want %s got %s (%v)", auth.EForbidden, code, err)
	}
}

func TestAdminAPI_RestoreRejectsAnonymized(t *testing.T) {
	anonymized := &auth.Principal{ID: "principal-id"}
	anonymized.ArchivedAt = ptrTime(t)
	anonymized.AnonymizedAt = ptrTime(t)

	repoMngr := &test.RepositoryManager{
		PrincipalFn: func() auth.PrincipalRepository {
			return &test.PrincipalRepository{
				GetForUpdateFn: func() (*auth.Principal, error) {
					return anonymized, nil
				},
			}
		},
	}
	tokenSvc := testTokenService(auth.RoleAdmin)
	svc := NewService(
		WithLogger(log.NewNopLogger()),
		WithRepoManager(repoMngr),
		WithTokenService(tokenSvc),
		WithEvents(&test.EventRecorder{}),
	)

	_, err := adminRequest(
		t, svc.Restore, tokenSvc,
		"POST", "/admin/users/principal-id/restore", "/admin/users/{id}/restore", "",
		auth.RoleAdmin, auth.RoleSuperAdmin,
	)
	if code := auth.ErrorCode(err); code != auth.EConflict {
		t.Errorf("incorrect error code, want %s got %s (%v)", auth.EConflict, code, err)
	}
}

func TestAdminAPI_UpdatePrincipal(t *testing.T) {
	notFound := func() (*auth.Principal, error) {
		return nil, auth.ErrNotFound("principal does not exist")
	}
	taken := func() (*auth.Principal, error) {
		return &auth.Principal{ID: "other-id"}, nil
	}

	tt := []struct {
		name           string
		actorRole      auth.Role
		body           string
		byHandleFn     func() (*auth.Principal, error)
		byEmailFn      func() (*auth.Principal, error)
		errCode        auth.ErrCode
		epochBumps     int
		sessionRevokes int
		wantRole       auth.Role
		wantActive     bool
		wantHandle     string
		wantEmail      string
	}{
		{
			name:       "Role change bumps the credential epoch",
			actorRole:  auth.RoleSuperAdmin,
			body:       `{"role":"admin"}`,
			epochBumps: 1,
			wantRole:   auth.RoleAdmin,
			wantActive: true,
		},
		{
			name:       "Renames handle and email",
			actorRole:  auth.RoleAdmin,
			body:       `{"handle":"bobby","email":"Bobby@Example.com"}`,
			byHandleFn: notFound,
			byEmailFn:  notFound,
			wantRole:   auth.RoleUser,
			wantActive: true,
			wantHandle: "bobby",
			wantEmail:  "bobby@example.com",
		},
		{
			name:       "Rejects a taken handle",
			actorRole:  auth.RoleAdmin,
			body:       `{"handle":"bobby"}`,
			byHandleFn: taken,
			errCode:    auth.EConflict,
		},
		{
			name:      "Rejects a registered email",
			actorRole: auth.RoleAdmin,
			body:      `{"email":"bobby@example.com"}`,
			byEmailFn: taken,
			errCode:   auth.EConflict,
		},
		{
			name:      "Rejects a malformed email",
			actorRole: auth.RoleAdmin,
			body:      `{"email":"not-an-email"}`,
			errCode:   auth.EInvalidInput,
		},
		{
			name:           "Deactivation revokes sessions",
			actorRole:      auth.RoleSuperAdmin,
			body:           `{"is_active":false}`,
			sessionRevokes: 1,
			wantRole:       auth.RoleUser,
		},
		{
			name:      "Admins cannot change roles",
			actorRole: auth.RoleAdmin,
			body:      `{"role":"admin"}`,
			errCode:   auth.EForbidden,
		},
		{
			name:      "Empty update is rejected",
			actorRole: auth.RoleSuperAdmin,
			body:      `{}`,
			errCode:   auth.EInvalidInput,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			repoMngr := &test.RepositoryManager{
				PrincipalFn: func() auth.PrincipalRepository {
					return &test.PrincipalRepository{
						GetForUpdateFn: func() (*auth.Principal, error) {
							return &auth.Principal{
								ID:       "principal-id",
								Handle:   "bob",
								Email:    "bob@example.com",
								Role:     auth.RoleUser,
								IsActive: true,
							}, nil
						},
						ByHandleFn: tc.byHandleFn,
						ByEmailFn:  tc.byEmailFn,
					}
				},
			}
			sessionSvc := &test.SessionService{}
			tokenSvc := testTokenService(tc.actorRole)
			svc := NewService(
				WithLogger(log.NewNopLogger()),
				WithRepoManager(repoMngr),
				WithTokenService(tokenSvc),
				WithSessions(sessionSvc),
				WithEvents(&test.EventRecorder{}),
			)

			response, err := adminRequest(
				t, svc.UpdatePrincipal, tokenSvc,
				"PUT", "/admin/users/principal-id", "/admin/users/{id}", tc.body,
				auth.RoleAdmin, auth.RoleSuperAdmin,
			)
			if code := auth.ErrorCode(err); code != tc.errCode {
				t.Fatalf("incorrect error code, want %s got %s (%v)", tc.errCode, code, err)
			}
			if tokenSvc.Calls.BumpEpoch != tc.epochBumps {
				t.Errorf("incorrect BumpEpoch call count, want %d got %d",
					tc.epochBumps, tokenSvc.Calls.BumpEpoch)
			}
			if sessionSvc.Calls.RevokeAll != tc.sessionRevokes {
				t.Errorf("incorrect RevokeAll call count, want %d got %d",
					tc.sessionRevokes, sessionSvc.Calls.RevokeAll)
			}
			if err != nil {
				return
			}

			principal := response.(*auth.Principal)
			if principal.Role != tc.wantRole {
				t.Errorf("incorrect role, want %s got %s", tc.wantRole, principal.Role)
			}
			if principal.IsActive != tc.wantActive {
				t.Errorf("incorrect active flag, want %t got %t", tc.wantActive, principal.IsActive)
			}
			if tc.wantHandle != "" && principal.Handle != tc.wantHandle {
				t.Errorf("incorrect handle, want %s got %s", tc.wantHandle, principal.Handle)
			}
			if tc.wantEmail != "" {
				if principal.Email != tc.wantEmail {
					t.Errorf("incorrect email, want %s got %s", tc.wantEmail, principal.Email)
				}
				if principal.IsEmailVerified {
					t.Error("changed email must require re-verification")
				}
			}
		})
	}
}

func TestAdminAPI_CreatePrincipalRoleGrant(t *testing.T) {
	tt := []struct {
		name      string
		actorRole auth.Role
		body      string
		errCode   auth.ErrCode
	}{
		{
			name:      "Admins create ordinary users",
			actorRole: auth.RoleAdmin,
			body:      `{"handle":"bob","email":"bob@example.com","password":"Passw0rd!"}`,
		},
		{
			name:      "Admins cannot grant elevated roles",
			actorRole: auth.RoleAdmin,
			body:      `{"handle":"bob","email":"bob@example.com","password":"Passw0rd!","role":"admin"}`,
			errCode:   auth.EForbidden,
		},
		{
			name:      "Super admins grant elevated roles",
			actorRole: auth.RoleSuperAdmin,
			body:      `{"handle":"bob","email":"bob@example.com","password":"Passw0rd!","role":"super_admin"}`,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			tokenSvc := testTokenService(tc.actorRole)
			svc := NewService(
				WithLogger(log.NewNopLogger()),
				WithRepoManager(&test.RepositoryManager{}),
				WithTokenService(tokenSvc),
				WithPassword(&test.PasswordService{}),
				WithEvents(&test.EventRecorder{}),
			)

			_, err := adminRequest(
				t, svc.CreatePrincipal, tokenSvc,
				"POST", "/admin/users", "/admin/users", tc.body,
				auth.RoleAdmin, auth.RoleSuperAdmin,
			)
			if code := auth.ErrorCode(err); code != tc.errCode {
				t.Errorf("incorrect error code, want %s got %s (%v)", tc.errCode, code, err)
			}
		})
	}
}

func TestAdminAPI_UpdatePolicyValidation(t *testing.T) {
	valid := `{
		"mode": "totp_only",
		"code_format": "numeric_6",
		"code_expiry_minutes": 10,
		"max_failed_attempts": 5,
		"lockout_behavior": "temporary",
		"lockout_minutes": 15
	}`

	tt := []struct {
		name    string
		body    string
		errCode auth.ErrCode
		updates int
		audits  int
	}{
		{
			name:    "Valid policy is stored and audited",
			body:    valid,
			updates: 1,
			audits:  1,
		},
		{
			name:    "Unknown mode is rejected",
			body:    `{"mode":"sms_only","code_format":"numeric_6","code_expiry_minutes":10,"max_failed_attempts":5,"lockout_behavior":"temporary","lockout_minutes":15}`,
			errCode: auth.EInvalidInput,
		},
		{
			name:    "Temporary lockout requires a duration",
			body:    `{"mode":"totp_only","code_format":"numeric_6","code_expiry_minutes":10,"max_failed_attempts":5,"lockout_behavior":"temporary"}`,
			errCode: auth.EInvalidInput,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			policyRepo := &test.PolicyRepository{}
			repoMngr := &test.RepositoryManager{
				PolicyFn: func() auth.PolicyRepository { return policyRepo },
			}
			recorder := &test.EventRecorder{}
			tokenSvc := testTokenService(auth.RoleAdmin)
			svc := NewService(
				WithLogger(log.NewNopLogger()),
				WithRepoManager(repoMngr),
				WithTokenService(tokenSvc),
				WithEvents(recorder),
			)

			_, err := adminRequest(
				t, svc.UpdatePolicy, tokenSvc,
				"PUT", "/admin/mfa/config", "/admin/mfa/config", tc.body,
				auth.RoleAdmin, auth.RoleSuperAdmin,
			)
			if code := auth.ErrorCode(err); code != tc.errCode {
				t.Fatalf("incorrect error code, want %s got %s (%v)", tc.errCode, code, err)
			}
			if policyRepo.Calls.Update != tc.updates {
				t.Errorf("incorrect Update call count, want %d got %d",
					tc.updates, policyRepo.Calls.Update)
			}
			if recorder.Calls.Audit != tc.audits {
				t.Errorf("incorrect Audit call count, want %d got %d",
					tc.audits, recorder.Calls.Audit)
			}
		})
	}
}

func TestAdminAPI_UnlockMFA(t *testing.T) {
	locked := &auth.MFAEnrollment{
		PrincipalID:    "principal-id",
		FailedAttempts: 5,
	}
	locked.LockedUntil = ptrTime(t)

	repoMngr := &test.RepositoryManager{
		MFAFn: func() auth.MFARepository {
			return &test.MFARepository{
				GetForUpdateFn: func() (*auth.MFAEnrollment, error) {
					return locked, nil
				},
			}
		},
	}
	tokenSvc := testTokenService(auth.RoleAdmin)
	svc := NewService(
		WithLogger(log.NewNopLogger()),
		WithRepoManager(repoMngr),
		WithTokenService(tokenSvc),
		WithEvents(&test.EventRecorder{}),
	)

	response, err := adminRequest(
		t, svc.UnlockMFA, tokenSvc,
		"POST", "/admin/users/principal-id/mfa/unlock", "/admin/users/{id}/mfa/unlock", "",
		auth.RoleAdmin, auth.RoleSuperAdmin,
	)
	if err != nil {
		t.Fatal("failed to unlock MFA:", err)
	}

	enrollment := response.(*auth.MFAEnrollment)
	if enrollment.FailedAttempts != 0 {
		t.Errorf("incorrect failed attempts, want 0 got %d", enrollment.FailedAttempts)
	}
	if enrollment.LockedUntil != nil {
		t.Error("lockout was not cleared")
	}
}

func TestAdminAPI_ExtendGraceValidation(t *testing.T) {
	tt := []struct {
		name    string
		body    string
		errCode auth.ErrCode
	}{
		{
			name: "Accepts a bounded extension",
			body: `{"days":14}`,
		},
		{
			name:    "Rejects zero days",
			body:    `{"days":0}`,
			errCode: auth.EInvalidInput,
		},
		{
			name:    "Rejects more than a year",
			body:    `{"days":400}`,
			errCode: auth.EInvalidInput,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			tokenSvc := testTokenService(auth.RoleAdmin)
			svc := NewService(
				WithLogger(log.NewNopLogger()),
				WithRepoManager(&test.RepositoryManager{}),
				WithTokenService(tokenSvc),
				WithEvents(&test.EventRecorder{}),
			)

			response, err := adminRequest(
				t, svc.ExtendGrace, tokenSvc,
				"POST", "/admin/users/principal-id/mfa/grace", "/admin/users/{id}/mfa/grace", tc.body,
				auth.RoleAdmin, auth.RoleSuperAdmin,
			)
			if code := auth.ErrorCode(err); code != tc.errCode {
				t.Fatalf("incorrect error code, want %s got %s (%v)", tc.errCode, code, err)
			}
			if err != nil {
				return
			}

			enrollment := response.(*auth.MFAEnrollment)
			if enrollment.GraceUntil == nil {
				t.Error("grace deadline is not set")
			}
		})
	}
}
