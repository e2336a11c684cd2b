package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/test"
)

func TestHTTPApi_AuthMiddleware(t *testing.T) {
	tt := []struct {
		name        string
		authHeader  string
		verifyFn    func() (*auth.AccessClaims, error)
		verifyCalls int
		errCode     auth.ErrCode
		principalID string
		sessionID   string
		role        auth.Role
	}{
		{
			name:       "Accepts a valid bearer credential",
			authHeader: "Bearer signed-access-token",
			verifyFn: func() (*auth.AccessClaims, error) {
				return &auth.AccessClaims{
					RegisteredClaims: jwt.RegisteredClaims{Subject: "principal-id"},
					Role:             auth.RoleAdmin,
					SessionID:        "session-id",
				}, nil
			},
			verifyCalls: 1,
			principalID: "principal-id",
			sessionID:   "session-id",
			role:        auth.RoleAdmin,
		},
		{
			name:        "Rejects a missing header",
			authHeader:  "",
			verifyCalls: 0,
			errCode:     auth.EInvalidToken,
		},
		{
			name:        "Rejects a non bearer credential",
			authHeader:  "Basic amFuZTpzd29yZGZpc2g=",
			verifyCalls: 0,
			errCode:     auth.EInvalidToken,
		},
		{
			name:       "Rejects an invalid credential",
			authHeader: "Bearer tampered-token",
			verifyFn: func() (*auth.AccessClaims, error) {
				return nil, auth.ErrInvalidToken("credential is invalid")
			},
			verifyCalls: 1,
			errCode:     auth.EInvalidToken,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			tokenSvc := &test.TokenService{VerifyAccessFn: tc.verifyFn}

			var gotPrincipalID, gotSessionID string
			var gotRole auth.Role
			handler := func(w http.ResponseWriter, r *http.Request) (interface{}, error) {
				gotPrincipalID = GetPrincipalID(r)
				gotSessionID = GetSessionID(r)
				gotRole = GetRole(r)
				return nil, nil
			}

			req := httptest.NewRequest("GET", "/", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}

			_, err := AuthMiddleware(handler, tokenSvc)(httptest.NewRecorder(), req)
			if code := auth.ErrorCode(err); code != tc.errCode {
				t.Errorf("incorrect error code, want %s got %s", tc.errCode, code)
			}
			if tokenSvc.Calls.VerifyAccess != tc.verifyCalls {
				t.Errorf("incorrect VerifyAccess call count, want %d got %d",
					tc.verifyCalls, tokenSvc.Calls.VerifyAccess)
			}
			if gotPrincipalID != tc.principalID {
				t.Errorf("incorrect principal ID, want %s got %s", tc.principalID, gotPrincipalID)
			}
			if gotSessionID != tc.sessionID {
				t.Errorf("incorrect session ID, want %s got %s", tc.sessionID, gotSessionID)
			}
			if gotRole != tc.role {
				t.Errorf("incorrect role, want %s got %s", tc.role, gotRole)
			}
		})
	}
}

func TestHTTPApi_RoleMiddleware(t *testing.T) {
	tt := []struct {
		name    string
		role    auth.Role
		allowed []auth.Role
		errCode auth.ErrCode
	}{
		{
			name:    "Allows a listed role",
			role:    auth.RoleAdmin,
			allowed: []auth.Role{auth.RoleAdmin, auth.RoleSuperAdmin},
		},
		{
			name:    "Rejects an unlisted role",
			role:    auth.RoleUser,
			allowed: []auth.Role{auth.RoleAdmin, auth.RoleSuperAdmin},
			errCode: auth.EForbidden,
		},
		{
			name:    "Rejects a super admin endpoint for an admin",
			role:    auth.RoleAdmin,
			allowed: []auth.Role{auth.RoleSuperAdmin},
			errCode: auth.EForbidden,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			tokenSvc := &test.TokenService{
				VerifyAccessFn: func() (*auth.AccessClaims, error) {
					return &auth.AccessClaims{Role: tc.role}, nil
				},
			}

			handler := func(w http.ResponseWriter, r *http.Request) (interface{}, error) {
				return nil, nil
			}
			wrapped := AuthMiddleware(RoleMiddleware(handler, tc.allowed...), tokenSvc)

			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("Authorization", "Bearer signed-access-token")

			_, err := wrapped(httptest.NewRecorder(), req)
			if code := auth.ErrorCode(err); code != tc.errCode {
				t.Errorf("incorrect error code, want %s got %s", tc.errCode, code)
			}
		})
	}
}

func TestHTTPApi_GetIP(t *testing.T) {
	tt := []struct {
		name       string
		remoteAddr string
		forwarded  string
		ip         string
	}{
		{
			name:       "Uses the remote address",
			remoteAddr: "203.0.113.7:51234",
			ip:         "203.0.113.7",
		},
		{
			name:       "Prefers the first forwarded entry",
			remoteAddr: "10.0.0.1:51234",
			forwarded:  "203.0.113.7, 10.0.0.1",
			ip:         "203.0.113.7",
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}

			if ip := GetIP(req); ip != tc.ip {
				t.Errorf("incorrect IP, want %s got %s", tc.ip, ip)
			}
		})
	}
}
