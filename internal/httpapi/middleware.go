package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-kit/kit/log"

	auth "github.com/castellan/castellan"
)

type contextKey string

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "

	principalIDContextKey contextKey = "principalID"
	sessionIDContextKey   contextKey = "sessionID"
	roleContextKey        contextKey = "role"
)

// AuthMiddleware validates a bearer access credential and stores the
// caller's identity on the request context.
func AuthMiddleware(jsonHandler JSONAPIHandler, tokenSvc auth.TokenService) JSONAPIHandler {
	return func(w http.ResponseWriter, r *http.Request) (interface{}, error) {
		ctx := r.Context()

		header := r.Header.Get(authorizationHeader)
		if header == "" {
			return nil, auth.ErrInvalidToken("user is not authenticated")
		}
		if !strings.HasPrefix(header, bearerPrefix) {
			return nil, auth.ErrInvalidToken("credential must be presented as a bearer token")
		}

		claims, err := tokenSvc.VerifyAccess(ctx, strings.TrimPrefix(header, bearerPrefix))
		if err != nil {
			return nil, err
		}

		ctx = context.WithValue(ctx, principalIDContextKey, claims.Subject)
		ctx = context.WithValue(ctx, sessionIDContextKey, claims.SessionID)
		ctx = context.WithValue(ctx, roleContextKey, claims.Role)
		r = r.WithContext(ctx)

		return jsonHandler(w, r)
	}
}

// RoleMiddleware rejects callers whose role is not among the allowed
// ones. It must run inside AuthMiddleware.
func RoleMiddleware(jsonHandler JSONAPIHandler, roles ...auth.Role) JSONAPIHandler {
	return func(w http.ResponseWriter, r *http.Request) (interface{}, error) {
		role := GetRole(r)
		for _, allowed := range roles {
			if role == allowed {
				return jsonHandler(w, r)
			}
		}
		return nil, auth.ErrForbidden("caller does not have the required capability")
	}
}

// ErrorLoggingMiddleware logs any errors that are returned before
// being parsed to an HTTP response.
func ErrorLoggingMiddleware(jsonHandler JSONAPIHandler, source string, l log.Logger) JSONAPIHandler {
	return func(w http.ResponseWriter, r *http.Request) (interface{}, error) {
		response, err := jsonHandler(w, r)
		if err != nil {
			l.Log(
				"principal_id", GetPrincipalID(r),
				"source", source,
				"error", err.Error(),
				"stack_trace", fmt.Sprintf("%+v", err),
			)
		}
		return response, err
	}
}

// GetPrincipalID retrieves the authenticated principal's ID from
// context. It is empty on public endpoints.
func GetPrincipalID(r *http.Request) string {
	id, _ := r.Context().Value(principalIDContextKey).(string)
	return id
}

// GetSessionID retrieves the session bound to the presented credential.
func GetSessionID(r *http.Request) string {
	id, _ := r.Context().Value(sessionIDContextKey).(string)
	return id
}

// GetRole retrieves the authenticated principal's role from context.
func GetRole(r *http.Request) auth.Role {
	role, _ := r.Context().Value(roleContextKey).(auth.Role)
	return role
}

// GetIP returns the client address, honoring the first entry of a
// proxy supplied X-Forwarded-For header.
func GetIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// GetUserAgent returns the client's user agent header.
func GetUserAgent(r *http.Request) string {
	return r.Header.Get("User-Agent")
}

// NewRequestContext captures the caller-facing facts of a request for
// the core services.
func NewRequestContext(r *http.Request) auth.RequestContext {
	return auth.RequestContext{
		IP:           GetIP(r),
		UserAgent:    GetUserAgent(r),
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
	}
}
