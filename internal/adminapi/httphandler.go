package adminapi

import (
	"net/http"

	"github.com/didip/tollbooth/v6"
	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/httpapi"
)

// SetupHTTPHandler converts a service's public methods
// to http handlers. Every route requires an admin role; anonymization
// is reserved to super admins.
func SetupHTTPHandler(svc auth.AdminAPI, router *mux.Router, tokenSvc auth.TokenService, logger log.Logger) {
	admin := func(jsonHandler httpapi.JSONAPIHandler, source, path, method string) {
		handler := httpapi.RoleMiddleware(jsonHandler, auth.RoleAdmin, auth.RoleSuperAdmin)
		handler = httpapi.AuthMiddleware(handler, tokenSvc)
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, source, logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusOK)
		router.HandleFunc(path, httpHandler).Methods(method)
	}
	superAdmin := func(jsonHandler httpapi.JSONAPIHandler, source, path, method string) {
		handler := httpapi.RoleMiddleware(jsonHandler, auth.RoleSuperAdmin)
		handler = httpapi.AuthMiddleware(handler, tokenSvc)
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, source, logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusOK)
		router.HandleFunc(path, httpHandler).Methods(method)
	}

	admin(svc.ListPrincipals, "AdminAPI.ListPrincipals", "/admin/users", "Get")
	admin(svc.CreatePrincipal, "AdminAPI.CreatePrincipal", "/admin/users", "Post")
	admin(svc.GetPrincipal, "AdminAPI.GetPrincipal", "/admin/users/{id}", "Get")
	admin(svc.UpdatePrincipal, "AdminAPI.UpdatePrincipal", "/admin/users/{id}", "Put")
	admin(svc.Archive, "AdminAPI.Archive", "/admin/users/{id}/archive", "Post")
	admin(svc.Restore, "AdminAPI.Restore", "/admin/users/{id}/restore", "Post")
	superAdmin(svc.Anonymize, "AdminAPI.Anonymize", "/admin/users/{id}/anonymize", "Post")
	admin(svc.UnlockMFA, "AdminAPI.UnlockMFA", "/admin/users/{id}/mfa/unlock", "Post")
	admin(svc.ExtendGrace, "AdminAPI.ExtendGrace", "/admin/users/{id}/mfa/grace", "Post")
	admin(svc.GetPolicy, "AdminAPI.GetPolicy", "/admin/mfa/config", "Get")
	admin(svc.UpdatePolicy, "AdminAPI.UpdatePolicy", "/admin/mfa/config", "Put")
	admin(svc.ResetPolicy, "AdminAPI.ResetPolicy", "/admin/mfa/config/reset", "Post")
	admin(svc.AuditLog, "AdminAPI.AuditLog", "/admin/audit", "Get")
}
