package signupapi

import (
	"net/http"

	"github.com/didip/tollbooth/v6"
	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/httpapi"
)

// SetupHTTPHandler converts a service's public methods
// to http handlers.
func SetupHTTPHandler(svc auth.SignUpAPI, router *mux.Router, tokenSvc auth.TokenService, limiter auth.RateLimiter, logger log.Logger) {
	var handler httpapi.JSONAPIHandler
	{
		handler = svc.Register
		handler = httpapi.ScopeLimitMiddleware(handler, limiter, auth.ScopeRegister)
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, "SignUpAPI.Register", logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusCreated)
		router.HandleFunc("/auth/register", httpHandler).Methods("Post")
	}
	{
		handler = httpapi.AuthMiddleware(svc.VerifyEmail, tokenSvc)
		handler = httpapi.ScopeLimitMiddleware(handler, limiter, auth.ScopeEmailVerify)
		handler = httpapi.RateLimitMiddleware(handler, tollbooth.NewLimiter(
			httpapi.ThrottleEveryOneSec, nil,
		))
		handler = httpapi.ErrorLoggingMiddleware(handler, "SignUpAPI.VerifyEmail", logger)
		httpHandler := httpapi.ToHandlerFunc(handler, http.StatusOK)
		router.HandleFunc("/auth/verify-email", httpHandler).Methods("Post")
	}
}
