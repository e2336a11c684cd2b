// Package castellan describes the domain of an identity and access
// service: principals authenticated by password and optional second
// factors, short-lived bearer credentials, device-bound sessions, and
// an append-only trail of security events.
//
// The root package holds entities, service interfaces and the error
// vocabulary shared across the application. Implementations live in
// internal packages and are wired together in cmd/api.
package castellan
