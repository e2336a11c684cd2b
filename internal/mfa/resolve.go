// Package mfa resolves the second-factor requirements of a login
// attempt from policy, enrollment state and device trust.
package mfa

import (
	"time"

	auth "github.com/castellan/castellan"
)

// Resolve determines what a principal must verify beyond their
// password. It is a pure function of its inputs.
//
// Resolution order: device trust first, then the effective mode with
// per-role overrides, then enforcement with its grace period for
// principals the mode applies to but who have not enrolled.
func Resolve(principal *auth.Principal, enrollment *auth.MFAEnrollment, policy *auth.MFAPolicy, deviceTrusted bool, now time.Time) auth.MFAResolution {
	if deviceTrusted && policy.IsDeviceTrustEnabled {
		return auth.MFAResolution{}
	}

	mode := policy.EffectiveMode(principal.Role)
	if mode == auth.MFADisabled {
		return auth.MFAResolution{}
	}

	var (
		hasTOTP  = enrollment != nil && enrollment.IsTOTPEnabled
		hasEmail = enrollment != nil && enrollment.IsEmailEnabled
	)

	var (
		methods    []auth.Method
		requireAll bool
	)

	switch mode {
	case auth.MFATOTPOnly:
		if hasTOTP {
			methods = []auth.Method{auth.MethodTOTP}
		}
	case auth.MFAEmailOnly:
		if hasEmail {
			methods = []auth.Method{auth.MethodEmail}
		}
	case auth.MFATOTPAndEmail:
		// a partial enrollment still requires what is enrolled
		if hasTOTP {
			methods = append(methods, auth.MethodTOTP)
		}
		if hasEmail {
			methods = append(methods, auth.MethodEmail)
		}
		requireAll = len(methods) > 1
	case auth.MFATOTPPrimaryEmailFallback:
		if hasTOTP {
			methods = []auth.Method{auth.MethodTOTP, auth.MethodEmail}
		} else if hasEmail {
			methods = []auth.Method{auth.MethodEmail}
		}
	}

	if len(methods) == 0 {
		return resolveUnenrolled(principal, enrollment, policy, now)
	}

	return auth.MFAResolution{
		IsRequired: true,
		Methods:    methods,
		Preferred:  preferred(enrollment, methods),
		RequireAll: requireAll,
	}
}

// resolveUnenrolled applies enforcement to a principal whose effective
// mode demands a factor they have not set up.
func resolveUnenrolled(principal *auth.Principal, enrollment *auth.MFAEnrollment, policy *auth.MFAPolicy, now time.Time) auth.MFAResolution {
	if !policy.IsEnforcementEnabled || policy.ExemptRoles[principal.Role] {
		return auth.MFAResolution{}
	}

	deadline := principal.CreatedAt.Add(time.Duration(policy.GracePeriodDays) * 24 * time.Hour)
	if enrollment != nil && enrollment.GraceUntil != nil && enrollment.GraceUntil.After(deadline) {
		deadline = *enrollment.GraceUntil
	}
	if now.Before(deadline) {
		return auth.MFAResolution{
			InGrace:       true,
			GraceDeadline: &deadline,
		}
	}

	return auth.MFAResolution{
		IsRequired:      true,
		IsSetupRequired: true,
	}
}

func preferred(enrollment *auth.MFAEnrollment, methods []auth.Method) auth.Method {
	if enrollment != nil {
		for _, m := range methods {
			if m == enrollment.PreferredMethod {
				return m
			}
		}
	}

	return methods[0]
}
