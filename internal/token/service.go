// Package token mints and verifies the signed credential classes:
// access, refresh, challenge and setup tokens.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/golang-jwt/jwt/v5"
	redislib "github.com/go-redis/redis/v8"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	auth "github.com/castellan/castellan"
)

// Secret is an identified signing key. Verification selects a key by
// its ID so rotation does not invalidate outstanding credentials.
type Secret struct {
	ID  string
	Key []byte
}

// Rediser is an interface to go-redis.
type Rediser interface {
	Get(ctx context.Context, key string) *redislib.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redislib.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redislib.BoolCmd
}

// service is an implementation of auth.TokenService backed by redis
// and the relational store.
type service struct {
	logger          log.Logger
	accessExpiry    time.Duration
	refreshExpiry   time.Duration
	challengeExpiry time.Duration
	setupExpiry     time.Duration
	// keyGrace bounds how long credentials signed with a superseded
	// key remain acceptable.
	keyGrace time.Duration
	issuer   string
	// secrets holds the known signing keys. The last entry signs new
	// credentials; earlier entries only verify.
	secrets  []Secret
	db       Rediser
	repoMngr auth.RepositoryManager
}

// MintAccess signs a short-lived bearer credential for a principal.
func (s *service) MintAccess(ctx context.Context, principal *auth.Principal, sessionID string) (string, *auth.AccessClaims, error) {
	now := time.Now()
	claims := &auth.AccessClaims{
		RegisteredClaims: s.registered(principal.ID, now, s.accessExpiry),
		Kind:             auth.KindAccess,
		Role:             principal.Role,
		SessionID:        sessionID,
	}

	signed, err := s.sign(claims)
	if err != nil {
		return "", nil, err
	}

	return signed, claims, nil
}

// MintRefresh signs a refresh credential bound to a family version.
func (s *service) MintRefresh(ctx context.Context, principal *auth.Principal, familyID string, version int, sessionID string) (string, *auth.RefreshClaims, error) {
	now := time.Now()
	claims := &auth.RefreshClaims{
		RegisteredClaims: s.registered(principal.ID, now, s.refreshExpiry),
		Kind:             auth.KindRefresh,
		Family:           familyID,
		Version:          version,
		SessionID:        sessionID,
	}

	signed, err := s.sign(claims)
	if err != nil {
		return "", nil, err
	}

	return signed, claims, nil
}

// MintChallenge signs a token representing "password verified, MFA
// pending". It grants no bearer authority.
func (s *service) MintChallenge(ctx context.Context, principal *auth.Principal, methods, completed []auth.Method, fingerprint string) (string, error) {
	claims := &auth.ChallengeClaims{
		RegisteredClaims: s.registered(principal.ID, time.Now(), s.challengeExpiry),
		Kind:             auth.KindChallenge,
		Methods:          methods,
		Completed:        completed,
		Fingerprint:      fingerprint,
	}

	return s.sign(claims)
}

// MintSetup signs a token scoped to MFA enrollment only.
func (s *service) MintSetup(ctx context.Context, principal *auth.Principal) (string, error) {
	claims := &auth.SetupClaims{
		RegisteredClaims: s.registered(principal.ID, time.Now(), s.setupExpiry),
		Kind:             auth.KindSetup,
	}

	return s.sign(claims)
}

// VerifyAccess validates an access credential and rejects credentials
// issued before the principal's credential epoch.
func (s *service) VerifyAccess(ctx context.Context, token string) (*auth.AccessClaims, error) {
	var claims auth.AccessClaims
	if err := s.verify(token, &claims, auth.KindAccess); err != nil {
		return nil, err
	}
	if claims.Kind != auth.KindAccess {
		return nil, auth.ErrInvalidToken("token is of the wrong kind")
	}

	if err := s.checkEpoch(ctx, &claims.RegisteredClaims); err != nil {
		return nil, err
	}

	return &claims, nil
}

// VerifyRefresh validates a refresh credential. Family revocation and
// version supersession are the caller's concern.
func (s *service) VerifyRefresh(ctx context.Context, token string) (*auth.RefreshClaims, error) {
	var claims auth.RefreshClaims
	if err := s.verify(token, &claims, auth.KindRefresh); err != nil {
		return nil, err
	}
	if claims.Kind != auth.KindRefresh {
		return nil, auth.ErrInvalidToken("token is of the wrong kind")
	}

	return &claims, nil
}

// VerifyChallenge validates a challenge token.
func (s *service) VerifyChallenge(ctx context.Context, token string) (*auth.ChallengeClaims, error) {
	var claims auth.ChallengeClaims
	err := s.verify(token, &claims, auth.KindChallenge)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, auth.ErrChallengeExpired("challenge is expired, log in again")
	}
	if err != nil {
		if auth.DomainError(err) != nil {
			return nil, err
		}
		return nil, errors.Wrap(auth.ErrChallengeInvalid("challenge is invalid"), err.Error())
	}
	if claims.Kind != auth.KindChallenge {
		return nil, auth.ErrChallengeInvalid("token is of the wrong kind")
	}

	return &claims, nil
}

// VerifySetup validates an MFA setup token.
func (s *service) VerifySetup(ctx context.Context, token string) (*auth.SetupClaims, error) {
	var claims auth.SetupClaims
	if err := s.verify(token, &claims, auth.KindSetup); err != nil {
		return nil, err
	}
	if claims.Kind != auth.KindSetup {
		return nil, auth.ErrInvalidToken("token is of the wrong kind")
	}

	return &claims, nil
}

// ConsumeChallenge marks a challenge used. The second caller for the
// same challenge observes ErrChallengeExhausted.
func (s *service) ConsumeChallenge(ctx context.Context, claims *auth.ChallengeClaims) error {
	ttl := s.challengeExpiry
	if claims.ExpiresAt != nil {
		if until := time.Until(claims.ExpiresAt.Time); until > 0 {
			ttl = until
		}
	}

	ok, err := s.db.SetNX(ctx, challengeKey(claims.ID), true, ttl).Result()
	if err != nil {
		return errors.Wrap(auth.ErrDependencyUnavailable("challenge store unreachable"), err.Error())
	}
	if !ok {
		return auth.ErrChallengeExhausted("challenge was already used")
	}

	return nil
}

// BumpEpoch invalidates all access credentials minted for the
// principal before now.
func (s *service) BumpEpoch(ctx context.Context, principalID string) error {
	epoch := time.Now().Unix()

	tx, err := s.repoMngr.NewWithTransaction(ctx)
	if err != nil {
		return fmt.Errorf("cannot start transaction: %w", err)
	}

	_, err = tx.WithAtomic(func() (interface{}, error) {
		principal, err := tx.Principal().GetForUpdate(ctx, principalID)
		if err != nil {
			return nil, err
		}

		principal.CredentialEpoch = epoch
		if err = tx.Principal().Update(ctx, principal); err != nil {
			return nil, err
		}

		return principal, nil
	})
	if err != nil {
		return fmt.Errorf("failed to advance credential epoch: %w", err)
	}

	// Best-effort mirror; verification falls through to the store.
	if err = s.db.Set(ctx, epochKey(principalID), epoch, s.accessExpiry).Err(); err != nil {
		s.logger.Log(
			"source", "service.BumpEpoch",
			"msg", "failed to mirror credential epoch",
			"error", err,
		)
	}

	return nil
}

// AccessTTL reports the configured access credential lifetime.
func (s *service) AccessTTL() time.Duration {
	return s.accessExpiry
}

// RefreshTTL reports the configured refresh credential lifetime.
func (s *service) RefreshTTL() time.Duration {
	return s.refreshExpiry
}

func (s *service) registered(subject string, now time.Time, expiry time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		ID:        s.tokenULID(),
	}
}

func (s *service) tokenULID() string {
	return ulid.Make().String()
}

func (s *service) sign(claims jwt.Claims) (string, error) {
	if len(s.secrets) == 0 {
		return "", auth.ErrInternal("no signing key configured")
	}

	signer := s.secrets[len(s.secrets)-1]
	unsigned := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	unsigned.Header["kid"] = signer.ID

	signed, err := unsigned.SignedString(signer.Key)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}

	return signed, nil
}

// verify parses a signed token into claims. A credential signed with
// a superseded key is accepted only within the rotation grace period.
func (s *service) verify(token string, claims jwt.Claims, kind auth.TokenKind) error {
	var usedSecret *Secret

	keyfunc := func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}

		kid, _ := t.Header["kid"].(string)
		for i := range s.secrets {
			if s.secrets[i].ID == kid {
				usedSecret = &s.secrets[i]
				return s.secrets[i].Key, nil
			}
		}

		return nil, errors.Errorf("unknown signing key %q", kid)
	}

	parsed, err := jwt.ParseWithClaims(token, claims, keyfunc, jwt.WithIssuer(s.issuer))
	if errors.Is(err, jwt.ErrTokenExpired) {
		if kind == auth.KindChallenge {
			return err
		}
		return errors.Wrap(auth.ErrInvalidToken("token is expired"), err.Error())
	}
	if err != nil {
		return errors.Wrap(auth.ErrInvalidToken("token is invalid"), err.Error())
	}
	if !parsed.Valid {
		return auth.ErrInvalidToken("token is invalid")
	}

	if usedSecret != nil && usedSecret.ID != s.secrets[len(s.secrets)-1].ID {
		iat, err := claims.GetIssuedAt()
		if err != nil || iat == nil || time.Since(iat.Time) > s.keyGrace {
			return auth.ErrInvalidToken("token key is retired")
		}
	}

	return nil
}

// checkEpoch rejects credentials issued before the principal's
// credential epoch. The epoch is mirrored in redis; a miss falls
// through to the relational store and repopulates the mirror.
func (s *service) checkEpoch(ctx context.Context, claims *jwt.RegisteredClaims) error {
	if claims.IssuedAt == nil {
		return auth.ErrInvalidToken("token has no issue time")
	}

	epoch, err := s.db.Get(ctx, epochKey(claims.Subject)).Int64()
	if err == redislib.Nil {
		principal, err := s.repoMngr.Principal().ByID(ctx, claims.Subject)
		if err != nil {
			return errors.Wrap(auth.ErrInvalidToken("token is not associated with a principal"), err.Error())
		}

		epoch = principal.CredentialEpoch
		if err = s.db.Set(ctx, epochKey(claims.Subject), epoch, s.accessExpiry).Err(); err != nil {
			s.logger.Log(
				"source", "service.checkEpoch",
				"msg", "failed to mirror credential epoch",
				"error", err,
			)
		}
	} else if err != nil {
		return errors.Wrap(auth.ErrDependencyUnavailable("epoch store unreachable"), err.Error())
	}

	if claims.IssuedAt.Unix() < epoch {
		return auth.ErrInvalidToken("credentials were invalidated")
	}

	return nil
}

func challengeKey(tokenID string) string {
	return fmt.Sprintf("challenge:%s:used", tokenID)
}

func epochKey(principalID string) string {
	return fmt.Sprintf("epoch:%s", principalID)
}
