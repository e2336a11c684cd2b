// Package ratelimit gates externally reachable operations with
// sliding window counters keyed by (scope, identity).
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	auth "github.com/castellan/castellan"
)

type rediser interface {
	TxPipelined(ctx context.Context, fn func(pipe redis.Pipeliner) error) ([]redis.Cmder, error)
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Policy bounds a scope to a number of requests per window.
type Policy struct {
	Window time.Duration
	Max    int
}

// Limiter tracks request timestamps per (scope, identity) in redis
// sorted sets so counters survive restarts and are shared across
// instances. When redis is unreachable most scopes fall back to a
// single-process window; login and MFA verification instead deny
// until the window would reopen.
type Limiter struct {
	logger   log.Logger
	db       rediser
	policies map[auth.RateScope]Policy
	fallback *memoryWindow
}

// Check reports whether another request is allowed for the identity
// under the scope's policy, and counts the request if so.
func (l *Limiter) Check(ctx context.Context, scope auth.RateScope, identity string) (auth.RateDecision, error) {
	policy, ok := l.policies[scope]
	if !ok {
		return auth.RateDecision{}, auth.ErrInternal(
			fmt.Sprintf("no rate limit policy for scope %s", scope),
		)
	}

	decision, err := l.checkRedis(ctx, scope, identity, policy)
	if err == nil {
		return decision, nil
	}

	level.Error(l.logger).Log(
		"source", "Limiter.Check",
		"msg", "rate limit store unreachable",
		"scope", scope,
		"error", err,
	)

	if mustFailClosed(scope) {
		return auth.RateDecision{
			Allowed:    false,
			RetryAfter: policy.Window,
		}, nil
	}

	return l.fallback.check(scope, identity, policy), nil
}

// Reset clears the counter for the identity, e.g. after a successful
// login.
func (l *Limiter) Reset(ctx context.Context, scope auth.RateScope, identity string) error {
	l.fallback.reset(scope, identity)

	if err := l.db.Del(ctx, limitKey(scope, identity)).Err(); err != nil {
		return auth.ErrDependencyUnavailable("rate limit store unreachable")
	}

	return nil
}

func (l *Limiter) checkRedis(ctx context.Context, scope auth.RateScope, identity string, policy Policy) (auth.RateDecision, error) {
	var (
		now    = time.Now()
		key    = limitKey(scope, identity)
		member = uuid.New().String()
		card   *redis.IntCmd
	)

	_, err := l.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "0",
			strconv.FormatInt(now.Add(-policy.Window).UnixNano(), 10))
		pipe.ZAdd(ctx, key, &redis.Z{
			Score:  float64(now.UnixNano()),
			Member: member,
		})
		card = pipe.ZCard(ctx, key)
		pipe.Expire(ctx, key, policy.Window)
		return nil
	})
	if err != nil {
		return auth.RateDecision{}, err
	}

	count := int(card.Val())
	if count <= policy.Max {
		return auth.RateDecision{
			Allowed:   true,
			Remaining: policy.Max - count,
		}, nil
	}

	// The denied request does not extend the window.
	if err = l.db.ZRem(ctx, key, member).Err(); err != nil {
		return auth.RateDecision{}, err
	}

	return auth.RateDecision{
		Allowed:    false,
		RetryAfter: l.retryAfter(ctx, key, policy, now),
	}, nil
}

// retryAfter reports when the oldest tracked request falls out of the
// window. Falls back to the full window when the set cannot be read.
func (l *Limiter) retryAfter(ctx context.Context, key string, policy Policy, now time.Time) time.Duration {
	entries, err := l.db.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil || len(entries) == 0 {
		return policy.Window
	}

	oldest := time.Unix(0, int64(entries[0].Score))
	retryAfter := oldest.Add(policy.Window).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	return retryAfter
}

// mustFailClosed reports whether a scope guards credential guessing
// and therefore may not fall back to a process-local window.
func mustFailClosed(scope auth.RateScope) bool {
	return scope == auth.ScopeLogin || scope == auth.ScopeMFAVerify
}

func limitKey(scope auth.RateScope, identity string) string {
	return fmt.Sprintf("rate:%s:%s", scope, identity)
}

// memoryWindow is the single-process fallback. Fixed window semantics
// are acceptable here; the fallback only serves while redis is down.
type memoryWindow struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	startedAt time.Time
	count     int
}

func newMemoryWindow() *memoryWindow {
	return &memoryWindow{windows: map[string]*window{}}
}

func (m *memoryWindow) check(scope auth.RateScope, identity string, policy Policy) auth.RateDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	key := limitKey(scope, identity)

	w, ok := m.windows[key]
	if !ok || now.Sub(w.startedAt) > policy.Window {
		w = &window{startedAt: now}
		m.windows[key] = w
	}

	w.count++
	if w.count > policy.Max {
		return auth.RateDecision{
			Allowed:    false,
			RetryAfter: w.startedAt.Add(policy.Window).Sub(now),
		}
	}

	return auth.RateDecision{
		Allowed:   true,
		Remaining: policy.Max - w.count,
	}
}

func (m *memoryWindow) reset(scope auth.RateScope, identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.windows, limitKey(scope, identity))
}
