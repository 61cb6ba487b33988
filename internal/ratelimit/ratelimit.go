// Package ratelimit implements the per-user, per-UTC-calendar-day message
// limiter: a fixed quota per tier, a single friendly "you're at your limit"
// notice the first time a user crosses it each day, and silence after that.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ira-chat/tier-router/internal/chatproto"
	"github.com/ira-chat/tier-router/internal/kv"
)

// Result is the outcome of a single check-and-increment call.
type Result struct {
	Allowed        bool
	Remaining      int // only meaningful when a limit applies; see HasLimit
	HasLimit       bool
	ResetInSeconds int
	FirstNotice    bool
}

// Limits maps each tier to its daily message quota. A limit of 0 means
// unlimited.
type Limits struct {
	Free       int
	Premium    int
	Enterprise int
}

func (l Limits) forTier(tier chatproto.Tier) (limit int, hasLimit bool) {
	switch tier {
	case chatproto.TierEnterprise:
		limit = l.Enterprise
	case chatproto.TierPremium:
		limit = l.Premium
	default:
		limit = l.Free
	}
	if limit <= 0 {
		return 0, false
	}
	return limit, true
}

// SessionDayLimiter enforces the per-user-per-day quota described above.
type SessionDayLimiter struct {
	store     kv.Store
	namespace string
	limits    Limits
	now       func() time.Time
}

// New builds a SessionDayLimiter backed by store. namespace prefixes every
// Redis key the limiter touches (default "ira" if empty).
func New(store kv.Store, namespace string, limits Limits) *SessionDayLimiter {
	if namespace == "" {
		namespace = "ira"
	}
	return &SessionDayLimiter{store: store, namespace: namespace, limits: limits, now: time.Now}
}

func (l *SessionDayLimiter) countKey(userID, day string) string {
	return fmt.Sprintf("%s:rl:count:%s:%s", l.namespace, day, userID)
}

func (l *SessionDayLimiter) noticeKey(userID, day string) string {
	return fmt.Sprintf("%s:rl:notice:%s:%s", l.namespace, day, userID)
}

func utcDayKey(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

func secondsUntilUTCMidnight(now time.Time) int {
	now = now.UTC()
	tomorrow := now.AddDate(0, 0, 1)
	midnight := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, time.UTC)
	secs := int(midnight.Sub(now).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// CheckAndIncrement applies the spec's six-step rate-limit protocol: look up
// the tier's limit, increment today's counter, bind its TTL to the
// remaining time until UTC midnight on first increment, and — only when the
// user just crossed the limit for the first time today — arm a one-shot
// notice flag so the caller knows to surface a message instead of staying
// silent.
func (l *SessionDayLimiter) CheckAndIncrement(ctx context.Context, userID string, tier chatproto.Tier) (Result, error) {
	now := l.now()
	resetIn := secondsUntilUTCMidnight(now)
	day := utcDayKey(now)

	limit, hasLimit := l.limits.forTier(tier)
	if !hasLimit {
		return Result{Allowed: true, ResetInSeconds: resetIn}, nil
	}

	countKey := l.countKey(userID, day)
	noticeKey := l.noticeKey(userID, day)

	count, ttl, err := l.store.IncrWithTTL(ctx, countKey)
	if err != nil {
		return Result{}, fmt.Errorf("incr rate-limit counter: %w", err)
	}
	if ttl < 0 {
		if err := l.store.Expire(ctx, countKey, time.Duration(resetIn)*time.Second); err != nil {
			return Result{}, fmt.Errorf("set rate-limit counter ttl: %w", err)
		}
	}

	remaining := int(int64(limit) - count)
	if remaining < 0 {
		remaining = 0
	}
	allowed := count <= int64(limit)

	if allowed {
		return Result{Allowed: true, Remaining: remaining, HasLimit: true, ResetInSeconds: resetIn}, nil
	}

	firstNotice, err := l.store.SetNX(ctx, noticeKey, "1", time.Duration(resetIn)*time.Second)
	if err != nil {
		return Result{}, fmt.Errorf("set rate-limit notice flag: %w", err)
	}

	return Result{
		Allowed:        false,
		Remaining:      0,
		HasLimit:       true,
		ResetInSeconds: resetIn,
		FirstNotice:    firstNotice,
	}, nil
}

// HumanResetMessage renders a friendly, non-technical message telling the
// user roughly when their quota resets. It must never contain the words
// "rate", "limit", or "quota" (an invariant exercised by tests), since the
// message is shown to the end user verbatim.
func HumanResetMessage(resetInSeconds int) string {
	hours := int(math.Ceil(float64(resetInSeconds) / 3600.0))
	if hours < 1 {
		hours = 1
	}
	if hours == 1 {
		return "I need a bit of rest—text me again in about an hour."
	}
	return fmt.Sprintf("I need to rest a little—text me again in about %d hours.", hours)
}
