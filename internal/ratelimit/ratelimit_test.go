package ratelimit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ira-chat/tier-router/internal/chatproto"
	"github.com/ira-chat/tier-router/internal/kv"
)

func newTestLimiter(t *testing.T, limits Limits) (*SessionDayLimiter, *kv.FakeStore) {
	t.Helper()
	store := kv.NewFakeStore()
	frozen := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return frozen }

	l := New(store, "test", limits)
	l.now = func() time.Time { return frozen }
	return l, store
}

func TestSessionDayLimiterFirstNoticeThenSilent(t *testing.T) {
	l, _ := newTestLimiter(t, Limits{Free: 10, Premium: 100, Enterprise: 0})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := l.CheckAndIncrement(ctx, "u1", chatproto.TierFree)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Allowed || res.FirstNotice {
			t.Fatalf("message %d: got allowed=%v firstNotice=%v, want allowed=true firstNotice=false", i, res.Allowed, res.FirstNotice)
		}
	}

	res, err := l.CheckAndIncrement(ctx, "u1", chatproto.TierFree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Allowed || !res.FirstNotice {
		t.Fatalf("11th message: got allowed=%v firstNotice=%v, want allowed=false firstNotice=true", res.Allowed, res.FirstNotice)
	}

	res, err = l.CheckAndIncrement(ctx, "u1", chatproto.TierFree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Allowed || res.FirstNotice {
		t.Fatalf("12th message: got allowed=%v firstNotice=%v, want allowed=false firstNotice=false", res.Allowed, res.FirstNotice)
	}
}

func TestEnterpriseUnlimited(t *testing.T) {
	l, _ := newTestLimiter(t, Limits{Free: 10, Premium: 100, Enterprise: 0})
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		res, err := l.CheckAndIncrement(ctx, "ent", chatproto.TierEnterprise)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Allowed || res.HasLimit {
			t.Fatalf("message %d: enterprise tier should always be allowed and unbounded", i)
		}
	}
}

func TestHumanResetMessageIsNonTechnical(t *testing.T) {
	msg := HumanResetMessage(8 * 3600)
	lower := strings.ToLower(msg)
	for _, banned := range []string{"rate", "limit", "quota"} {
		if strings.Contains(lower, banned) {
			t.Fatalf("reset message %q contains banned word %q", msg, banned)
		}
	}
}

func TestHumanResetMessageSingleHour(t *testing.T) {
	msg := HumanResetMessage(1800)
	if !strings.Contains(msg, "an hour") {
		t.Fatalf("expected singular hour phrasing, got %q", msg)
	}
}
