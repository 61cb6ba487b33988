package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ira-chat/tier-router/internal/analytics"
	"github.com/ira-chat/tier-router/internal/chatproto"
	"github.com/ira-chat/tier-router/internal/codec"
	"github.com/ira-chat/tier-router/internal/config"
	"github.com/ira-chat/tier-router/internal/kv"
	"github.com/ira-chat/tier-router/internal/logging"
	"github.com/ira-chat/tier-router/internal/poolmgr"
	"github.com/ira-chat/tier-router/internal/tierrouter"
)

func newTestServer(t *testing.T, workerURL string) (*Server, func()) {
	t.Helper()

	c, err := codec.New(codec.TypeJSON)
	if err != nil {
		t.Fatalf("build codec: %v", err)
	}
	logger := logging.NewLogger(config.LoggingConfig{Level: "error", Format: "text"})

	cfgs := config.PoolsConfig{
		Priority: config.PoolConfig{BaseURL: "http://127.0.0.1:1", MaxConcurrency: 1, HealthPath: "/healthz", ProcessPath: "/process", RequestTimeout: time.Second},
		Standard: config.PoolConfig{BaseURL: "http://127.0.0.1:1", MaxConcurrency: 1, HealthPath: "/healthz", ProcessPath: "/process", RequestTimeout: time.Second},
		Overflow: config.PoolConfig{BaseURL: workerURL, MaxConcurrency: 5, HealthPath: "/healthz", ProcessPath: "/process", RequestTimeout: time.Second},
	}

	pools := poolmgr.NewManager(cfgs, 20*time.Millisecond, c, logger)
	ctx, cancel := context.WithCancel(context.Background())
	pools.Start(ctx)

	deadline := time.Now().Add(time.Second)
	for !pools.IsHealthy(poolmgr.Overflow) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	waits := map[poolmgr.Name]float64{
		poolmgr.Priority: cfgs.Priority.MaxQueueWaitS,
		poolmgr.Standard: cfgs.Standard.MaxQueueWaitS,
		poolmgr.Overflow: cfgs.Overflow.MaxQueueWaitS,
	}
	router := tierrouter.New(pools, waits)
	store := kv.NewFakeStore()
	queue := analytics.New(analytics.NewLogSink(logger, c), logger)
	queue.Start(ctx)

	server := New(router, pools, queue, store, logger, config.MetricsConfig{Enabled: true, Path: "/metrics"})

	cleanup := func() {
		cancel()
		pools.Shutdown()
		queue.Stop()
	}
	return server, cleanup
}

func TestHandleChatFreeTierForwardsToOverflow(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			w.WriteHeader(http.StatusOK)
		case "/process":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true,"reply":"hi there"}`))
		}
	}))
	defer worker.Close()

	server, cleanup := newTestServer(t, worker.URL)
	defer cleanup()

	body, _ := json.Marshal(chatproto.ChatRequest{UserID: "u1", Message: "hello", Tier: chatproto.TierFree})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	var resp chatproto.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reply == nil || *resp.Reply != "hi there" || resp.Degraded {
		t.Fatalf("got resp %+v, want forwarded non-degraded reply", resp)
	}
	if rec.Header().Get(correlationIDHeader) == "" {
		t.Fatal("expected a correlation id header on the response")
	}
}

func TestHandleChatRejectsInvalidTier(t *testing.T) {
	server, cleanup := newTestServer(t, "http://127.0.0.1:1")
	defer cleanup()

	body, _ := json.Marshal(map[string]string{"user_id": "u1", "message": "hi", "tier": "gold"})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("got status %d, want 422", rec.Code)
	}
}

func TestHandleChatPassesThroughCallerCorrelationID(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"reply":"hi"}`))
	}))
	defer worker.Close()

	server, cleanup := newTestServer(t, worker.URL)
	defer cleanup()

	body, _ := json.Marshal(chatproto.ChatRequest{UserID: "u1", Message: "hello", Tier: chatproto.TierFree})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	req.Header.Set(correlationIDHeader, "caller-supplied-id")
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	if got := rec.Header().Get(correlationIDHeader); got != "caller-supplied-id" {
		t.Fatalf("got correlation id %q, want pass-through of caller-supplied-id", got)
	}
}

func TestHandleChatSilentRateLimitPropagatesNullReply(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"rate_limited":true,"silent":true}`))
	}))
	defer worker.Close()

	server, cleanup := newTestServer(t, worker.URL)
	defer cleanup()

	body, _ := json.Marshal(chatproto.ChatRequest{UserID: "u1", Message: "hello", Tier: chatproto.TierFree})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200; body=%s", rec.Code, rec.Body.String())
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if v, present := raw["reply"]; present && v != nil {
		t.Fatalf("got reply %v, want the key omitted (null) for a silent rate-limited response", v)
	}

	var resp chatproto.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode typed response: %v", err)
	}
	if resp.Reply != nil {
		t.Fatalf("got reply %q, want nil", *resp.Reply)
	}
	if !resp.RateLimited || !resp.Silent {
		t.Fatalf("got resp %+v, want rate_limited=true silent=true", resp)
	}
}
