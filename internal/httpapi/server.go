// Package httpapi exposes the router's HTTP surface: POST /chat, GET
// /pools, GET /healthz, GET /readyz, and GET /metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ira-chat/tier-router/internal/analytics"
	"github.com/ira-chat/tier-router/internal/chatproto"
	"github.com/ira-chat/tier-router/internal/config"
	"github.com/ira-chat/tier-router/internal/kv"
	"github.com/ira-chat/tier-router/internal/logging"
	"github.com/ira-chat/tier-router/internal/poolmgr"
	"github.com/ira-chat/tier-router/internal/tierrouter"
)

const correlationIDHeader = "X-Correlation-Id"
const maxCorrelationIDLen = 128

// requestMetrics holds the counters exposed by GET /metrics, alongside the
// per-pool queue depth already tracked by poolmgr.Manager.Snapshot.
type requestMetrics struct {
	total       atomic.Int64
	shed        atomic.Int64
	blocked     atomic.Int64
	rateLimited atomic.Int64
}

// Server bundles the dependencies needed to serve the router's HTTP API.
type Server struct {
	router     *tierrouter.Router
	pools      *poolmgr.Manager
	analytics  *analytics.Queue
	store      kv.Store
	logger     *logging.Logger
	metrics    requestMetrics
	metricsCfg config.MetricsConfig
}

// New builds a Server. The rate limiter itself lives with the worker
// processes, not the router; the router only needs the KV store to probe
// readiness. metricsCfg gates and names the GET /metrics endpoint.
func New(router *tierrouter.Router, pools *poolmgr.Manager, analyticsQueue *analytics.Queue, store kv.Store, logger *logging.Logger, metricsCfg config.MetricsConfig) *Server {
	return &Server{router: router, pools: pools, analytics: analyticsQueue, store: store, logger: logger, metricsCfg: metricsCfg}
}

// Routes returns the router's http.Handler, wired with the correlation-id
// middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /pools", s.handlePools)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	if s.metricsCfg.Enabled {
		path := s.metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		mux.HandleFunc("GET "+path, s.handleMetrics)
	}
	return withCorrelationID(mux)
}

func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationIDHeader)
		if id == "" || len(id) > maxCorrelationIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(correlationIDHeader, id)
		ctx := logging.WithCorrelationID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type validationError struct {
	Detail string `json:"detail"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req chatproto.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, validationError{Detail: "invalid request body"})
		return
	}
	if req.Tier == "" {
		req.Tier = chatproto.TierFree
	}
	if err := validateChatRequest(req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, validationError{Detail: err.Error()})
		return
	}

	ctx := r.Context()
	correlationID, _ := logging.CorrelationIDFromContext(ctx)

	processReq := chatproto.ProcessRequest{UserID: req.UserID, Message: req.Message, Tier: req.Tier}
	decision, result := s.router.RouteAndCall(ctx, req.Tier, processReq)

	s.logger.InfoContext(ctx, "routed",
		"user_id", req.UserID,
		"tier", req.Tier,
		"action", decision.Action,
		"pool", string(decision.Pool),
		"reason", decision.Reason,
	)

	elapsedMs := float64(time.Since(started)) / float64(time.Millisecond)

	rateLimited := result != nil && result.RateLimited
	safetyBlocked := result != nil && result.Blocked

	s.metrics.total.Add(1)
	if decision.Action == tierrouter.ActionShed {
		s.metrics.shed.Add(1)
	}
	if safetyBlocked {
		s.metrics.blocked.Add(1)
	}
	if rateLimited {
		s.metrics.rateLimited.Add(1)
	}

	if s.analytics != nil {
		s.analytics.Track(analytics.Event{
			TS:            float64(time.Now().UnixNano()) / 1e9,
			CorrelationID: correlationID,
			UserID:        req.UserID,
			Tier:          string(req.Tier),
			Pool:          string(decision.Pool),
			LatencyMs:     round2(elapsedMs),
			RateLimited:   rateLimited,
			SafetyBlocked: safetyBlocked,
			Degraded:      decision.Action == tierrouter.ActionShed,
			Path:          r.URL.Path,
		})
	}

	if decision.Action == tierrouter.ActionShed {
		writeJSON(w, http.StatusOK, chatproto.ChatResponse{
			Reply:    &decision.UserMessage,
			Tier:     req.Tier,
			Degraded: true,
		})
		return
	}

	// result is only nil here if RouteAndCall reported a forward without a
	// response, which shouldn't happen; fall back to "OK" in that case.
	// Otherwise propagate result.Reply verbatim, including nil — a worker
	// that silently suppresses a rate-limited reply returns reply: null,
	// and that null must survive to the caller rather than becoming "OK".
	var reply *string
	if result == nil {
		ok := "OK"
		reply = &ok
	} else {
		reply = result.Reply
	}
	writeJSON(w, http.StatusOK, chatproto.ChatResponse{
		Reply:       reply,
		Tier:        req.Tier,
		Pool:        string(decision.Pool),
		Degraded:    false,
		RateLimited: rateLimited,
		Silent:      result != nil && result.Silent,
		Blocked:     safetyBlocked,
	})
}

func validateChatRequest(req chatproto.ChatRequest) error {
	switch {
	case len(req.UserID) < 1 || len(req.UserID) > 64:
		return errDetail("user_id must be 1-64 characters")
	case len(req.Message) < 1 || len(req.Message) > 8000:
		return errDetail("message must be 1-8000 characters")
	case !req.Tier.Valid():
		return errDetail("tier must be one of free, premium, enterprise")
	default:
		return nil
	}
}

type errDetail string

func (e errDetail) Error() string { return string(e) }

func (s *Server) handlePools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pools.Snapshot())
}

// handleMetrics reports request-level counters alongside the per-pool
// queue depth (inflight count) already tracked by the pool manager.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests_total":        s.metrics.total.Load(),
		"requests_shed":         s.metrics.shed.Load(),
		"requests_blocked":      s.metrics.blocked.Load(),
		"requests_rate_limited": s.metrics.rateLimited.Load(),
		"pools":                 s.pools.Snapshot(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	if _, _, err := s.store.IncrWithTTL(ctx, "ira:readyz:probe"); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
