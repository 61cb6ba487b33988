// Package tierrouter implements the tier-aware routing policy: an ordered
// list of candidate pools per tier, graceful degradation when none of them
// can take the request, and tier-specific "shed" messages that never
// mention rate limiting.
package tierrouter

import (
	"context"
	"errors"
	"fmt"

	"github.com/ira-chat/tier-router/internal/chatproto"
	"github.com/ira-chat/tier-router/internal/poolmgr"
)

// Action is the outcome of routing a chat request.
type Action string

const (
	ActionForward Action = "forward"
	ActionShed    Action = "shed"
)

// Decision records which pool handled a request (if any), what happened,
// and — for a shed decision — the message to show the user.
type Decision struct {
	Pool        poolmgr.Name
	Action      Action
	Reason      string
	UserMessage string
}

// candidate is one (pool, max_queue_wait_s) entry in a tier's failover
// order.
type candidate struct {
	pool          poolmgr.Name
	maxQueueWaitS float64
}

// PoolCaller is the subset of *poolmgr.Manager the router depends on. Tests
// substitute a fake implementation instead of standing up real worker
// processes.
type PoolCaller interface {
	IsHealthy(name poolmgr.Name) bool
	CallProcess(ctx context.Context, name poolmgr.Name, req chatproto.ProcessRequest, maxQueueWaitS float64) (*chatproto.ProcessResponse, int, error)
}

// Router applies the tier policy against a PoolCaller.
type Router struct {
	pools PoolCaller
	waits map[poolmgr.Name]float64
}

// New builds a Router backed by pools. waits supplies each pool's
// max_queue_wait_s (from config.PoolConfig.MaxQueueWaitS); a pool absent
// from waits is called with no queue wait.
func New(pools PoolCaller, waits map[poolmgr.Name]float64) *Router {
	return &Router{pools: pools, waits: waits}
}

// decide returns the ordered candidate pools for tier, each paired with the
// configured max_queue_wait_s to use when calling it. Enterprise tries
// priority first (fail over quickly); premium tries standard, then
// overflow, then priority if nothing else worked; free only ever tries
// overflow.
func (r *Router) decide(tier chatproto.Tier) []candidate {
	names := r.candidatePools(tier)
	candidates := make([]candidate, len(names))
	for i, name := range names {
		candidates[i] = candidate{pool: name, maxQueueWaitS: r.waits[name]}
	}
	return candidates
}

func (r *Router) candidatePools(tier chatproto.Tier) []poolmgr.Name {
	switch tier {
	case chatproto.TierEnterprise:
		return []poolmgr.Name{poolmgr.Priority, poolmgr.Overflow}
	case chatproto.TierPremium:
		return []poolmgr.Name{poolmgr.Standard, poolmgr.Overflow, poolmgr.Priority}
	default:
		return []poolmgr.Name{poolmgr.Overflow}
	}
}

// ShedMessage returns the tier-specific message shown when every candidate
// pool failed. None of these strings may ever mention rate limiting —
// shedding is a capacity decision, not a quota decision, and the user
// shouldn't be able to tell the two apart.
func ShedMessage(tier chatproto.Tier) string {
	switch tier {
	case chatproto.TierEnterprise:
		return "I'm here—give me a moment while I catch up."
	case chatproto.TierPremium:
		return "I'm a bit busy right now—try again in a few seconds?"
	default:
		return "I'm getting a lot of messages right now—could you try again shortly?"
	}
}

// RouteAndCall walks tier's candidate pools in order, skipping unhealthy
// ones (except for enterprise, which tries every candidate regardless of
// its last-known health so a single stale health check never displaces
// enterprise traffic), and returns the first successful response. If no
// candidate succeeds, it returns a shed decision with no response body.
func (r *Router) RouteAndCall(ctx context.Context, tier chatproto.Tier, req chatproto.ProcessRequest) (Decision, *chatproto.ProcessResponse) {
	candidates := r.decide(tier)

	lastReason := "no_candidate"
	for _, c := range candidates {
		if tier != chatproto.TierEnterprise && !r.pools.IsHealthy(c.pool) {
			lastReason = fmt.Sprintf("unhealthy:%s", c.pool)
			continue
		}

		resp, statusCode, err := r.pools.CallProcess(ctx, c.pool, req, c.maxQueueWaitS)
		switch {
		case err == nil && statusCode == 200:
			return Decision{Pool: c.pool, Action: ActionForward, Reason: "ok"}, resp
		case err == nil:
			lastReason = fmt.Sprintf("bad_status:%s:%d", c.pool, statusCode)
		case poolmgr.IsOverloaded(err):
			lastReason = fmt.Sprintf("overloaded:%s", c.pool)
		default:
			lastReason = fmt.Sprintf("error:%s:%s", c.pool, errorKind(err))
		}
	}

	return Decision{Action: ActionShed, Reason: lastReason, UserMessage: ShedMessage(tier)}, nil
}

func errorKind(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "request_failed"
}
