// Command worker runs a stub worker process implementing the router's
// worker contract (GET <health_path>, POST <process_path>). Its --profile
// flag selects which of the three worker identities it emulates; each
// differs in simulated processing latency, and the priority profile skips
// safety screening and rate limiting entirely.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ira-chat/tier-router/internal/chatproto"
	"github.com/ira-chat/tier-router/internal/config"
	"github.com/ira-chat/tier-router/internal/kv"
	"github.com/ira-chat/tier-router/internal/logging"
	"github.com/ira-chat/tier-router/internal/ratelimit"
	"github.com/ira-chat/tier-router/internal/safety"
)

type latencyRange struct {
	min, max time.Duration
}

var profileLatencies = map[string]latencyRange{
	"priority": {20 * time.Millisecond, 60 * time.Millisecond},
	"standard": {50 * time.Millisecond, 150 * time.Millisecond},
	"overflow": {100 * time.Millisecond, 350 * time.Millisecond},
}

func main() {
	var (
		profile     string
		addr        string
		healthPath  string
		processPath string
		redisURL    string
		namespace   string
	)

	root := &cobra.Command{
		Use:   "worker",
		Short: "Run a stub worker process for the tier router",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := profileLatencies[profile]; !ok {
				return fmt.Errorf("unknown profile %q (want priority, standard, or overflow)", profile)
			}
			return run(cmd.Context(), profile, addr, healthPath, processPath, redisURL, namespace)
		},
	}

	root.Flags().StringVar(&profile, "profile", "standard", "worker profile: priority, standard, or overflow")
	root.Flags().StringVar(&addr, "addr", ":8002", "listen address")
	root.Flags().StringVar(&healthPath, "health-path", "/healthz", "health check path")
	root.Flags().StringVar(&processPath, "process-path", "/process", "chat processing path")
	root.Flags().StringVar(&redisURL, "redis-url", "redis://localhost:6379/0", "shared KV store URL")
	root.Flags().StringVar(&namespace, "namespace", "ira", "KV key namespace")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, profile, addr, healthPath, processPath, redisURL, namespace string) error {
	logger := logging.NewLogger(config.LoggingConfig{Level: "info", Format: "json"}).WithComponent("worker-" + profile)

	var limiter *ratelimit.SessionDayLimiter
	var store kv.Store
	if profile != "priority" {
		redisStore, err := kv.NewRedisStore(redisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		store = redisStore
		limiter = ratelimit.New(store, namespace, ratelimit.Limits{Free: 10, Premium: 100, Enterprise: 0})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+healthPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST "+processPath, handleProcess(profile, limiter, logger))

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "worker listening", "addr", addr, "profile", profile)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if store != nil {
			_ = store.Close()
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func handleProcess(profile string, limiter *ratelimit.SessionDayLimiter, logger *logging.Logger) http.HandlerFunc {
	lat := profileLatencies[profile]

	return func(w http.ResponseWriter, r *http.Request) {
		var req chatproto.ProcessRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}

		ctx := r.Context()

		if profile != "priority" {
			result := safety.DetectUnsafe(req.Message)
			if !result.Allowed {
				reply := safety.RefusalMessage("warm", result.Category)
				writeProcessResponse(w, chatproto.ProcessResponse{OK: true, Reply: &reply, Blocked: true})
				return
			}

			rl, err := limiter.CheckAndIncrement(ctx, req.UserID, req.Tier)
			if err != nil {
				logger.ErrorContext(ctx, "rate limit check failed", "error", err.Error(), "tier", string(req.Tier))
				// KV outage policy: enterprise fails open (processing
				// continues below), free/premium fail closed — deny
				// silently rather than surface the outage as an error or
				// let an unmetered request through.
				if req.Tier != chatproto.TierEnterprise {
					writeProcessResponse(w, chatproto.ProcessResponse{OK: true, RateLimited: true, Silent: true})
					return
				}
			} else if !rl.Allowed {
				if rl.FirstNotice {
					reply := ratelimit.HumanResetMessage(rl.ResetInSeconds)
					writeProcessResponse(w, chatproto.ProcessResponse{OK: true, Reply: &reply, RateLimited: true, Silent: false})
					return
				}
				writeProcessResponse(w, chatproto.ProcessResponse{OK: true, RateLimited: true, Silent: true})
				return
			}
		}

		sleepRandom(lat)
		reply := fmt.Sprintf("Processed by %s pool (stub).", profile)
		logger.InfoContext(ctx, "processed", "user_id", req.UserID, "tier", string(req.Tier))
		writeProcessResponse(w, chatproto.ProcessResponse{OK: true, Reply: &reply})
	}
}

func sleepRandom(lat latencyRange) {
	span := lat.max - lat.min
	d := lat.min
	if span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	time.Sleep(d)
}

func writeProcessResponse(w http.ResponseWriter, resp chatproto.ProcessResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
