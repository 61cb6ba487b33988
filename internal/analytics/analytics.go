// Package analytics implements the router's fire-and-forget event sink: a
// bounded queue drained by one background goroutine that batches events and
// flushes them on a size/interval policy. Track never blocks the request
// path — a full queue drops the event and increments a counter instead.
package analytics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ira-chat/tier-router/internal/codec"
	"github.com/ira-chat/tier-router/internal/logging"
)

const (
	queueCapacity  = 10_000
	maxBatchSize   = 100
	flushInterval  = 500 * time.Millisecond
)

// Event is one routed-request record.
type Event struct {
	TS            float64 `json:"ts"`
	CorrelationID string  `json:"correlation_id"`
	UserID        string  `json:"user_id"`
	Tier          string  `json:"tier"`
	Pool          string  `json:"pool,omitempty"`
	LatencyMs     float64 `json:"latency_ms"`
	RateLimited   bool    `json:"rate_limited"`
	SafetyBlocked bool    `json:"safety_blocked"`
	Degraded      bool    `json:"degraded"`
	Path          string  `json:"path"`
}

// Sink receives flushed batches of events. The default sink writes a
// structured log line per batch; a webhook or storage-backed sink can be
// substituted without touching the queueing/batching logic.
type Sink interface {
	Flush(ctx context.Context, batch []Event) error
}

// LogSink flushes batches through the structured logger, at warn level
// only when the flush itself fails — per the error-handling rule that
// analytics problems must never surface to the request path.
type LogSink struct {
	logger *logging.Logger
	codec  codec.Codec
}

// NewLogSink builds a LogSink using c only to size-check a batch is
// encodable before logging it; failures there are themselves swallowed.
func NewLogSink(logger *logging.Logger, c codec.Codec) *LogSink {
	return &LogSink{logger: logger, codec: c}
}

func (s *LogSink) Flush(_ context.Context, batch []Event) error {
	encoded, err := s.codec.Marshal(batch)
	if err != nil {
		return err
	}
	s.logger.Info("analytics_batch_flushed", "count", len(batch), "bytes", len(encoded))
	return nil
}

// Queue is the bounded, batched event sink.
type Queue struct {
	sink    Sink
	logger  *logging.Logger
	events  chan Event
	dropped atomic.Int64
	wg      sync.WaitGroup
	stop    chan struct{}
}

// New builds a Queue that flushes through sink.
func New(sink Sink, logger *logging.Logger) *Queue {
	return &Queue{
		sink:   sink,
		logger: logger,
		events: make(chan Event, queueCapacity),
		stop:   make(chan struct{}),
	}
}

// Start launches the background flusher. Call Stop to drain and stop it.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.run(ctx)
}

// Stop signals the flusher to drain remaining events and exit, then waits
// for it to finish.
func (q *Queue) Stop() {
	close(q.stop)
	q.wg.Wait()
}

// Track enqueues an event without blocking the caller. If the queue is
// full, the event is dropped and a counter is incremented; the dropped
// count is logged once at shutdown.
func (q *Queue) Track(event Event) {
	select {
	case q.events <- event:
	default:
		q.dropped.Add(1)
	}
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()

	batch := make([]Event, 0, maxBatchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		toFlush := batch
		batch = make([]Event, 0, maxBatchSize)
		if err := q.sink.Flush(ctx, toFlush); err != nil {
			q.logger.WarnContext(ctx, "analytics_flush_failed", "error", err.Error())
		}
	}

	for {
		select {
		case e := <-q.events:
			batch = append(batch, e)
			if len(batch) >= maxBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-q.stop:
			for {
				select {
				case e := <-q.events:
					batch = append(batch, e)
					if len(batch) >= maxBatchSize {
						flush()
					}
				default:
					flush()
					if dropped := q.dropped.Load(); dropped > 0 {
						q.logger.WarnContext(ctx, "analytics_events_dropped", "dropped", dropped)
					}
					return
				}
			}
		}
	}
}
