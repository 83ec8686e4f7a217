// Package recorder persists captured exchanges and their parsed token
// usage without delaying the forwarder's response path.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	relay "github.com/kjellberg/relayproxy/internal"
	"github.com/kjellberg/relayproxy/internal/telemetry"
	"github.com/kjellberg/relayproxy/internal/tokenusage"
)

// writeTimeout bounds a single background write so a stuck storage layer
// can't leak goroutines indefinitely during shutdown drain.
const writeTimeout = 30 * time.Second

// Store is the persistence dependency the recorder writes through.
type Store interface {
	Add(ctx context.Context, exchange *relay.Exchange) error
}

// Recorder accepts fully materialized Exchanges, invokes the token-usage
// parser when the exchange is an LLM call, and writes through to Store.
// Record is fire-and-forget: each call dispatches onto a fresh background
// goroutine that owns the write for its own duration; writes may proceed
// concurrently and Storage is responsible for serializing as needed.
type Recorder struct {
	store   Store
	wg      sync.WaitGroup
	metrics *telemetry.Metrics // optional; nil-checked before every use
}

// New creates a Recorder backed by store.
func New(store Store) *Recorder {
	return &Recorder{store: store}
}

// SetMetrics attaches a Metrics collector.
func (r *Recorder) SetMetrics(metrics *telemetry.Metrics) {
	r.metrics = metrics
}

// Record enqueues exchange for background persistence and returns
// immediately. Any error during the write is logged at warning level and
// never surfaces to the caller.
func (r *Recorder) Record(exchange *relay.Exchange) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.RecordCore(ctx, exchange); err != nil {
			if r.metrics != nil {
				r.metrics.RecorderFailures.Inc()
			}
			slog.LogAttrs(ctx, slog.LevelWarn, "recorder write failed",
				slog.String("method", exchange.Method),
				slog.String("path", exchange.Path),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// RecordCore performs the work of Record synchronously: it is exported
// only so tests can await completion instead of racing the background
// goroutine Record spawns.
func (r *Recorder) RecordCore(ctx context.Context, exchange *relay.Exchange) error {
	if tokenusage.IsAnthropicMessagesCall(exchange.Path, exchange.Method) {
		streaming := tokenusage.IsStreamingContentType(exchange.ResponseHeaders.Get("Content-Type"))
		usage := tokenusage.Parse(exchange.ResponseBody, streaming)
		if usage != nil {
			usage.Timestamp = exchange.Timestamp
			exchange.TokenUsage = usage
			if r.metrics != nil {
				r.metrics.TokensRecorded.WithLabelValues("input").Add(float64(usage.InputTokens))
				r.metrics.TokensRecorded.WithLabelValues("output").Add(float64(usage.OutputTokens))
				r.metrics.TokensRecorded.WithLabelValues("cache_read").Add(float64(usage.CacheReadTokens))
				r.metrics.TokensRecorded.WithLabelValues("cache_creation").Add(float64(usage.CacheCreationTokens))
			}
		} else {
			slog.LogAttrs(ctx, slog.LevelWarn, "llm call produced no parseable token usage",
				slog.String("method", exchange.Method),
				slog.String("path", exchange.Path),
			)
		}
	}

	return r.store.Add(ctx, exchange)
}

// Wait blocks until all in-flight Record goroutines have completed. Used
// during graceful shutdown so the process doesn't exit mid-write.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
