package server

import (
	"context"
	"net/http"
	"time"

	"github.com/kjellberg/relayproxy/internal/aggregator"
)

// StatsAggregator is the dependency the analytics routes read through.
type StatsAggregator interface {
	Hourly(ctx context.Context, from, to time.Time) ([]aggregator.Bucket, error)
	Daily(ctx context.Context, from, to time.Time) ([]aggregator.Bucket, error)
}

type statsBucket struct {
	TimeBucket        time.Time `json:"timeBucket"`
	RequestCount      int64     `json:"requestCount"`
	LLMRequestCount   int64     `json:"llmRequestCount"`
	TotalInputTokens  int64     `json:"totalInputTokens"`
	TotalOutputTokens int64     `json:"totalOutputTokens"`
}

func toStatsBuckets(buckets []aggregator.Bucket) []statsBucket {
	out := make([]statsBucket, len(buckets))
	for i, b := range buckets {
		out[i] = statsBucket{
			TimeBucket:        b.TimeBucket,
			RequestCount:      b.RequestCount,
			LLMRequestCount:   b.LLMRequestCount,
			TotalInputTokens:  b.TotalInputTokens,
			TotalOutputTokens: b.TotalOutputTokens,
		}
	}
	return out
}

// parseStatsRange reads the "from"/"to" query params as RFC3339 UTC
// instants, defaulting to to=now and from=to-7days when absent.
func parseStatsRange(r *http.Request) (from, to time.Time, err error) {
	to = time.Now().UTC()
	if v := r.URL.Query().Get("to"); v != "" {
		to, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return
		}
	}
	from = to.Add(-7 * 24 * time.Hour)
	if v := r.URL.Query().Get("from"); v != "" {
		from, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return
		}
	}
	return from, to, nil
}

func (s *server) handleHourlyStats(w http.ResponseWriter, r *http.Request) {
	s.handleStats(w, r, s.deps.Aggregator.Hourly)
}

func (s *server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	s.handleStats(w, r, s.deps.Aggregator.Daily)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request, query func(context.Context, time.Time, time.Time) ([]aggregator.Bucket, error)) {
	from, to, err := parseStatsRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid from/to: must be RFC3339"))
		return
	}
	buckets, err := query(r.Context(), from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to compute stats"))
		return
	}
	writeJSON(w, http.StatusOK, toStatsBuckets(buckets))
}
