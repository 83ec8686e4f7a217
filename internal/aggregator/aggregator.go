// Package aggregator buckets stored exchange projections into hourly or
// daily time-series for the analytics read API. Bucketing is done in
// process memory (rather than a dialect-specific SQL date_trunc) so the
// same code works against any Store implementation.
package aggregator

import (
	"context"
	"sort"
	"time"

	relay "github.com/kjellberg/relayproxy/internal"
)

// ProjectionSource is the read-side dependency the aggregator consumes.
type ProjectionSource interface {
	GetStatsProjections(ctx context.Context, from, to time.Time) ([]relay.StatsProjection, error)
}

// Bucket is one time-bucketed aggregate row.
type Bucket struct {
	TimeBucket       time.Time
	RequestCount     int64
	LLMRequestCount  int64
	TotalInputTokens int64
	TotalOutputTokens int64
}

// Aggregator reads projections from a Store and groups them into buckets.
type Aggregator struct {
	source ProjectionSource
}

// New creates an Aggregator backed by source.
func New(source ProjectionSource) *Aggregator {
	return &Aggregator{source: source}
}

// Hourly returns request counts and token sums bucketed by truncate-to-hour,
// for projections with from <= timestamp < to, sorted ascending by bucket.
// Hours with zero requests are omitted (no gap-filling).
func (a *Aggregator) Hourly(ctx context.Context, from, to time.Time) ([]Bucket, error) {
	return a.aggregate(ctx, from, to, truncateHour)
}

// Daily returns the same aggregation truncated to the day.
func (a *Aggregator) Daily(ctx context.Context, from, to time.Time) ([]Bucket, error) {
	return a.aggregate(ctx, from, to, truncateDay)
}

func (a *Aggregator) aggregate(ctx context.Context, from, to time.Time, truncate func(time.Time) time.Time) ([]Bucket, error) {
	projections, err := a.source.GetStatsProjections(ctx, from, to)
	if err != nil {
		return nil, err
	}

	byBucket := make(map[time.Time]*Bucket)
	for _, p := range projections {
		key := truncate(p.Timestamp)
		b, ok := byBucket[key]
		if !ok {
			b = &Bucket{TimeBucket: key}
			byBucket[key] = b
		}
		b.RequestCount++
		if p.HasLLM {
			b.LLMRequestCount++
			b.TotalInputTokens += p.InputTokens
			b.TotalOutputTokens += p.OutputTokens
		}
	}

	out := make([]Bucket, 0, len(byBucket))
	for _, b := range byBucket {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeBucket.Before(out[j].TimeBucket) })
	return out, nil
}

func truncateHour(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
