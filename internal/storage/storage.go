// Package storage defines the persistence interface consumed by the
// recorder and the aggregator.
package storage

import (
	"context"
	"time"

	relay "github.com/kjellberg/relayproxy/internal"
)

// Store is the narrow persistence interface the rest of the system depends
// on. Implementations own their ORM/driver details; callers never see them.
type Store interface {
	// Add inserts the Exchange and, if exchange.TokenUsage is set, its
	// child TokenUsage row atomically: either both rows appear or neither
	// does. Returns relay.ErrPersist on failure.
	Add(ctx context.Context, exchange *relay.Exchange) error

	// GetStatsProjections returns every Exchange whose timestamp satisfies
	// from <= timestamp < to, projected for aggregation. Ordering is
	// unspecified; callers must sort.
	GetStatsProjections(ctx context.Context, from, to time.Time) ([]relay.StatsProjection, error)

	// Ping verifies connectivity, for readiness checks.
	Ping(ctx context.Context) error

	Close() error
}
