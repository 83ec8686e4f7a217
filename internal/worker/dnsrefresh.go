package worker

import (
	"context"
	"time"

	"github.com/rs/dnscache"
)

// DNSRefresher periodically refreshes a dnscache.Resolver's cached lookups
// so the upstream client's connections follow DNS changes without a restart.
type DNSRefresher struct {
	resolver *dnscache.Resolver
	interval time.Duration
}

// NewDNSRefresher creates a DNSRefresher that refreshes resolver every
// interval.
func NewDNSRefresher(resolver *dnscache.Resolver, interval time.Duration) *DNSRefresher {
	return &DNSRefresher{resolver: resolver, interval: interval}
}

func (d *DNSRefresher) Name() string { return "dns_refresh" }

// Run refreshes the resolver on every tick until ctx is cancelled.
func (d *DNSRefresher) Run(ctx context.Context) error {
	t := time.NewTicker(d.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			d.resolver.Refresh(true)
		}
	}
}
