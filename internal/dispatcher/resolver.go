package dispatcher

import (
	"context"
	"net"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/mir00r/sip-dispatcher/internal/domain"
)

const defaultDNSCacheTTL = 60 * time.Second

type netResolver struct{}

func (netResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	return net.DefaultResolver.LookupIP(ctx, "ip", host)
}

// CachingResolver keeps successful lookups for a TTL. IP literals are never
// looked up.
type CachingResolver struct {
	base  domain.Resolver
	cache *gocache.Cache
}

// NewCachingResolver wraps base (the system resolver when nil) with a cache
func NewCachingResolver(base domain.Resolver, ttl time.Duration) *CachingResolver {
	if base == nil {
		base = netResolver{}
	}
	if ttl <= 0 {
		ttl = defaultDNSCacheTTL
	}
	return &CachingResolver{
		base:  base,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// LookupIP resolves host
func (r *CachingResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	if v, ok := r.cache.Get(host); ok {
		return v.([]net.IP), nil
	}
	ips, err := r.base.LookupIP(ctx, host)
	if err != nil {
		return nil, err
	}
	r.cache.Set(host, ips, gocache.DefaultExpiration)
	return ips, nil
}

// Flush drops every cached lookup
func (r *CachingResolver) Flush() {
	r.cache.Flush()
}

// resolve looks up the host of dest according to the DNS mode
func (d *Dispatcher) resolve(ctx context.Context, uri destinationURI, flags domain.DestinationFlags) ([]net.IP, error) {
	if ip := net.ParseIP(uri.host); ip != nil {
		return []net.IP{ip}, nil
	}
	if d.opts.DNSMode == domain.DNSResolveNone {
		return nil, nil
	}
	ips, err := d.resolver.LookupIP(ctx, uri.host)
	if err != nil {
		if flags&domain.FlagNoDNSResolve != 0 {
			return nil, nil
		}
		return nil, err
	}
	return ips, nil
}

// RefreshAddresses resolves every destination host again. Lookups run
// without any set lock held.
func (d *Dispatcher) RefreshAddresses(ctx context.Context) int {
	if c, ok := d.resolver.(*CachingResolver); ok {
		c.Flush()
	}

	refreshed := 0
	for _, set := range d.current.Load().Sets() {
		for _, dest := range set.dests {
			if net.ParseIP(dest.uri.host) != nil {
				continue
			}
			ips, err := d.resolver.LookupIP(ctx, dest.uri.host)
			if err != nil {
				d.logger.WithField("host", dest.uri.host).WithError(err).Warn("cannot refresh destination address")
				continue
			}
			set.mu.Lock()
			dest.addrs = ips
			set.mu.Unlock()
			refreshed++
		}
	}
	return refreshed
}
