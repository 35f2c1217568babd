package dispatcher

import (
	"context"
	"net"
	"strings"

	"github.com/mir00r/sip-dispatcher/internal/domain"
)

// Match is the destination an address belongs to
type Match struct {
	Group int
	URI   string
	Attrs string
}

// IsFromList reports whether ip:port/proto belongs to a destination of group,
// or of any set when group is negative. A destination without a port matches
// every port; an empty proto matches every transport.
func (d *Dispatcher) IsFromList(ctx context.Context, group int, ip net.IP, port int, proto string, mode domain.MatchMode) (Match, bool) {
	if ip == nil {
		return Match{}, false
	}
	proto = strings.ToLower(proto)

	for _, set := range d.current.Load().Sets() {
		if group >= 0 && set.id != group {
			continue
		}
		for _, dest := range set.dests {
			addrs := d.matchAddresses(ctx, set, dest)
			if !containsIP(addrs, ip) {
				continue
			}
			if mode&domain.MatchNoPort == 0 && dest.uri.port != 0 && port != 0 && dest.uri.port != port {
				continue
			}
			if mode&domain.MatchNoProto == 0 && dest.uri.transport != "" && proto != "" && dest.uri.transport != proto {
				continue
			}
			return Match{Group: set.id, URI: dest.uri.raw, Attrs: dest.attrs.Body}, true
		}
	}
	return Match{}, false
}

func (d *Dispatcher) matchAddresses(ctx context.Context, set *Set, dest *Destination) []net.IP {
	if d.opts.DNSMode == domain.DNSResolveAlways && net.ParseIP(dest.uri.host) == nil {
		if ips, err := d.resolver.LookupIP(ctx, dest.uri.host); err == nil {
			return ips
		}
	}
	set.mu.RLock()
	defer set.mu.RUnlock()
	return dest.addrs
}

func containsIP(addrs []net.IP, ip net.IP) bool {
	for _, a := range addrs {
		if a.Equal(ip) {
			return true
		}
	}
	return false
}
