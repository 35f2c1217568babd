package dispatcher

import (
	"net"
	"strconv"

	"github.com/looplab/fsm"

	"github.com/mir00r/sip-dispatcher/internal/domain"
)

// Destination is one upstream target of a set. The URI, priority and attrs
// never change once the set is published; every other field is guarded by
// the owning Set's mutex.
type Destination struct {
	group    int
	uri      destinationURI
	priority int
	attrs    domain.Attrs

	flags        domain.DestinationFlags
	messageCount int
	load         int
	activeWeight int
	latency      domain.LatencyStats
	addrs        []net.IP

	// route tracks the routable view (up/down) and fires destination events
	route *fsm.FSM
}

func newDestination(group int, uri destinationURI, flags domain.DestinationFlags, priority int, attrs domain.Attrs) *Destination {
	d := &Destination{
		group:        group,
		uri:          uri,
		priority:     priority,
		attrs:        attrs,
		flags:        flags,
		activeWeight: attrs.Weight,
	}
	if attrs.InitialLatency > 0 {
		l := attrs.InitialLatency
		d.latency = domain.LatencyStats{
			Min:      l,
			Max:      l,
			Average:  float64(l),
			Estimate: float64(l),
			Count:    1,
		}
	}
	return d
}

// URI returns the destination URI
func (d *Destination) URI() string {
	return d.uri.raw
}

// Group returns the id of the owning set
func (d *Destination) Group() int {
	return d.group
}

// effectiveRelativeWeight is the relative weight used by the relative weight
// table; congestion controlled destinations use their active weight
func (d *Destination) effectiveRelativeWeight() int {
	if d.attrs.CongestionControl {
		return d.activeWeight
	}
	return d.attrs.RelativeWeight
}

// address returns the first resolved address as host:port, or "" when the
// destination was never resolved. Callers hold the set lock.
func (d *Destination) address() string {
	if len(d.addrs) == 0 {
		return ""
	}
	port := d.uri.port
	if port == 0 {
		port = 5060
		if d.uri.secure {
			port = 5061
		}
	}
	return net.JoinHostPort(d.addrs[0].String(), strconv.Itoa(port))
}

// info copies the destination. Callers hold the set lock.
func (d *Destination) info(index int) domain.DestinationInfo {
	return domain.DestinationInfo{
		Group:        d.group,
		Index:        index,
		URI:          d.uri.raw,
		Host:         d.uri.host,
		Port:         d.uri.port,
		Transport:    d.uri.transport,
		Flags:        d.flags,
		State:        d.flags.StateCode(),
		Priority:     d.priority,
		Attrs:        d.attrs,
		ActiveWeight: d.activeWeight,
		Load:         d.load,
		MessageCount: d.messageCount,
		Latency:      d.latency,
		Address:      d.address(),
	}
}
