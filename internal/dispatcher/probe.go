package dispatcher

import (
	"github.com/mir00r/sip-dispatcher/internal/domain"
)

// ProbeDefaults are used when a destination has no ping_* attrs
type ProbeDefaults struct {
	Method        string
	From          string
	Socket        string
	OutboundProxy string
}

// ProbeTargets returns the destinations the next sweep must probe. Nothing is
// returned while probing is inactive.
func (d *Dispatcher) ProbeTargets(def ProbeDefaults) []domain.ProbeTarget {
	if !d.PingActive() {
		return nil
	}
	if def.Method == "" {
		def.Method = "OPTIONS"
	}

	var out []domain.ProbeTarget
	for _, set := range d.current.Load().Sets() {
		set.mu.Lock()
		for _, dest := range set.dests {
			if !d.shouldProbe(dest.flags) {
				continue
			}
			out = append(out, probeTarget(set.id, dest, def))
		}
		set.mu.Unlock()
	}
	return out
}

func (d *Dispatcher) shouldProbe(f domain.DestinationFlags) bool {
	if f&(domain.FlagDisabled|domain.FlagNoProbe) != 0 {
		return false
	}
	switch d.opts.ProbingMode {
	case domain.ProbeAll:
		return true
	case domain.ProbeInactiveOnly:
		return f.Has(domain.FlagProbing | domain.FlagInactive)
	default:
		// none and only-flagged still check destinations flagged for probing
		return f&domain.FlagProbing != 0
	}
}

func probeTarget(group int, dest *Destination, def ProbeDefaults) domain.ProbeTarget {
	t := domain.ProbeTarget{
		Group:         group,
		URI:           dest.uri.raw,
		Method:        def.Method,
		From:          def.From,
		Socket:        def.Socket,
		OutboundProxy: def.OutboundProxy,
	}
	if dest.attrs.PingFrom != "" {
		t.From = dest.attrs.PingFrom
	}
	switch {
	case dest.attrs.PingSocket != "":
		t.Socket = dest.attrs.PingSocket
	case dest.attrs.Socket != "":
		t.Socket = dest.attrs.Socket
	}
	if dest.attrs.OutboundProxy != "" {
		t.OutboundProxy = dest.attrs.OutboundProxy
	}
	return t
}
