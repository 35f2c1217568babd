package domain

import (
	"strings"
	"time"
)

// DestinationFlags is the bitset of health and routing flags of a destination
type DestinationFlags uint32

const (
	// FlagInactive marks a destination confirmed down
	FlagInactive DestinationFlags = 1 << iota
	// FlagTrying marks a destination suspected down
	FlagTrying
	// FlagDisabled is the administrative override
	FlagDisabled
	// FlagProbing marks a destination as health-checked
	FlagProbing
	// FlagNoDNSResolve allows a destination whose host cannot be resolved at load time
	FlagNoDNSResolve
	// FlagNoProbe excludes a destination from the probing sweep
	FlagNoProbe
)

// StateFlags are the bits owned by the health state machine
const StateFlags = FlagInactive | FlagTrying | FlagDisabled | FlagProbing

// Skip reports whether a destination with these flags must not be selected
func (f DestinationFlags) Skip() bool {
	return f&(FlagInactive|FlagDisabled) != 0
}

// Has reports whether all bits of o are set
func (f DestinationFlags) Has(o DestinationFlags) bool {
	return f&o == o
}

// StateCode returns the one letter state code used by the control surface
func (f DestinationFlags) StateCode() string {
	var b strings.Builder
	switch {
	case f&FlagInactive != 0:
		b.WriteByte('I')
	case f&FlagDisabled != 0:
		b.WriteByte('D')
	case f&FlagTrying != 0:
		b.WriteByte('T')
	default:
		b.WriteByte('A')
	}
	if f&FlagProbing != 0 {
		b.WriteByte('P')
	} else {
		b.WriteByte('X')
	}
	return b.String()
}

// ParseStateCode converts a state code such as "ap", "ip", "d" or "t" into
// state flags. The first letter selects the state, a trailing 'p' adds Probing.
func ParseStateCode(code string) (DestinationFlags, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return 0, false
	}

	var f DestinationFlags
	switch code[0] {
	case 'a':
	case 'i':
		f = FlagInactive
	case 'd':
		f = FlagDisabled
	case 't':
		f = FlagTrying
	default:
		return 0, false
	}

	switch code[1:] {
	case "":
	case "p":
		f |= FlagProbing
	default:
		return 0, false
	}
	return f, true
}

// Attrs are the parsed attributes of a destination row
type Attrs struct {
	Body              string `json:"body,omitempty"`
	DUID              string `json:"duid,omitempty"`
	Weight            int    `json:"weight"`
	RelativeWeight    int    `json:"rweight"`
	MaxLoad           int    `json:"maxload"`
	Socket            string `json:"socket,omitempty"`
	SocketName        string `json:"sockname,omitempty"`
	PingSocket        string `json:"ping_socket,omitempty"`
	PingFrom          string `json:"ping_from,omitempty"`
	OutboundProxy     string `json:"obproxy,omitempty"`
	CongestionControl bool   `json:"cc"`
	InitialLatency    int    `json:"latency,omitempty"`
	OverloadMin       int    `json:"ocmin,omitempty"`
	OverloadMax       int    `json:"ocmax,omitempty"`
	OverloadRate      int    `json:"ocrate,omitempty"`
}

// LatencyStats is a point in time copy of a destination's latency estimator
type LatencyStats struct {
	Min      int     `json:"min"`
	Max      int     `json:"max"`
	Average  float64 `json:"avg"`
	StdDev   float64 `json:"std"`
	Estimate float64 `json:"est"`
	M2       float64 `json:"-"`
	Count    uint32  `json:"count"`
	Timeouts uint32  `json:"timeout"`
}

// Congestion returns the congestion in milliseconds, estimate above average
func (s LatencyStats) Congestion() float64 {
	if c := s.Estimate - s.Average; c > 0 {
		return c
	}
	return 0
}

// DestinationRow is one destination as loaded from a list source
type DestinationRow struct {
	Group    int              `json:"group" yaml:"group"`
	URI      string           `json:"uri" yaml:"uri"`
	Flags    DestinationFlags `json:"flags" yaml:"flags"`
	Priority int              `json:"priority" yaml:"priority"`
	Attrs    string           `json:"attrs,omitempty" yaml:"attrs"`
	Line     int              `json:"-" yaml:"-"`
}

// DestinationInfo is a copy of one destination taken under its set lock
type DestinationInfo struct {
	Group        int              `json:"group"`
	Index        int              `json:"index"`
	URI          string           `json:"uri"`
	Host         string           `json:"host"`
	Port         int              `json:"port"`
	Transport    string           `json:"transport"`
	Flags        DestinationFlags `json:"flags"`
	State        string           `json:"state"`
	Priority     int              `json:"priority"`
	Attrs        Attrs            `json:"attrs"`
	ActiveWeight int              `json:"active_weight"`
	Load         int              `json:"load"`
	MessageCount int              `json:"message_count"`
	Latency      LatencyStats     `json:"latency"`
	Address      string           `json:"address,omitempty"`
}

// DestinationEvent is emitted when a destination crosses the routable boundary
type DestinationEvent struct {
	Route     string           `json:"route"`
	Group     int              `json:"group"`
	URI       string           `json:"uri"`
	Code      int              `json:"code"`
	Reason    string           `json:"reason"`
	OldFlags  DestinationFlags `json:"old_flags"`
	Flags     DestinationFlags `json:"flags"`
	Timestamp time.Time        `json:"timestamp"`
}

// Event route names
const (
	RouteDestinationDown = "dispatcher:dst-down"
	RouteDestinationUp   = "dispatcher:dst-up"
)
