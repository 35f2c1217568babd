package domain

import (
	"fmt"
	"strings"
)

// Algorithm identifies a destination selection algorithm
type Algorithm int

const (
	// AlgorithmHashCallID hashes the Call-ID
	AlgorithmHashCallID Algorithm = iota
	// AlgorithmHashFromURI hashes the From URI
	AlgorithmHashFromURI
	// AlgorithmHashToURI hashes the To URI
	AlgorithmHashToURI
	// AlgorithmHashRequestURI hashes the Request-URI
	AlgorithmHashRequestURI
	// AlgorithmRoundRobin cycles through the set
	AlgorithmRoundRobin
	// AlgorithmHashAuthUser hashes the authentication username, round robin without one
	AlgorithmHashAuthUser
	// AlgorithmRandom picks a uniform random index
	AlgorithmRandom
	// AlgorithmHashValue hashes an arbitrary caller supplied value
	AlgorithmHashValue
	// AlgorithmSerial always starts with the first entry
	AlgorithmSerial
	// AlgorithmWeight consumes the 100 slot weight table
	AlgorithmWeight
	// AlgorithmCallLoad picks the least loaded destination
	AlgorithmCallLoad
	// AlgorithmRelativeWeight consumes the 100 slot relative weight table
	AlgorithmRelativeWeight
	// AlgorithmParallel returns every destination as a branch
	AlgorithmParallel
	// AlgorithmLatencyOptimized is round robin ranked by latency adjusted priority
	AlgorithmLatencyOptimized
)

var algorithmNames = map[Algorithm]string{
	AlgorithmHashCallID:       "hash_callid",
	AlgorithmHashFromURI:      "hash_from_uri",
	AlgorithmHashToURI:        "hash_to_uri",
	AlgorithmHashRequestURI:   "hash_request_uri",
	AlgorithmRoundRobin:       "round_robin",
	AlgorithmHashAuthUser:     "hash_auth_user",
	AlgorithmRandom:           "random",
	AlgorithmHashValue:        "hash_value",
	AlgorithmSerial:           "serial",
	AlgorithmWeight:           "weight",
	AlgorithmCallLoad:         "call_load",
	AlgorithmRelativeWeight:   "relative_weight",
	AlgorithmParallel:         "parallel",
	AlgorithmLatencyOptimized: "latency_optimized",
}

// String returns the string representation of Algorithm
func (a Algorithm) String() string {
	if name, ok := algorithmNames[a]; ok {
		return name
	}
	return fmt.Sprintf("algorithm_%d", int(a))
}

// ParseAlgorithm accepts either the numeric id or the name
func ParseAlgorithm(s string) (Algorithm, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for alg, name := range algorithmNames {
		if name == s || fmt.Sprint(int(alg)) == s {
			return alg, nil
		}
	}
	return 0, fmt.Errorf("unknown selection algorithm %q", s)
}

// ProbingMode selects which destinations the probing sweep checks
type ProbingMode int

const (
	// ProbeNone disables probing
	ProbeNone ProbingMode = iota
	// ProbeAll probes every destination that is not disabled
	ProbeAll
	// ProbeInactiveOnly probes destinations flagged both Probing and Inactive
	ProbeInactiveOnly
	// ProbeOnlyFlagged probes destinations flagged Probing
	ProbeOnlyFlagged
)

// String returns the string representation of ProbingMode
func (m ProbingMode) String() string {
	switch m {
	case ProbeNone:
		return "none"
	case ProbeAll:
		return "all"
	case ProbeInactiveOnly:
		return "inactive-only"
	case ProbeOnlyFlagged:
		return "only-flagged"
	default:
		return "unknown"
	}
}

// ParseProbingMode converts a configured name into a ProbingMode
func ParseProbingMode(s string) (ProbingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "0":
		return ProbeNone, nil
	case "all", "1":
		return ProbeAll, nil
	case "inactive-only", "inactive_only", "2":
		return ProbeInactiveOnly, nil
	case "only-flagged", "only_flagged", "3":
		return ProbeOnlyFlagged, nil
	default:
		return ProbeNone, fmt.Errorf("unknown probing mode %q", s)
	}
}

// UpdateMode tells the caller which part of the request the selection rewrites
type UpdateMode int

const (
	// UpdateDestinationURI sets the outbound proxy (destination URI)
	UpdateDestinationURI UpdateMode = iota
	// UpdateRequestURIHost rewrites the host part of the Request-URI
	UpdateRequestURIHost
	// UpdateNone leaves the request untouched
	UpdateNone
)

// MatchMode relaxes address matching in IsFromList
type MatchMode int

const (
	// MatchStrict compares address, port and transport
	MatchStrict MatchMode = 0
	// MatchNoPort ignores the port
	MatchNoPort MatchMode = 1 << 0
	// MatchNoProto ignores the transport
	MatchNoProto MatchMode = 1 << 1
)

// DNSMode controls when destination hosts are resolved
type DNSMode int

const (
	// DNSResolveInit resolves once at load time and fails the row on error
	DNSResolveInit DNSMode = iota
	// DNSResolveAlways resolves at load time and on every address match
	DNSResolveAlways
	// DNSResolveTimer resolves at load time and refreshes on the maintenance timer
	DNSResolveTimer
	// DNSResolveNone never resolves
	DNSResolveNone
)

// ParseDNSMode converts a configured name into a DNSMode
func ParseDNSMode(s string) (DNSMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "init", "":
		return DNSResolveInit, nil
	case "always":
		return DNSResolveAlways, nil
	case "timer":
		return DNSResolveTimer, nil
	case "none":
		return DNSResolveNone, nil
	default:
		return DNSResolveInit, fmt.Errorf("unknown dns mode %q", s)
	}
}

// SelectRequest carries everything a selection algorithm may need from the
// SIP request being routed
type SelectRequest struct {
	Group     int        `json:"group"`
	Algorithm Algorithm  `json:"algorithm"`
	Limit     int        `json:"limit"`
	Mode      UpdateMode `json:"mode"`

	Method     string `json:"method,omitempty"`
	CallID     string `json:"call_id,omitempty"`
	FromURI    string `json:"from_uri,omitempty"`
	ToURI      string `json:"to_uri,omitempty"`
	RequestURI string `json:"request_uri,omitempty"`
	AuthUser   string `json:"auth_user,omitempty"`
	HashValue  string `json:"hash_value,omitempty"`

	// NextHop is the destination URI already set on the request, if any
	NextHop string `json:"next_hop,omitempty"`
}

// Selection is the outcome of a selection call. Alternates is the failover
// list in retry order, Branches holds the extra branches of parallel mode.
type Selection struct {
	Group       int               `json:"group"`
	Algorithm   Algorithm         `json:"algorithm"`
	Index       int               `json:"index"`
	Destination DestinationInfo   `json:"destination"`
	Alternates  []DestinationInfo `json:"alternates,omitempty"`
	Branches    []DestinationInfo `json:"branches,omitempty"`
}
