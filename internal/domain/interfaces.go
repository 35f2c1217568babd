package domain

import (
	"context"
	"net"
	"time"
)

// ProbeTarget describes one health probe to send
type ProbeTarget struct {
	Group         int
	URI           string
	From          string
	Socket        string
	OutboundProxy string
	Method        string
}

// ProbeOutcome is the result of one probe, delivered asynchronously to the
// health state machine and the latency estimator
type ProbeOutcome struct {
	Group      int
	URI        string
	Code       int
	Reason     string
	Elapsed    time.Duration
	TimedOut   bool
	SendFailed bool
}

// Prober sends a health probe (SIP OPTIONS by default) and returns the final
// reply code. It blocks until a final reply, a timeout or a send failure.
type Prober interface {
	Probe(ctx context.Context, target ProbeTarget) (code int, reason string, err error)
}

// EventHandler receives routability transitions of destinations
type EventHandler interface {
	HandleDestinationEvent(ctx context.Context, event DestinationEvent)
}

// EventHandlerFunc adapts a function to EventHandler
type EventHandlerFunc func(ctx context.Context, event DestinationEvent)

// HandleDestinationEvent calls f
func (f EventHandlerFunc) HandleDestinationEvent(ctx context.Context, event DestinationEvent) {
	f(ctx, event)
}

// Resolver turns a host name into IP addresses
type Resolver interface {
	LookupIP(ctx context.Context, host string) ([]net.IP, error)
}

// Metrics collects dispatcher and registrar statistics
type Metrics interface {
	ObserveSelection(group int, alg Algorithm, err error)
	ObserveProbe(outcome ProbeOutcome)
	ObserveTransition(group int, route string)
	ObserveReload(loaded, skipped int, err error)
	ObserveRegistrar(op string, err error)
	SetContacts(domain string, n int)
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) ObserveSelection(int, Algorithm, error) {}
func (NopMetrics) ObserveProbe(ProbeOutcome)              {}
func (NopMetrics) ObserveTransition(int, string)          {}
func (NopMetrics) ObserveReload(int, int, error)          {}
func (NopMetrics) ObserveRegistrar(string, error)         {}
func (NopMetrics) SetContacts(string, int)                {}
