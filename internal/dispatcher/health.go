package dispatcher

import (
	"context"
	"strings"

	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"

	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/internal/errors"
)

const (
	routeUp   = "up"
	routeDown = "down"
)

// StateCause is the reply that led to a state update
type StateCause struct {
	Code   int
	Reason string
}

type pendingEvent struct {
	dest  *Destination
	event domain.DestinationEvent
}

// newRoute builds the routability machine of one destination. Entering a
// state delivers the destination event to the configured handler.
func (d *Dispatcher) newRoute(dest *Destination) *fsm.FSM {
	initial := routeUp
	if dest.flags.Skip() {
		initial = routeDown
	}
	return fsm.NewFSM(
		initial,
		fsm.Events{
			{Name: domain.RouteDestinationDown, Src: []string{routeUp}, Dst: routeDown},
			{Name: domain.RouteDestinationUp, Src: []string{routeDown}, Dst: routeUp},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				if len(e.Args) == 0 {
					return
				}
				ev, ok := e.Args[0].(domain.DestinationEvent)
				if !ok {
					return
				}
				d.metrics.ObserveTransition(ev.Group, ev.Route)
				d.logger.WithFields(logrus.Fields{
					"group":  ev.Group,
					"uri":    ev.URI,
					"route":  ev.Route,
					"code":   ev.Code,
					"reason": ev.Reason,
				}).Info("destination state changed")
				if d.events != nil {
					d.events.HandleDestinationEvent(ctx, ev)
				}
			},
		},
	)
}

func (d *Dispatcher) fireEvent(ctx context.Context, p pendingEvent) {
	if p.dest.route == nil {
		return
	}
	if err := p.dest.route.Event(ctx, p.event.Route, p.event); err != nil {
		d.logger.WithField("route", p.event.Route).WithError(err).Debug("routability event ignored")
	}
}

// UpdateState applies a state outcome to the destination uri of group. state
// carries Trying for a negative outcome and nothing (or Probing) for a
// positive one; Disabled overrides everything. Trying is debounced by the
// probing threshold, recovery from Inactive by the inactive threshold.
func (d *Dispatcher) UpdateState(ctx context.Context, group int, uri string, state domain.DestinationFlags, cause StateCause) error {
	set := d.current.Load().Find(group)
	if set == nil {
		return errors.NewGroupNotFoundError(group)
	}

	set.mu.Lock()
	i := set.lookup(uri)
	if i < 0 {
		set.mu.Unlock()
		return errors.NewDestinationNotFoundError(group, uri)
	}
	p, ok := d.updateStateLocked(set, set.dests[i], state, cause)
	set.mu.Unlock()

	if ok {
		d.fireEvent(ctx, p)
	}
	return nil
}

// MarkDestination feeds a transaction failure or success of the destination
// uri into the state machine
func (d *Dispatcher) MarkDestination(ctx context.Context, group int, uri string, state domain.DestinationFlags) error {
	return d.UpdateState(ctx, group, uri, state, StateCause{})
}

func (d *Dispatcher) updateStateLocked(set *Set, dest *Destination, state domain.DestinationFlags, cause StateCause) (pendingEvent, bool) {
	old := dest.flags
	initial := state
	dest.flags &^= domain.StateFlags

	if state&domain.FlagTrying != 0 && old&domain.FlagInactive != 0 {
		state &^= domain.FlagTrying
		state |= domain.FlagInactive
	}

	if state&domain.FlagDisabled != 0 {
		dest.flags |= domain.FlagDisabled
	} else {
		dest.flags |= state
	}

	switch {
	case state&domain.FlagTrying != 0:
		dest.messageCount++
		if dest.messageCount >= d.opts.ProbingThreshold {
			dest.flags &^= domain.FlagTrying
			dest.flags |= domain.FlagInactive
			dest.messageCount = 0
		}
	case initial&domain.FlagTrying == 0 && old&domain.FlagInactive != 0:
		dest.messageCount++
		if dest.messageCount < d.opts.InactiveThreshold {
			dest.flags |= domain.FlagInactive
		} else {
			dest.messageCount = 0
		}
	default:
		dest.messageCount = 0
	}

	if old.Skip() != dest.flags.Skip() && set.usesRelativeWeights() {
		set.initRelativeWeights()
	}

	return d.transition(set, dest, old, cause)
}

// transition returns the event to fire when dest crossed the routable
// boundary. Callers hold the set lock.
func (d *Dispatcher) transition(set *Set, dest *Destination, old domain.DestinationFlags, cause StateCause) (pendingEvent, bool) {
	if old.Skip() == dest.flags.Skip() {
		return pendingEvent{}, false
	}
	route := domain.RouteDestinationUp
	if dest.flags.Skip() {
		route = domain.RouteDestinationDown
	}
	return pendingEvent{
		dest: dest,
		event: domain.DestinationEvent{
			Route:     route,
			Group:     set.id,
			URI:       dest.uri.raw,
			Code:      cause.Code,
			Reason:    cause.Reason,
			OldFlags:  old,
			Flags:     dest.flags,
			Timestamp: d.now(),
		},
	}, true
}

// SetState is the administrative state change: the state bits of the
// destination matching uri or duid are replaced by the given state code.
// No debouncing applies and no event route is fired.
func (d *Dispatcher) SetState(group int, key, code string) error {
	state, ok := domain.ParseStateCode(code)
	if !ok {
		return errors.NewError(errors.ErrCodeInvalidRequest, "dispatcher",
			"unknown state code "+code)
	}
	set := d.current.Load().Find(group)
	if set == nil {
		return errors.NewGroupNotFoundError(group)
	}

	set.mu.Lock()
	i := set.lookup(key)
	if i < 0 {
		set.mu.Unlock()
		return errors.NewDestinationNotFoundError(group, key)
	}
	dest := set.dests[i]
	old := dest.flags
	dest.flags = (dest.flags &^ domain.StateFlags) | state
	dest.messageCount = 0
	if old.Skip() != dest.flags.Skip() && set.usesRelativeWeights() {
		set.initRelativeWeights()
	}
	if dest.route != nil {
		if dest.flags.Skip() {
			dest.route.SetState(routeDown)
		} else {
			dest.route.SetState(routeUp)
		}
	}
	set.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"group": group,
		"uri":   dest.uri.raw,
		"state": strings.ToUpper(code),
	}).Info("destination state set")
	return nil
}

// ApplyProbeOutcome feeds one probe result into the latency estimator and the
// state machine
func (d *Dispatcher) ApplyProbeOutcome(ctx context.Context, o domain.ProbeOutcome) {
	d.metrics.ObserveProbe(o)

	set := d.current.Load().Find(o.Group)
	if set == nil {
		return
	}

	code := o.Code
	if o.TimedOut {
		code = timeoutStatusCode
	}
	positive := !o.SendFailed && !o.TimedOut &&
		((code >= 200 && code < 300) || d.opts.ReplyCodes.Accepts(code))

	set.mu.Lock()
	i := set.lookup(o.URI)
	if i < 0 {
		set.mu.Unlock()
		return
	}
	dest := set.dests[i]

	if d.opts.LatencyStats && !o.SendFailed {
		dest.recordLatency(code, o.Elapsed, d.opts.LatencyAlpha)
		if dest.attrs.CongestionControl {
			set.applyCongestionControl()
		}
	}

	if dest.flags&domain.FlagDisabled != 0 {
		set.mu.Unlock()
		return
	}

	var state domain.DestinationFlags
	if positive {
		switch d.opts.ProbingMode {
		case domain.ProbeAll:
			state = domain.FlagProbing
		case domain.ProbeOnlyFlagged:
			state = dest.flags & domain.FlagProbing
		}
	} else {
		state = domain.FlagTrying
		if d.opts.ProbingMode != domain.ProbeNone {
			state |= domain.FlagProbing
		}
	}

	reason := o.Reason
	if o.SendFailed {
		reason = "probe send failed"
	} else if o.TimedOut && reason == "" {
		reason = "timeout"
	}
	p, fire := d.updateStateLocked(set, dest, state, StateCause{Code: code, Reason: reason})
	set.mu.Unlock()

	if fire {
		d.fireEvent(ctx, p)
	}
}
