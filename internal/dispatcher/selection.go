package dispatcher

import (
	"context"
	"math/rand/v2"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/internal/errors"
)

// selection is the index level result computed under the set lock
type selection struct {
	alg        domain.Algorithm
	primary    int
	alternates []int
	branches   []int
	trackLoad  bool
}

// Select picks a destination of req.Group with req.Algorithm. The failover
// list is returned in Alternates when failover is enabled, parallel mode
// returns the additional branches in Branches.
func (d *Dispatcher) Select(ctx context.Context, req domain.SelectRequest) (*domain.Selection, error) {
	sel, err := d.selectDestination(ctx, req)
	d.metrics.ObserveSelection(req.Group, req.Algorithm, err)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"group":     req.Group,
			"algorithm": req.Algorithm.String(),
		}).WithError(err).Debug("selection failed")
	}
	return sel, err
}

func (d *Dispatcher) selectDestination(ctx context.Context, req domain.SelectRequest) (*domain.Selection, error) {
	if req.Mode == domain.UpdateDestinationURI && req.NextHop != "" && !d.opts.ForceDestination {
		return nil, errors.NewError(errors.ErrCodeAlreadyRouted, "dispatcher",
			"destination already set to "+req.NextHop)
	}

	set := d.current.Load().Find(req.Group)
	if set == nil {
		return nil, errors.NewGroupNotFoundError(req.Group)
	}
	if set.Len() == 0 {
		return nil, errors.NewNoActiveDestinationError(req.Group)
	}

	alg := req.Algorithm
	hash, roundRobin, err := d.requestHash(req)
	if err != nil {
		return nil, err
	}

	if needsCursor(alg, roundRobin) {
		set.mu.Lock()
	} else {
		set.mu.RLock()
	}
	res, err := d.pick(set, req, alg, hash, roundRobin)
	var out *domain.Selection
	if err == nil {
		out = d.buildSelection(set, req, res)
		if res.trackLoad {
			set.dests[res.primary].load++
		}
	}
	if needsCursor(alg, roundRobin) {
		set.mu.Unlock()
	} else {
		set.mu.RUnlock()
	}
	if err != nil {
		return nil, err
	}

	if res.trackLoad {
		dst := set.dests[res.primary]
		if aerr := d.loads.Add(req.CallID, dst.attrs.DUID, set.id); aerr != nil {
			d.logger.WithField("call_id", req.CallID).WithError(aerr).
				Warn("unable to update destination load, classic dispatching")
			set.mu.Lock()
			if dst.load > 0 {
				dst.load--
			}
			set.mu.Unlock()
			out.Destination.Load--
		}
	}
	return out, nil
}

// requestHash computes the hash of the request fields the algorithm needs.
// roundRobin is set when hash-auth-user has no credentials.
func (d *Dispatcher) requestHash(req domain.SelectRequest) (uint32, bool, error) {
	switch req.Algorithm {
	case domain.AlgorithmHashCallID:
		if req.CallID == "" {
			return 0, false, invalidRequest("missing call-id")
		}
		return Hash(req.CallID, ""), false, nil
	case domain.AlgorithmHashFromURI:
		return d.uriHash(req.FromURI, "from")
	case domain.AlgorithmHashToURI:
		return d.uriHash(req.ToURI, "to")
	case domain.AlgorithmHashRequestURI:
		return d.uriHash(req.RequestURI, "request")
	case domain.AlgorithmHashAuthUser:
		if req.AuthUser == "" {
			return 0, true, nil
		}
		return Hash(req.AuthUser, ""), false, nil
	case domain.AlgorithmHashValue:
		if req.HashValue == "" {
			return 0, false, invalidRequest("missing hash value")
		}
		return Hash(req.HashValue, ""), false, nil
	}
	return 0, false, nil
}

func (d *Dispatcher) uriHash(uri, which string) (uint32, bool, error) {
	if uri == "" {
		return 0, false, invalidRequest("missing " + which + " uri")
	}
	user, host, err := URIHashKeys(uri, d.opts.HashUserOnly)
	if err != nil {
		return 0, false, errors.WrapError(err, errors.ErrCodeInvalidRequest, "dispatcher",
			"cannot parse "+which+" uri")
	}
	return Hash(user, host), false, nil
}

func invalidRequest(msg string) error {
	return errors.NewError(errors.ErrCodeInvalidRequest, "dispatcher", msg)
}

func needsCursor(alg domain.Algorithm, roundRobin bool) bool {
	switch alg {
	case domain.AlgorithmRoundRobin, domain.AlgorithmWeight, domain.AlgorithmRelativeWeight,
		domain.AlgorithmCallLoad, domain.AlgorithmLatencyOptimized:
		return true
	}
	return roundRobin
}

// pick runs the algorithm and the skip rule. Callers hold the set lock, for
// writing when needsCursor is true.
func (d *Dispatcher) pick(set *Set, req domain.SelectRequest, alg domain.Algorithm, hash uint32, roundRobin bool) (selection, error) {
	nr := len(set.dests)
	res := selection{alg: alg}
	idx := 0
	var ranked []int

	switch alg {
	case domain.AlgorithmHashCallID, domain.AlgorithmHashFromURI, domain.AlgorithmHashToURI,
		domain.AlgorithmHashRequestURI, domain.AlgorithmHashValue:
		idx = int(hash % uint32(d.ringSize(nr)))
	case domain.AlgorithmRoundRobin:
		idx = set.last
		set.last = (set.last + 1) % nr
	case domain.AlgorithmHashAuthUser:
		if roundRobin {
			idx = set.last
			set.last = (set.last + 1) % nr
		} else {
			idx = int(hash % uint32(d.ringSize(nr)))
		}
	case domain.AlgorithmRandom:
		idx = rand.IntN(nr)
	case domain.AlgorithmSerial, domain.AlgorithmParallel:
		idx = 0
	case domain.AlgorithmWeight:
		idx = set.wlist[set.wlast]
		set.wlast = (set.wlast + 1) % weightSlots
	case domain.AlgorithmRelativeWeight:
		idx = set.rwlist[set.rwlast]
		set.rwlast = (set.rwlast + 1) % weightSlots
	case domain.AlgorithmCallLoad:
		// only INVITE starts a call, everything else takes the first entry
		if !strings.EqualFold(req.Method, "INVITE") {
			break
		}
		i := set.leastLoaded(d.opts.UseDefault)
		if i < 0 {
			return res, errors.NewNoActiveDestinationError(set.id)
		}
		idx = i
		if set.dests[i].attrs.DUID == "" || req.CallID == "" {
			d.logger.WithField("group", set.id).
				Warn("destination unique id or call-id missing, classic dispatching")
		} else {
			res.trackLoad = true
		}
	case domain.AlgorithmLatencyOptimized:
		idx, ranked = set.latencyOptimized(d.opts.UseDefault, d.logger)
	default:
		d.logger.WithField("algorithm", int(alg)).Warn("algorithm not implemented, using first entry")
	}

	ring := d.ringSize(nr)
	idx %= ring
	start := idx
	for set.dests[idx].flags.Skip() {
		idx = (idx + 1) % ring
		if idx == start {
			if !d.opts.UseDefault {
				return res, errors.NewNoActiveDestinationError(set.id)
			}
			idx = nr - 1
			if set.dests[idx].flags.Skip() {
				return res, errors.NewNoActiveDestinationError(set.id)
			}
			break
		}
	}
	res.primary = idx

	if alg == domain.AlgorithmRoundRobin {
		set.last = (idx + 1) % nr
	}

	switch {
	case alg == domain.AlgorithmParallel:
		for i := idx + 1; i < nr; i++ {
			if !set.dests[i].flags.Skip() {
				res.branches = append(res.branches, i)
			}
		}
	case alg == domain.AlgorithmLatencyOptimized:
		for _, i := range ranked {
			if i != idx {
				res.alternates = append(res.alternates, i)
			}
		}
		if d.opts.UseDefault && nr > 1 && idx != nr-1 {
			res.alternates = append(res.alternates, nr-1)
		}
	case d.opts.Failover:
		res.alternates = set.failoverList(idx, req.Limit, d.opts.UseDefault, res.trackLoad)
	}
	return res, nil
}

// ringSize is the number of entries the selection rotates over; with
// use_default the last entry is kept out as the last resort
func (d *Dispatcher) ringSize(nr int) int {
	if d.opts.UseDefault && nr > 1 {
		return nr - 1
	}
	return nr
}

// leastLoaded returns the first selectable destination with the lowest load
// that has not reached its maxload, or -1
func (s *Set) leastLoaded(useDefault bool) int {
	k := -1
	best := int(^uint(0) >> 1)
	n := len(s.dests)
	if useDefault && n > 1 {
		n--
	}
	for j := 0; j < n; j++ {
		d := s.dests[j]
		if d.flags.Skip() || (d.attrs.MaxLoad != 0 && d.load >= d.attrs.MaxLoad) {
			continue
		}
		if d.load < best {
			k = j
			best = d.load
		}
	}
	return k
}

// failoverList returns the alternates of primary in retry order: the entries
// after the primary, then the entries before it, then the default. limit
// counts the primary; zero means unlimited. Callers hold the set lock.
func (s *Set) failoverList(primary, limit int, useDefault, callLoad bool) []int {
	nr := len(s.dests)
	remaining := nr
	if limit > 0 {
		remaining = limit - 1
	}

	eligible := func(i int) bool {
		d := s.dests[i]
		if d.flags.Skip() || (useDefault && i == nr-1) {
			return false
		}
		return !callLoad || d.attrs.MaxLoad == 0 || d.load < d.attrs.MaxLoad
	}

	// slots are handed out default first, then downward from the primary,
	// then downward from the end; the retry order is the reverse
	withDefault := false
	if useDefault && primary != nr-1 && remaining > 0 {
		withDefault = true
		remaining--
	}
	var head []int
	for i := primary - 1; i >= 0 && remaining > 0; i-- {
		if eligible(i) {
			head = append(head, i)
			remaining--
		}
	}
	var tail []int
	for i := nr - 1; i > primary && remaining > 0; i-- {
		if eligible(i) {
			tail = append(tail, i)
			remaining--
		}
	}

	out := make([]int, 0, len(head)+len(tail)+1)
	for i := len(tail) - 1; i >= 0; i-- {
		out = append(out, tail[i])
	}
	for i := len(head) - 1; i >= 0; i-- {
		out = append(out, head[i])
	}
	if withDefault {
		out = append(out, nr-1)
	}
	return out
}

// buildSelection copies the chosen destinations. Callers hold the set lock.
func (d *Dispatcher) buildSelection(set *Set, req domain.SelectRequest, res selection) *domain.Selection {
	out := &domain.Selection{
		Group:       set.id,
		Algorithm:   res.alg,
		Index:       res.primary,
		Destination: set.dests[res.primary].info(res.primary),
	}
	if res.trackLoad {
		out.Destination.Load++
	}
	for _, i := range res.alternates {
		out.Alternates = append(out.Alternates, set.dests[i].info(i))
	}

	user := ""
	if req.Mode == domain.UpdateRequestURIHost {
		user = requestUser(req.RequestURI)
	}
	for _, i := range res.branches {
		info := set.dests[i].info(i)
		info.URI = withUser(info.URI, user)
		out.Branches = append(out.Branches, info)
	}
	return out
}
