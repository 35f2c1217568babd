package dispatcher

import (
	"math"
	"sort"
	"time"

	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

const (
	// samples after which the average turns into a decaying average
	latencyCountCap = 2097152
	// samples before the estimate switches from the average to the EWMA
	latencyWarmup = 10
	// a stable destination jumps straight to the trained regime
	latencyTrainedCount = 500000
	latencyStableStdDev = 0.5
	timeoutStatusCode   = 408
)

// recordLatency feeds one probe reply into the estimator of d. A 408 only
// counts a timeout. Callers hold the set lock for writing.
func (d *Destination) recordLatency(code int, elapsed time.Duration, alpha float64) {
	st := &d.latency
	if code == timeoutStatusCode {
		if st.Timeouts < math.MaxUint32 {
			st.Timeouts++
		}
		return
	}

	latency := int(elapsed / time.Millisecond)
	x := float64(latency)

	if st.Count < latencyCountCap {
		st.Count++
	} else {
		st.M2 -= st.M2 / float64(st.Count)
	}

	if st.Count == 1 {
		st.Min = latency
		st.Max = latency
		st.Average = x
		st.Estimate = x
		st.StdDev = 0
		st.M2 = 0
		return
	}

	if latency < st.Min {
		st.Min = latency
	}
	if latency > st.Max {
		st.Max = latency
	}

	// Welford
	delta := x - st.Average
	st.Average += delta / float64(st.Count)
	st.M2 += delta * (x - st.Average)
	st.StdDev = math.Sqrt(st.M2 / float64(st.Count-1))

	if st.Count > latencyWarmup && st.StdDev < latencyStableStdDev && st.Count < latencyTrainedCount {
		st.Count = latencyTrainedCount
	}

	if st.Count < latencyWarmup {
		st.Estimate = st.Average
	} else {
		st.Estimate += (1 - alpha) * (x - st.Estimate)
	}
}

// applyCongestionControl derives the active weight of every congestion
// controlled destination from its congestion (estimate above average) and
// rebuilds the relative weight table when a weight moved. When every such
// destination is congested the weights are redistributed by inverse
// congestion so the least congested keeps the largest share. Callers hold the
// set lock for writing.
func (s *Set) applyCongestionControl() bool {
	var cc []*Destination
	congested := 0
	for _, d := range s.dests {
		if !d.attrs.CongestionControl {
			continue
		}
		cc = append(cc, d)
		if d.latency.Congestion() > 0 {
			congested++
		}
	}
	if len(cc) == 0 {
		return false
	}

	changed := false
	set := func(d *Destination, w int) {
		if w < 0 {
			w = 0
		}
		if d.activeWeight != w {
			d.activeWeight = w
			changed = true
		}
	}

	if congested == len(cc) && len(cc) > 1 {
		var inv float64
		for _, d := range cc {
			inv += 1 / d.latency.Congestion()
		}
		for _, d := range cc {
			w := int(math.Round(weightSlots * (1 / d.latency.Congestion()) / inv))
			if w < 1 {
				w = 1
			}
			set(d, w)
		}
	} else {
		for _, d := range cc {
			set(d, d.attrs.Weight-int(d.latency.Congestion()))
		}
	}

	if changed {
		s.initRelativeWeights()
	}
	return changed
}

type rankedDestination struct {
	index    int
	priority int
}

// latencyOptimized walks the ring from the round robin cursor and ranks the
// selectable destinations by priority reduced by a latency handicap. The
// primary is the first destination with the best rank; the cursor moves past
// it. Callers hold the set lock for writing.
func (s *Set) latencyOptimized(useDefault bool, log *logger.Logger) (int, []int) {
	nr := len(s.dests)
	ring := nr
	if useDefault && nr > 1 {
		ring = nr - 1
	}
	start := s.last % ring

	var ranked []rankedDestination
	best, bestPriority := -1, 0
	for z := 0; z < ring; z++ {
		j := (start + z) % ring
		d := s.dests[j]
		if d.flags.Skip() {
			continue
		}

		latency := int(d.latency.Estimate)
		if d.attrs.CongestionControl {
			latency = int(d.latency.Estimate - d.latency.Average)
		}
		rp := d.priority
		if latency > d.priority && d.priority > 0 {
			rp = d.priority - latency/d.priority
			if rp < 1 {
				rp = 1
			}
		}

		ranked = append(ranked, rankedDestination{index: j, priority: rp})
		if best < 0 || rp > bestPriority {
			best, bestPriority = j, rp
		}
	}
	if best < 0 {
		return start, nil
	}

	s.last = (best + 1) % nr
	if s.dests[s.last].flags.Skip() {
		log.WithField("group", s.id).WithField("next", s.last).
			Debug("latency optimized cursor points at a skipped destination")
	}

	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].priority > ranked[b].priority })
	out := make([]int, len(ranked))
	for i, r := range ranked {
		out[i] = r.index
	}
	return best, out
}
