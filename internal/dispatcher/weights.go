package dispatcher

import "math/rand/v2"

const weightSlots = 100

// shuffleSlots mixes a slot table so that consecutive calls do not hit the
// same destination for its whole share
func shuffleSlots(slots *[weightSlots]int) {
	for j := 0; j < weightSlots; j++ {
		k := j + rand.IntN(weightSlots-j)
		slots[j], slots[k] = slots[k], slots[j]
	}
}

// initWeights fills the weight table. Each destination gets as many slots as
// its weight; weights past 100 slots are ignored and unused slots go to the
// last destination. Nothing is built when the first destination has no weight.
// Callers hold the set lock.
func (s *Set) initWeights() {
	if len(s.dests) == 0 || s.dests[0].attrs.Weight == 0 {
		return
	}

	t := 0
fill:
	for j, d := range s.dests {
		for k := 0; k < d.attrs.Weight; k++ {
			if t >= weightSlots {
				break fill
			}
			s.wlist[t] = j
			t++
		}
	}
	for ; t < weightSlots; t++ {
		s.wlist[t] = len(s.dests) - 1
	}
	shuffleSlots(&s.wlist)
}

// initRelativeWeights fills the relative weight table from the destinations
// that are currently selectable. Each gets rweight*100/sum slots, truncated;
// the remainder goes to the last inserted index. The table is left untouched
// when no selectable destination has a relative weight. Callers hold the set
// lock for writing.
func (s *Set) initRelativeWeights() {
	if len(s.dests) == 0 {
		return
	}

	sum := 0
	for _, d := range s.dests {
		if d.flags.Skip() {
			continue
		}
		sum += d.effectiveRelativeWeight()
	}
	if sum == 0 {
		return
	}

	t := 0
	for j, d := range s.dests {
		if d.flags.Skip() {
			continue
		}
		slice := d.effectiveRelativeWeight() * weightSlots / sum
		for k := 0; k < slice && t < weightSlots; k++ {
			s.rwlist[t] = j
			t++
		}
	}

	last := len(s.dests) - 1
	if t > 0 {
		last = s.rwlist[t-1]
	}
	for j := t; j < weightSlots; j++ {
		s.rwlist[j] = last
	}
	shuffleSlots(&s.rwlist)
}

// usesRelativeWeights reports whether a state flip must rebuild the relative
// weight table
func (s *Set) usesRelativeWeights() bool {
	for _, d := range s.dests {
		if d.attrs.RelativeWeight > 0 || d.attrs.CongestionControl {
			return true
		}
	}
	return false
}
