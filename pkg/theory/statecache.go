package theory

import "maps"

// payload is the stored output of one collector. Exactly one field is set,
// keyed by the collector kind that produced it.
type payload struct {
	grid   []float64
	cmb    *CMBPowerData
	matter *MatterPowerData
	source map[string][]float64
	raw    Result
}

// interpKey identifies one memoized power spectrum interpolator.
type interpKey struct {
	pair       VarPair
	nonLinear  bool
	extrapKMax float64
}

// stateSlot holds one parameter point's full computed state.
type stateSlot struct {
	// params is the exact input mapping that produced this slot; nil means
	// the slot is uninitialized.
	params map[string]float64

	results map[CollectorKey]payload

	// derived holds the declared derived scalars; derivedExtra holds every
	// further scalar the solver reported, reachable only through
	// [Engine.Param] and never part of the evaluation output.
	derived      map[string]float64
	derivedExtra map[string]float64

	interps map[interpKey]*PkInterpolator

	// recency orders slots least- to most-recently used; higher is more
	// recent. Ranks are renormalized to 1..len(pool) on every touch.
	recency int
}

// slotPool is a bounded pool of computation slots with LRU eviction.
//
// The pool owns all slots exclusively; the computation driver is the only
// writer and accessors defensive-copy anything mutable before returning it,
// since slots are overwritten on eviction.
type slotPool struct {
	slots []stateSlot
}

func newSlotPool(n int) *slotPool {
	return &slotPool{slots: make([]stateSlot, n)}
}

// find returns the index of the slot whose stored parameters exactly equal
// the query, or -1. Equality is value equality over the full mapping.
func (p *slotPool) find(params map[string]float64) int {
	for i := range p.slots {
		if p.slots[i].params != nil && maps.Equal(p.slots[i].params, params) {
			return i
		}
	}

	return -1
}

// has reports whether slot i already holds a computed result for key.
func (p *slotPool) has(i int, key CollectorKey) bool {
	_, ok := p.slots[i].results[key]

	return ok
}

// acquire selects a slot for writing and stores the new parameter mapping.
// If a slot already holds these parameters it is reused so that no two live
// slots ever share a parameter set; otherwise the slot with the lowest
// recency is evicted (ties broken by lowest index). Previous results are
// cleared either way.
func (p *slotPool) acquire(params map[string]float64) int {
	i := p.find(params)

	if i < 0 {
		i = 0
		for j := 1; j < len(p.slots); j++ {
			if p.slots[j].recency < p.slots[i].recency {
				i = j
			}
		}
	}

	p.slots[i] = stateSlot{
		params:       maps.Clone(params),
		results:      make(map[CollectorKey]payload),
		derived:      make(map[string]float64),
		derivedExtra: make(map[string]float64),
		interps:      make(map[interpKey]*PkInterpolator),
		recency:      p.slots[i].recency,
	}

	return i
}

// clear resets slot i to uninitialized. Used when an evaluation fails so
// that no partially written slot survives.
func (p *slotPool) clear(i int) {
	p.slots[i] = stateSlot{}
}

// reset clears every slot. Used when a rebuild changes what stored results
// mean, so no stale computation can be served against the new
// configuration.
func (p *slotPool) reset() {
	for i := range p.slots {
		p.slots[i] = stateSlot{}
	}
}

// touch promotes slot i to most recently used and renormalizes all
// recencies to ranks 1..N (ordered by previous recency, ties by index) so
// the scale stays bounded. Exactly one slot holds the highest rank
// afterwards.
func (p *slotPool) touch(i int) {
	maxRecency := 0
	for j := range p.slots {
		maxRecency = max(maxRecency, p.slots[j].recency)
	}

	p.slots[i].recency = maxRecency + 1

	order := make([]int, len(p.slots))
	for j := range order {
		order[j] = j
	}

	// Stable rank reassignment: sort by (recency, index).
	for a := 1; a < len(order); a++ {
		for b := a; b > 0; b-- {
			x, y := order[b-1], order[b]
			if p.slots[x].recency > p.slots[y].recency {
				order[b-1], order[b] = y, x
			}
		}
	}

	for rank, j := range order {
		p.slots[j].recency = rank + 1
	}
}

// current returns the index of the most recently used slot holding a live
// computation, or -1 if nothing has been computed yet.
func (p *slotPool) current() int {
	best := -1

	for i := range p.slots {
		if p.slots[i].params == nil {
			continue
		}

		if best < 0 || p.slots[i].recency > p.slots[best].recency {
			best = i
		}
	}

	return best
}
