package theory

import "testing"

func poolParams(h0 float64) map[string]float64 {
	return map[string]float64{"H0": h0, "ombh2": 0.0224}
}

func Test_Find_Returns_Slot_When_Params_Equal_By_Value(t *testing.T) {
	t.Parallel()

	pool := newSlotPool(3)

	i := pool.acquire(poolParams(70))
	pool.touch(i)

	if got := pool.find(poolParams(70)); got != i {
		t.Fatalf("find = %d, want %d", got, i)
	}

	if got := pool.find(poolParams(71)); got != -1 {
		t.Fatalf("find for unseen params = %d, want -1", got)
	}
}

func Test_Acquire_Reuses_Slot_When_Params_Already_Stored(t *testing.T) {
	t.Parallel()

	pool := newSlotPool(3)

	i := pool.acquire(poolParams(70))
	pool.slots[i].results[CollectorKey{Quantity: QuantityHubble}] = payload{grid: []float64{1}}
	pool.touch(i)

	j := pool.acquire(poolParams(70))

	if j != i {
		t.Fatalf("acquire reused slot %d, want %d", j, i)
	}

	// No two live slots may share a parameter set; re-acquiring clears the
	// previous results.
	if pool.has(j, CollectorKey{Quantity: QuantityHubble}) {
		t.Fatal("stale results survived re-acquire")
	}
}

func Test_Acquire_Evicts_Lowest_Recency_When_Pool_Full(t *testing.T) {
	t.Parallel()

	pool := newSlotPool(3)

	for _, h0 := range []float64{70, 71, 72} {
		pool.touch(pool.acquire(poolParams(h0)))
	}

	// Touch 70 again so 71 becomes the least recently used.
	pool.touch(pool.find(poolParams(70)))

	evicted := pool.acquire(poolParams(73))
	pool.touch(evicted)

	if pool.find(poolParams(71)) != -1 {
		t.Fatal("expected params 71 to be evicted")
	}

	for _, h0 := range []float64{70, 72, 73} {
		if pool.find(poolParams(h0)) == -1 {
			t.Fatalf("params %v unexpectedly evicted", h0)
		}
	}
}

func Test_Touch_Keeps_Exactly_One_Slot_At_Highest_Recency(t *testing.T) {
	t.Parallel()

	pool := newSlotPool(3)

	for _, h0 := range []float64{70, 71, 72, 70, 72} {
		i := pool.find(poolParams(h0))
		if i < 0 {
			i = pool.acquire(poolParams(h0))
		}

		pool.touch(i)

		highest := 0

		for j := range pool.slots {
			if pool.slots[j].recency == len(pool.slots) {
				highest++
			}

			if pool.slots[j].recency < 1 || pool.slots[j].recency > len(pool.slots) {
				t.Fatalf("recency %d outside 1..%d after touch", pool.slots[j].recency, len(pool.slots))
			}
		}

		if highest != 1 {
			t.Fatalf("%d slots at highest recency, want exactly 1", highest)
		}

		if current := pool.current(); current != i {
			t.Fatalf("current = %d, want %d", current, i)
		}
	}
}

func Test_Current_Returns_Negative_When_Nothing_Computed(t *testing.T) {
	t.Parallel()

	pool := newSlotPool(3)

	if got := pool.current(); got != -1 {
		t.Fatalf("current = %d, want -1", got)
	}
}

func Test_Clear_Makes_Slot_Next_Eviction_Candidate(t *testing.T) {
	t.Parallel()

	pool := newSlotPool(3)

	for _, h0 := range []float64{70, 71, 72} {
		pool.touch(pool.acquire(poolParams(h0)))
	}

	cleared := pool.find(poolParams(72))
	pool.clear(cleared)

	if pool.find(poolParams(72)) != -1 {
		t.Fatal("cleared slot still findable")
	}

	if got := pool.acquire(poolParams(73)); got != cleared {
		t.Fatalf("acquire = %d, want cleared slot %d", got, cleared)
	}
}
