package theory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/boltzcache/pkg/theory"
	"github.com/calvinalkan/boltzcache/pkg/theory/theorytest"
)

func point(h0 float64) map[string]float64 {
	return map[string]float64{"H0": h0, "ombh2": 0.0224}
}

// hubbleEngine returns a built engine with one background requirement.
func hubbleEngine(t *testing.T, solver *theorytest.Solver, opts theory.Options) *theory.Engine {
	t.Helper()

	eng := newEngine(t, solver, opts)

	require.NoError(t, eng.Declare(theory.QuantityHubble, theory.BackgroundRequirement{
		Redshifts: []float64{0, 0.5, 1.0},
	}))
	require.NoError(t, eng.Build())

	return eng
}

func Test_Evaluate_Returns_Hit_When_Point_Revisited(t *testing.T) {
	t.Parallel()

	solver := &theorytest.Solver{}
	eng := hubbleEngine(t, solver, theory.Options{})

	for i, want := range []theory.Status{
		theory.StatusComputed, // A
		theory.StatusComputed, // B
		theory.StatusHit,      // A again
	} {
		h0 := []float64{70, 71, 70}[i]

		ev, err := eng.Evaluate(point(h0), false)
		require.NoError(t, err)
		require.Equal(t, want, ev.Status, "evaluation %d", i)
	}

	// A and B each solved exactly once.
	require.Equal(t, 2, solver.BackgroundCalls)
}

func Test_Evaluate_Evicts_LRU_When_Fourth_Point_Arrives(t *testing.T) {
	t.Parallel()

	solver := &theorytest.Solver{}
	eng := hubbleEngine(t, solver, theory.Options{})

	for _, h0 := range []float64{70, 71, 72, 73} {
		ev, err := eng.Evaluate(point(h0), false)
		require.NoError(t, err)
		require.Equal(t, theory.StatusComputed, ev.Status)
	}

	// 70 was least recently used and must have been evicted.
	ev, err := eng.Evaluate(point(70), false)
	require.NoError(t, err)
	require.Equal(t, theory.StatusComputed, ev.Status)

	// 73 is still cached.
	ev, err = eng.Evaluate(point(73), false)
	require.NoError(t, err)
	require.Equal(t, theory.StatusHit, ev.Status)
}

func Test_Evaluate_Recomputes_When_New_Requirement_Added_After_Hit(t *testing.T) {
	t.Parallel()

	solver := &theorytest.Solver{}
	eng := hubbleEngine(t, solver, theory.Options{})

	ev, err := eng.Evaluate(point(70), false)
	require.NoError(t, err)
	require.Equal(t, theory.StatusComputed, ev.Status)

	require.NoError(t, eng.Declare(theory.QuantityAngularDiameterDistance, theory.BackgroundRequirement{
		Redshifts: []float64{0.5},
	}))
	require.NoError(t, eng.Build())

	// Same parameters, but the required quantity set changed: must miss.
	ev, err = eng.Evaluate(point(70), false)
	require.NoError(t, err)
	require.Equal(t, theory.StatusComputed, ev.Status)
	require.Equal(t, 2, solver.BackgroundCalls)
}

func Test_Evaluate_Recomputes_When_Existing_Quantity_Grid_Widened(t *testing.T) {
	t.Parallel()

	solver := &theorytest.Solver{}
	eng := hubbleEngine(t, solver, theory.Options{})

	ev, err := eng.Evaluate(point(70), false)
	require.NoError(t, err)
	require.Equal(t, theory.StatusComputed, ev.Status)

	// Widen the already-declared quantity's domain. The collector key is
	// unchanged, so only the frozen grid distinguishes stale results.
	require.NoError(t, eng.Declare(theory.QuantityHubble, theory.BackgroundRequirement{
		Redshifts: []float64{2.0},
	}))
	require.NoError(t, eng.Build())

	ev, err = eng.Evaluate(point(70), false)
	require.NoError(t, err)
	require.Equal(t, theory.StatusComputed, ev.Status)
	require.Equal(t, 2, solver.BackgroundCalls)

	// The stored array covers the widened grid.
	values, err := eng.Hubble([]float64{2.0}, theory.UnitInverseMpc)
	require.NoError(t, err)
	require.InDelta(t, 70.0/theory.SpeedOfLightKmS*3, values[0], 1e-15)
}

func Test_Evaluate_Keeps_Cached_Points_When_Rebuild_Changes_Nothing(t *testing.T) {
	t.Parallel()

	solver := &theorytest.Solver{}
	eng := hubbleEngine(t, solver, theory.Options{})

	_, err := eng.Evaluate(point(70), false)
	require.NoError(t, err)

	// Redeclaring the identical requirement and rebuilding must not throw
	// the cached computation away.
	require.NoError(t, eng.Declare(theory.QuantityHubble, theory.BackgroundRequirement{
		Redshifts: []float64{0, 0.5, 1.0},
	}))
	require.NoError(t, eng.Build())

	ev, err := eng.Evaluate(point(70), false)
	require.NoError(t, err)
	require.Equal(t, theory.StatusHit, ev.Status)
	require.Equal(t, 1, solver.BackgroundCalls)
}

func Test_Evaluate_Recomputes_Every_Time_When_Cache_Disabled(t *testing.T) {
	t.Parallel()

	solver := &theorytest.Solver{}
	eng := hubbleEngine(t, solver, theory.Options{NoCache: true})

	for i := 0; i < 3; i++ {
		ev, err := eng.Evaluate(point(70), false)
		require.NoError(t, err)
		require.Equal(t, theory.StatusComputed, ev.Status)
	}

	require.Equal(t, 3, solver.BackgroundCalls)
}

func Test_Evaluate_Builds_Base_Template_Once_Across_Samples(t *testing.T) {
	t.Parallel()

	solver := &theorytest.Solver{}
	eng := hubbleEngine(t, solver, theory.Options{})

	for _, h0 := range []float64{70, 71, 72} {
		_, err := eng.Evaluate(point(h0), false)
		require.NoError(t, err)
	}

	// The configured parameter object is built once and cloned afterwards.
	require.Equal(t, 1, solver.NewParamsCalls)
}

func Test_Evaluate_Rebuilds_Base_Template_When_Requirements_Rebuilt(t *testing.T) {
	t.Parallel()

	solver := &theorytest.Solver{}
	eng := hubbleEngine(t, solver, theory.Options{})

	_, err := eng.Evaluate(point(70), false)
	require.NoError(t, err)

	require.NoError(t, eng.Declare(theory.QuantityGrowthRate, theory.GrowthRateRequirement{
		Redshifts: []float64{0.5},
	}))
	require.NoError(t, eng.Build())

	_, err = eng.Evaluate(point(70), false)
	require.NoError(t, err)

	require.Equal(t, 2, solver.NewParamsCalls)
}

func Test_Evaluate_Returns_ZeroResult_When_Point_Out_Of_Range_Leniently(t *testing.T) {
	t.Parallel()

	solver := &theorytest.Solver{
		RangeCheck: func(values map[string]float64) error {
			if values["H0"] > 100 {
				return &theory.RangeError{Param: "H0", Value: values["H0"]}
			}

			return nil
		},
	}
	eng := hubbleEngine(t, solver, theory.Options{})

	// A good point first so the template exists and the pool has state.
	_, err := eng.Evaluate(point(70), false)
	require.NoError(t, err)

	ev, err := eng.Evaluate(point(250), false)
	require.NoError(t, err)
	require.Equal(t, theory.StatusZeroResult, ev.Status)

	// The cache stays consistent: no partially written slot, and the good
	// point is still served from cache.
	ev, err = eng.Evaluate(point(70), false)
	require.NoError(t, err)
	require.Equal(t, theory.StatusHit, ev.Status)

	ev, err = eng.Evaluate(point(250), false)
	require.NoError(t, err)
	require.Equal(t, theory.StatusZeroResult, ev.Status)
}

func Test_Evaluate_Returns_Error_When_Point_Out_Of_Range_Strictly(t *testing.T) {
	t.Parallel()

	solver := &theorytest.Solver{
		RangeCheck: func(values map[string]float64) error {
			if values["H0"] > 100 {
				return &theory.RangeError{Param: "H0", Value: values["H0"]}
			}

			return nil
		},
	}
	eng := hubbleEngine(t, solver, theory.Options{Strict: true})

	_, err := eng.Evaluate(point(250), false)

	require.ErrorIs(t, err, theory.ErrOutOfRange)

	// The fatal error carries the offending inputs.
	require.ErrorContains(t, err, "250")
}

func Test_Evaluate_Treats_Compute_Failure_Like_Range_Failure(t *testing.T) {
	t.Parallel()

	fail := false
	solver := &theorytest.Solver{
		ComputeCheck: func(map[string]float64) error {
			if fail {
				return &theory.ComputeError{Reason: "instability"}
			}

			return nil
		},
	}

	lenient := hubbleEngine(t, solver, theory.Options{})

	fail = true

	ev, err := lenient.Evaluate(point(70), false)
	require.NoError(t, err)
	require.Equal(t, theory.StatusZeroResult, ev.Status)

	strictSolver := &theorytest.Solver{
		ComputeCheck: func(map[string]float64) error {
			return &theory.ComputeError{Reason: "instability"}
		},
	}
	strict := hubbleEngine(t, strictSolver, theory.Options{Strict: true})

	_, err = strict.Evaluate(point(70), false)
	require.ErrorIs(t, err, theory.ErrComputeFailed)
}

func Test_Evaluate_Returns_Error_When_Param_Unknown_Even_Leniently(t *testing.T) {
	t.Parallel()

	solver := &theorytest.Solver{KnownParams: []string{"H0"}}
	eng := hubbleEngine(t, solver, theory.Options{})

	_, err := eng.Evaluate(point(70), false)

	require.ErrorIs(t, err, theory.ErrUnknownParam)
	require.ErrorContains(t, err, "ombh2")
}

func Test_Evaluate_Returns_Error_When_Exclusive_Params_Supplied_Together(t *testing.T) {
	t.Parallel()

	eng := hubbleEngine(t, nil, theory.Options{})

	_, err := eng.Evaluate(map[string]float64{"H0": 70, "thetastar": 0.0104}, false)

	require.ErrorIs(t, err, theory.ErrConfiguration)
	require.ErrorContains(t, err, "thetastar")
}

func Test_Evaluate_Returns_Error_When_Not_Built(t *testing.T) {
	t.Parallel()

	eng := newEngine(t, nil, theory.Options{})

	_, err := eng.Evaluate(point(70), false)

	require.ErrorIs(t, err, theory.ErrNotBuilt)
}

func Test_Evaluate_Resolves_Derived_Through_Ordered_Strategies(t *testing.T) {
	t.Parallel()

	solver := &theorytest.Solver{
		ExtraDerived: map[string]float64{"age": 13.8},
		Attrs:        map[string]float64{"tau_reio": 0.054},
		Getters:      map[string]float64{"theta_star": 0.0104},
	}
	eng := newEngine(t, solver, theory.Options{})

	require.NoError(t, eng.Declare("sigma8", theory.DerivedRequirement{}))
	require.NoError(t, eng.Declare("age", theory.DerivedRequirement{}))
	require.NoError(t, eng.Declare("tau_reio", theory.DerivedRequirement{}))
	require.NoError(t, eng.Declare("theta_star", theory.DerivedRequirement{}))
	require.NoError(t, eng.Build())

	ev, err := eng.Evaluate(map[string]float64{"H0": 70, "amp": 1}, true)
	require.NoError(t, err)

	// sigma8 resolves through its special-case getter: last element of the
	// solver-order array, i.e. today's value.
	assert.InDelta(t, 0.81, ev.Derived["sigma8"], 1e-12)
	assert.InDelta(t, 13.8, ev.Derived["age"], 1e-12)
	assert.InDelta(t, 0.054, ev.Derived["tau_reio"], 1e-12)
	assert.InDelta(t, 0.0104, ev.Derived["theta_star"], 1e-12)
}

func Test_Evaluate_Prefers_Derived_Table_Over_Attribute_Lookup(t *testing.T) {
	t.Parallel()

	solver := &theorytest.Solver{
		ExtraDerived: map[string]float64{"age": 13.8},
		Attrs:        map[string]float64{"age": -1},
	}
	eng := hubbleEngine(t, solver, theory.Options{})

	// Rebuild with the derived declaration included.
	require.NoError(t, eng.Declare("age", theory.DerivedRequirement{}))
	require.NoError(t, eng.Build())

	ev, err := eng.Evaluate(point(70), true)
	require.NoError(t, err)
	require.InDelta(t, 13.8, ev.Derived["age"], 1e-12)
}

func Test_Evaluate_Returns_Error_When_Derived_Unresolvable(t *testing.T) {
	t.Parallel()

	eng := newEngine(t, nil, theory.Options{})

	require.NoError(t, eng.Declare(theory.QuantityHubble, theory.BackgroundRequirement{Redshifts: []float64{0}}))
	require.NoError(t, eng.Declare("nonexistent_thing", theory.DerivedRequirement{}))
	require.NoError(t, eng.Build())

	_, err := eng.Evaluate(point(70), true)

	require.ErrorIs(t, err, theory.ErrUnresolvedDerived)
	require.ErrorContains(t, err, "nonexistent_thing")

	// The failure left no partially written slot behind.
	_, err = eng.Hubble([]float64{0}, theory.UnitInverseMpc)
	require.ErrorIs(t, err, theory.ErrNoComputation)
}

func Test_Evaluate_Translates_Params_Through_Alias_Table(t *testing.T) {
	t.Parallel()

	solver := &theorytest.Solver{KnownParams: []string{"H0"}}
	eng := newEngine(t, solver, theory.Options{
		Aliases: map[string]string{"hubble_constant": "H0"},
	})

	require.NoError(t, eng.Declare(theory.QuantityHubble, theory.BackgroundRequirement{Redshifts: []float64{0}}))
	require.NoError(t, eng.Build())

	_, err := eng.Evaluate(map[string]float64{"hubble_constant": 70}, false)
	require.NoError(t, err)

	// The caller-facing name still resolves via Param.
	value, err := eng.Param("hubble_constant")
	require.NoError(t, err)
	require.InDelta(t, 70, value, 1e-12)
}

func Test_Evaluate_Passes_Descending_Grid_To_Solver(t *testing.T) {
	t.Parallel()

	solver := &theorytest.Solver{}
	eng := newEngine(t, solver, theory.Options{})

	require.NoError(t, eng.Declare(theory.QuantityGrowthRate, theory.GrowthRateRequirement{
		Redshifts: []float64{0.5, 0, 1.0},
	}))
	require.NoError(t, eng.Build())

	_, err := eng.Evaluate(point(70), false)
	require.NoError(t, err)

	require.Equal(t, []float64{1.0, 0.5, 0}, solver.LastConfig.Redshifts)
}
