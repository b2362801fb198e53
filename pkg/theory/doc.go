// Package theory caches the results of an expensive cosmological solver
// across parameter points.
//
// Likelihood components declare, independently of each other, which derived
// quantities they need and at what precision. The engine merges those
// declarations, translates them into a minimal set of solver extraction
// calls, and keeps a small pool of recently evaluated parameter points so
// that a sampler revisiting a point does not pay for the solve twice.
//
// # Life cycle
//
//	eng, err := theory.New(solver, theory.Options{})
//	eng.Declare(theory.QuantityHubble, theory.BackgroundRequirement{Redshifts: []float64{0.1, 0.5}})
//	eng.Declare(theory.QuantityCMB, theory.CMBRequirement{MaxL: 2500, Spectra: []theory.CMBSpectrum{theory.SpectrumTT}})
//	eng.Build()
//
//	ev, err := eng.Evaluate(map[string]float64{"H0": 67.4, "ombh2": 0.0224}, true)
//	hz, err := eng.Hubble([]float64{0.5}, theory.UnitKmPerSecPerMpc)
//
// Declarations may be added after a Build, but the engine must be rebuilt
// before the next Evaluate; a rebuild widens the required quantity set, so a
// previously cached point recomputes at least the new quantities.
//
// # Caching
//
// Results are held in a fixed pool of slots (default 3) keyed by the exact
// input parameter mapping, with least-recently-used eviction. Accessors such
// as [Engine.Hubble] or [Engine.CMBPower] always read the most recently
// evaluated point and return defensive copies.
//
// # Error handling
//
// Structural problems (conflicting requirements, misconfiguration,
// unresolvable derived parameters) are always fatal. Physical-domain
// failures - the solver rejecting a parameter point or failing mid-compute -
// are recoverable: under the default lenient mode Evaluate reports
// [StatusZeroResult] instead of returning an error, so an outer sampling
// loop can assign zero likelihood and move on. [Options.Strict] makes them
// fatal with full input context.
//
// The package computes no physics itself; all numbers come from the
// [Solver] implementation the engine is constructed with.
package theory
