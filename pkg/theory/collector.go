package theory

import (
	"fmt"
	"slices"
)

// extractKind identifies one solver extraction entry point.
type extractKind int

const (
	extractCMBPower extractKind = iota
	extractHubble
	extractAngularDiameterDistance
	extractComovingRadialDistance
	extractGrowthRate
	extractMatterPower
	extractSourcePower
	extractRaw
)

// CollectorKey identifies one registered extraction, combining the quantity
// name with its distinguishing variant fields.
type CollectorKey struct {
	Quantity  Quantity
	NonLinear bool
	Pair      VarPair
}

// Collector is a deferred descriptor of one extraction call to run against a
// solver result: the entry point plus its frozen arguments. Collectors are
// built once per requirement set and evaluated only when a computation
// actually runs.
type Collector struct {
	kind      extractKind
	redshifts []float64 // ascending; index-lookup order
	spectra   []CMBSpectrum
	rawEll    bool
	nonLinear bool
	pair      VarPair
}

// NonLinearMode selects which solver outputs get non-linear corrections.
type NonLinearMode int

// Non-linear correction modes, combining lensing and matter power.
const (
	NonLinearNone NonLinearMode = iota
	NonLinearLens
	NonLinearPk
	NonLinearBoth
)

func (m NonLinearMode) String() string {
	switch m {
	case NonLinearNone:
		return "none"
	case NonLinearLens:
		return "lens"
	case NonLinearPk:
		return "pk"
	case NonLinearBoth:
		return "both"
	default:
		return fmt.Sprintf("NonLinearMode(%d)", int(m))
	}
}

// SolverConfig is the immutable global configuration assembled from the
// accumulated requirements and applied to every solver invocation. Numeric
// domain requirements from all callers are folded in with the same
// max/union discipline used for requirement merging.
type SolverConfig struct {
	// MaxL is the overall multipole ceiling.
	MaxL int

	// KMax is the overall wavenumber ceiling for matter power, 1/Mpc.
	KMax float64

	// Redshifts is the global perturbation grid, sorted strictly
	// descending per solver convention. The ascending twin used for index
	// lookup is re-derivable (see [Engine.perturbationGrid]).
	Redshifts []float64

	WantCMB      bool
	WantCl2D     bool
	WantCls      bool
	WantTransfer bool

	NonLinear NonLinearMode

	// Perturbations selects the full compute path over background-only.
	Perturbations bool

	// Limber enables the Limber approximation for source windows.
	Limber bool

	// Sources holds the source windows in declaration order; term-label
	// parsing in [Engine.SourcePower] depends on this ordering.
	Sources []SourceWindow

	// Extras are fixed solver arguments that do not vary per sample.
	Extras map[string]float64
}

// Config parameter names owned by the registry. A sampled input colliding
// with one of these is an unconditional configuration error: the quantity's
// configuration would have to overwrite a free parameter.
var configOwnedParams = []string{"lmax", "kmax", "redshifts"}

// Build finalizes the accumulated requirements into the collector set and
// the global solver configuration. It must be called after all declarations
// and before any evaluation; it may be called again after further
// declarations, which widens the required quantity set and forces cached
// points to recompute at least the new quantities. A rebuild that changes
// the arguments of an already-declared quantity discards all cached
// results.
func (e *Engine) Build() error {
	cfg := SolverConfig{Extras: map[string]float64{}}

	// Extra args may carry the same numeric ceilings the requirements do;
	// fold them with the same max policy and keep the rest as fixed
	// per-invocation arguments.
	for name, value := range e.opts.Extras {
		switch name {
		case "lmax":
			cfg.MaxL = max(cfg.MaxL, int(value))
		case "kmax":
			cfg.KMax = max(cfg.KMax, value)
		default:
			cfg.Extras[name] = value
		}
	}

	if err := e.checkSampledCollisions(); err != nil {
		return err
	}

	collectors := make(map[CollectorKey]Collector)
	e.derivedNames = nil

	var perturbGrid []float64 // ascending; quantities indexed on the global grid

	for _, q := range e.reqOrder {
		switch req := e.reqs[q].(type) {
		case CMBRequirement:
			cfg.MaxL = max(cfg.MaxL, req.MaxL)
			cfg.WantCMB = true
			cfg.WantCls = true
			cfg.Perturbations = true

			collectors[CollectorKey{Quantity: q}] = Collector{
				kind:    extractCMBPower,
				spectra: slices.Clone(req.Spectra),
				rawEll:  true,
			}

		case BackgroundRequirement:
			collectors[CollectorKey{Quantity: q}] = Collector{
				kind:      backgroundKind(q),
				redshifts: slices.Clone(req.Redshifts),
			}

		case GrowthRateRequirement:
			perturbGrid = unionFloats(perturbGrid, req.Redshifts)
			cfg.Perturbations = true
			cfg.WantTransfer = true

			collectors[CollectorKey{Quantity: q}] = Collector{kind: extractGrowthRate}

		case MatterPowerRequirement:
			perturbGrid = unionFloats(perturbGrid, req.Redshifts)
			cfg.KMax = max(cfg.KMax, req.KMax)
			cfg.Perturbations = true
			cfg.WantTransfer = true

			for _, pair := range req.Pairs {
				key := CollectorKey{Quantity: q, NonLinear: req.NonLinear, Pair: pair}
				collectors[key] = Collector{
					kind:      extractMatterPower,
					nonLinear: req.NonLinear,
					pair:      pair,
				}
			}

		case SourceRequirement:
			cfg.MaxL = max(cfg.MaxL, req.MaxL)
			cfg.WantCl2D = true
			cfg.WantCls = true
			cfg.Perturbations = true
			cfg.Limber = req.Limber
			cfg.Sources = slices.Clone(req.Sources)

			collectors[CollectorKey{Quantity: q}] = Collector{kind: extractSourcePower}

		case RawResultRequirement:
			collectors[CollectorKey{Quantity: q}] = Collector{kind: extractRaw}

		case DerivedRequirement:
			name := e.translate(string(q))
			if !slices.Contains(e.derivedNames, name) {
				e.derivedNames = append(e.derivedNames, name)
			}

			if name == "sigma8" {
				cfg.WantTransfer = true
				cfg.Perturbations = true
			}
		}
	}

	cfg.NonLinear = nonLinearMode(e.reqs)

	// Solver convention: the perturbation grid is passed strictly
	// descending; index lookups use the ascending twin.
	cfg.Redshifts = descending(perturbGrid)

	// A rebuild that widens an existing quantity's domain leaves the
	// collector keys unchanged, so completeness checks alone cannot catch
	// it: stored arrays would be shorter than the new grids expect.
	if e.built && e.rebuildInvalidates(collectors, cfg) {
		e.pool.reset()
	}

	e.collectors = collectors
	e.collectorOrder = sortedKeys(collectors)
	e.cfg = cfg
	e.built = true
	e.dirty = false

	// The base parameter template embeds the previous configuration;
	// invalidate it so the next evaluation rebuilds it.
	e.baseParams = nil

	e.log.Debug("requirements built",
		"collectors", len(collectors),
		"max_l", cfg.MaxL,
		"k_max", cfg.KMax,
		"grid_size", len(cfg.Redshifts),
		"perturbations", cfg.Perturbations)

	return nil
}

// rebuildInvalidates reports whether cached results are stale under the
// rebuilt configuration: an existing collector's frozen arguments changed,
// or a global ceiling or grid grew. Newly added collector keys alone do not
// invalidate; the completeness check forces a recompute for those.
func (e *Engine) rebuildInvalidates(collectors map[CollectorKey]Collector, cfg SolverConfig) bool {
	if cfg.MaxL != e.cfg.MaxL || cfg.KMax != e.cfg.KMax {
		return true
	}

	if !slices.Equal(cfg.Redshifts, e.cfg.Redshifts) || !slices.Equal(cfg.Sources, e.cfg.Sources) {
		return true
	}

	for key, old := range e.collectors {
		c, ok := collectors[key]
		if !ok || !collectorEqual(old, c) {
			return true
		}
	}

	return false
}

func collectorEqual(a, b Collector) bool {
	return a.kind == b.kind &&
		a.rawEll == b.rawEll &&
		a.nonLinear == b.nonLinear &&
		a.pair == b.pair &&
		slices.Equal(a.redshifts, b.redshifts) &&
		slices.Equal(a.spectra, b.spectra)
}

// checkSampledCollisions rejects sampled input parameters that are
// simultaneously fixed solver configuration.
func (e *Engine) checkSampledCollisions() error {
	var clashes []string

	for _, name := range e.opts.SampledParams {
		translated := e.translate(name)

		_, inExtras := e.opts.Extras[name]
		_, inExtrasTranslated := e.opts.Extras[translated]

		if inExtras || inExtrasTranslated ||
			slices.Contains(configOwnedParams, translated) {
			clashes = append(clashes, name)
		}
	}

	if len(clashes) > 0 {
		return &ConfigError{
			Reason: "sampled parameters are fixed solver configuration",
			Params: clashes,
		}
	}

	return nil
}

func backgroundKind(q Quantity) extractKind {
	switch q {
	case QuantityHubble:
		return extractHubble
	case QuantityAngularDiameterDistance:
		return extractAngularDiameterDistance
	case QuantityComovingRadialDistance:
		return extractComovingRadialDistance
	default:
		panic(fmt.Sprintf("theory: %q is not a background quantity", q))
	}
}

// nonLinearMode combines the lensing and matter-power non-linear flags.
// CMB lensing always gets non-linear corrections when spectra are wanted.
func nonLinearMode(reqs map[Quantity]Requirement) NonLinearMode {
	var lens, pk bool

	if _, ok := reqs[QuantityCMB]; ok {
		lens = true
	}

	if req, ok := reqs[QuantitySourceCl].(SourceRequirement); ok && req.NonLinear {
		lens = true
	}

	if req, ok := reqs[QuantityMatterPower].(MatterPowerRequirement); ok && req.NonLinear {
		pk = true
	}

	switch {
	case lens && pk:
		return NonLinearBoth
	case lens:
		return NonLinearLens
	case pk:
		return NonLinearPk
	default:
		return NonLinearNone
	}
}

// sortedKeys returns collector keys in a deterministic execution order.
func sortedKeys(collectors map[CollectorKey]Collector) []CollectorKey {
	keys := make([]CollectorKey, 0, len(collectors))
	for key := range collectors {
		keys = append(keys, key)
	}

	slices.SortFunc(keys, func(a, b CollectorKey) int {
		if a.Quantity != b.Quantity {
			if a.Quantity < b.Quantity {
				return -1
			}

			return 1
		}

		if a.NonLinear != b.NonLinear {
			if !a.NonLinear {
				return -1
			}

			return 1
		}

		if a.Pair.X != b.Pair.X {
			if a.Pair.X < b.Pair.X {
				return -1
			}

			return 1
		}

		if a.Pair.Y < b.Pair.Y {
			return -1
		}

		if a.Pair.Y > b.Pair.Y {
			return 1
		}

		return 0
	})

	return keys
}

func descending(ascending []float64) []float64 {
	out := slices.Clone(ascending)
	slices.Reverse(out)

	return out
}

// perturbationGrid returns the ascending twin of the configured descending
// grid, used for index lookup by grid-indexed quantities.
func (e *Engine) perturbationGrid() []float64 {
	return descending(e.cfg.Redshifts)
}
