package theory

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
)

// DefaultSlots is the default size of the computation slot pool.
//
// Three slots fit the access pattern of Metropolis-style samplers, which
// revisit the current and proposed points and occasionally one more.
const DefaultSlots = 3

// HubbleExclusiveGroup is the default mutually exclusive parameter group: at
// most one of these may appear in a single parameter point.
var HubbleExclusiveGroup = []string{"H0", "cosmomc_theta", "thetastar"}

// Options configures an [Engine].
type Options struct {
	// Slots is the computation slot pool size. Default: [DefaultSlots].
	Slots int

	// Strict makes physical-domain failures (out-of-range points, solver
	// compute errors) fatal instead of reporting [StatusZeroResult].
	Strict bool

	// NoCache forces every evaluation to recompute.
	NoCache bool

	// SampledParams are the free input parameter names. Build rejects a
	// sampled parameter that is simultaneously fixed solver configuration.
	SampledParams []string

	// Aliases maps caller-facing parameter names to solver-native ones.
	Aliases map[string]string

	// ExclusiveGroups are sets of mutually exclusive parameter names.
	// Default: [HubbleExclusiveGroup].
	ExclusiveGroups [][]string

	// Extras are fixed solver arguments applied to every invocation. The
	// reserved names "lmax" and "kmax" fold into the global configuration
	// with max semantics.
	Extras map[string]float64

	// Logger receives debug-level progress. Default: discard.
	Logger *slog.Logger
}

// Engine accumulates requirements, drives the solver and caches its results
// per parameter point.
//
// Not safe for concurrent use: evaluations are synchronous and share the
// slot pool. Callers dispatching evaluations from multiple goroutines must
// serialize access themselves.
type Engine struct {
	solver Solver
	opts   Options
	log    *slog.Logger

	reqs     map[Quantity]Requirement
	reqOrder []Quantity

	collectors     map[CollectorKey]Collector
	collectorOrder []CollectorKey
	cfg            SolverConfig
	derivedNames   []string

	pool *slotPool

	// baseParams is the configured parameter template, built on first use
	// of a requirement set and cloned per sample afterwards.
	baseParams ParamSet

	built bool
	dirty bool
}

// New creates an engine driving the given solver.
func New(solver Solver, opts Options) (*Engine, error) {
	if solver == nil {
		return nil, fmt.Errorf("%w: solver is nil", ErrConfiguration)
	}

	if opts.Slots < 0 {
		return nil, fmt.Errorf("%w: negative slot count %d", ErrConfiguration, opts.Slots)
	}

	if opts.Slots == 0 {
		opts.Slots = DefaultSlots
	}

	if opts.ExclusiveGroups == nil {
		opts.ExclusiveGroups = [][]string{HubbleExclusiveGroup}
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Engine{
		solver: solver,
		opts:   opts,
		log:    log,
		reqs:   make(map[Quantity]Requirement),
		pool:   newSlotPool(opts.Slots),
	}, nil
}

// Status reports how an evaluation concluded.
type Status int

// Terminal evaluation states.
const (
	// StatusComputed means the point was freshly solved and cached.
	StatusComputed Status = iota

	// StatusHit means the point was served from the slot pool.
	StatusHit

	// StatusZeroResult means the solver rejected the point as physically
	// disallowed; the evaluation succeeded structurally but produced
	// nothing. Callers typically treat this as zero likelihood.
	StatusZeroResult
)

func (s Status) String() string {
	switch s {
	case StatusComputed:
		return "computed"
	case StatusHit:
		return "hit"
	case StatusZeroResult:
		return "zero-result"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Evaluation is the caller-facing outcome of one Evaluate call.
type Evaluation struct {
	Status Status

	// Derived holds the declared derived scalars, populated only when
	// Evaluate was asked for them and the point did not zero out.
	Derived map[string]float64
}

// Evaluate drives the solver for one parameter point, serving cached
// results when the point was evaluated before and every registered
// collector output is still present.
//
// Physical-domain failures return [StatusZeroResult] with a nil error
// unless [Options.Strict] is set; structural failures (unknown parameters,
// misconfiguration, unresolvable derived parameters) are always returned as
// errors, and never leave a partially written slot behind.
func (e *Engine) Evaluate(params map[string]float64, wantDerived bool) (Evaluation, error) {
	if !e.built {
		return Evaluation{}, ErrNotBuilt
	}

	if e.dirty {
		return Evaluation{}, fmt.Errorf("%w: declarations added since last build", ErrNotBuilt)
	}

	if err := e.checkExclusive(params); err != nil {
		return Evaluation{}, err
	}

	if !e.opts.NoCache {
		if i := e.pool.find(params); i >= 0 && e.slotComplete(i) {
			e.pool.touch(i)
			e.log.Debug("reusing computed results", "slot", i)

			return Evaluation{Status: StatusHit, Derived: e.derivedCopy(i, wantDerived)}, nil
		}
	}

	i := e.pool.acquire(params)
	e.log.Debug("computing", "slot", i, "params", params)

	ps, err := e.setParams(params)
	if err != nil {
		return e.failPoint(i, params, err)
	}

	var res Result

	// Derived-only requirement sets may still need a full solve (e.g.
	// sigma8 flips the perturbation flag without registering a collector).
	if len(e.collectors) > 0 || e.cfg.Perturbations {
		if e.cfg.Perturbations {
			res, err = e.solver.Compute(ps)
		} else {
			res, err = e.solver.ComputeBackground(ps)
		}

		if err != nil {
			return e.failPoint(i, params, err)
		}
	}

	for _, key := range e.collectorOrder {
		out, collectErr := e.collect(e.collectors[key], res)
		if collectErr != nil {
			return e.failPoint(i, params, collectErr)
		}

		e.pool.slots[i].results[key] = out
	}

	if err := e.extractDerived(i, ps, res); err != nil {
		e.pool.clear(i)

		return Evaluation{}, err
	}

	e.pool.touch(i)

	return Evaluation{Status: StatusComputed, Derived: e.derivedCopy(i, wantDerived)}, nil
}

// slotComplete reports whether slot i holds results for every registered
// collector. False detects points cached before a new requirement was
// declared, which must recompute.
func (e *Engine) slotComplete(i int) bool {
	for key := range e.collectors {
		if !e.pool.has(i, key) {
			return false
		}
	}

	return true
}

// setParams translates the point into a solver-native parameter object. The
// configured base template is built once per requirement set and cloned
// with per-sample overrides afterwards.
func (e *Engine) setParams(params map[string]float64) (ParamSet, error) {
	args := make(map[string]float64, len(params))
	for name, value := range params {
		args[e.translate(name)] = value
	}

	if e.baseParams == nil {
		baseArgs := maps.Clone(args)
		maps.Copy(baseArgs, e.cfg.Extras)

		base, err := e.solver.NewParams(baseArgs)
		if err != nil {
			return nil, err
		}

		if err := e.solver.ApplyConfig(base, e.cfg); err != nil {
			return nil, fmt.Errorf("%w: applying solver configuration: %w", ErrConfiguration, err)
		}

		e.baseParams = base

		return base, nil
	}

	ps := e.baseParams.Clone()
	if err := ps.Set(args); err != nil {
		return nil, err
	}

	return ps, nil
}

// collect executes one collector against the solver result.
func (e *Engine) collect(c Collector, res Result) (payload, error) {
	switch c.kind {
	case extractCMBPower:
		data, err := res.CMBPower(c.spectra, c.rawEll)
		if err != nil {
			return payload{}, err
		}

		return payload{cmb: &data}, nil

	case extractHubble:
		grid, err := res.HubbleRate(c.redshifts)

		return payload{grid: grid}, err

	case extractAngularDiameterDistance:
		grid, err := res.AngularDiameterDistance(c.redshifts)

		return payload{grid: grid}, err

	case extractComovingRadialDistance:
		grid, err := res.ComovingRadialDistance(c.redshifts)

		return payload{grid: grid}, err

	case extractGrowthRate:
		grid, err := res.GrowthRate()
		if err != nil {
			return payload{}, err
		}

		// Solver order is descending redshift; store ascending to match
		// the lookup grid.
		return payload{grid: descending(grid)}, nil

	case extractMatterPower:
		data, err := res.MatterPower(c.nonLinear, c.pair)
		if err != nil {
			return payload{}, err
		}

		return payload{matter: &data}, nil

	case extractSourcePower:
		terms, err := res.SourcePower()

		return payload{source: terms}, err

	case extractRaw:
		return payload{raw: res}, nil

	default:
		panic(fmt.Sprintf("theory: unknown collector kind %d", c.kind))
	}
}

// failPoint converts a solver failure on one point into the configured
// policy: recoverable physics failures become [StatusZeroResult] under
// lenient mode, everything else is fatal. The written slot is cleared so no
// partial state survives.
func (e *Engine) failPoint(i int, params map[string]float64, err error) (Evaluation, error) {
	e.pool.clear(i)

	recoverable := isRecoverable(err)

	if recoverable && !e.opts.Strict {
		e.log.Debug("out of bounds parameters, assigning zero result", "params", params, "err", err)

		return Evaluation{Status: StatusZeroResult}, nil
	}

	if recoverable {
		return Evaluation{}, fmt.Errorf("theory: point %v rejected: %w", params, err)
	}

	return Evaluation{}, err
}

func isRecoverable(err error) bool {
	return errors.Is(err, ErrOutOfRange) || errors.Is(err, ErrComputeFailed)
}

func (e *Engine) checkExclusive(params map[string]float64) error {
	for _, group := range e.opts.ExclusiveGroups {
		var present []string

		for _, name := range group {
			if _, ok := params[name]; ok {
				present = append(present, name)
			}
		}

		if len(present) > 1 {
			return &ConfigError{Reason: "mutually exclusive parameters supplied together", Params: present}
		}
	}

	return nil
}

func (e *Engine) translate(name string) string {
	if translated, ok := e.opts.Aliases[name]; ok {
		return translated
	}

	return name
}

func (e *Engine) derivedCopy(i int, want bool) map[string]float64 {
	if !want {
		return nil
	}

	return maps.Clone(e.pool.slots[i].derived)
}
