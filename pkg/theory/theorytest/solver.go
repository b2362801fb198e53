// Package theorytest provides a deterministic in-memory solver for testing
// code built on the theory engine.
//
// The solver computes cheap synthetic surfaces from the input parameters -
// no physics - so tests can assert exact values, and exposes fault
// injection hooks plus call counters for cache behavior assertions.
package theorytest

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/calvinalkan/boltzcache/pkg/theory"
)

// Solver is a fake [theory.Solver].
//
// The zero value is usable. All fields are optional; counters are
// incremented on every call and may be reset freely between assertions.
// Not safe for concurrent use, matching the engine's own contract.
type Solver struct {
	// KnownParams, when non-empty, restricts accepted parameter names.
	// Anything else yields a [theory.UnknownParamError].
	KnownParams []string

	// RangeCheck runs against the full parameter mapping on construction
	// and on per-sample overrides. Return a [*theory.RangeError] to
	// simulate an out-of-domain point.
	RangeCheck func(values map[string]float64) error

	// ComputeCheck runs at the start of Compute and ComputeBackground.
	// Return a [*theory.ComputeError] to simulate a mid-compute failure.
	ComputeCheck func(values map[string]float64) error

	// ExtraDerived is merged into the result's derived-parameter table.
	ExtraDerived map[string]float64

	// Attrs backs attribute-style derived lookup on the result object.
	Attrs map[string]float64

	// Getters backs getter-by-convention lookup on the parameter object.
	Getters map[string]float64

	// LastConfig records the configuration most recently applied.
	LastConfig theory.SolverConfig

	NewParamsCalls  int
	ComputeCalls    int
	BackgroundCalls int
}

// NewParams implements [theory.Solver].
func (s *Solver) NewParams(values map[string]float64) (theory.ParamSet, error) {
	s.NewParamsCalls++

	if err := s.check(values); err != nil {
		return nil, err
	}

	return &paramSet{solver: s, values: maps.Clone(values)}, nil
}

// ApplyConfig implements [theory.Solver].
func (s *Solver) ApplyConfig(params theory.ParamSet, cfg theory.SolverConfig) error {
	ps, ok := params.(*paramSet)
	if !ok {
		return fmt.Errorf("theorytest: foreign ParamSet %T", params)
	}

	ps.cfg = cfg
	s.LastConfig = cfg

	return nil
}

// ComputeBackground implements [theory.Solver].
func (s *Solver) ComputeBackground(params theory.ParamSet) (theory.Result, error) {
	s.BackgroundCalls++

	return s.compute(params, false)
}

// Compute implements [theory.Solver].
func (s *Solver) Compute(params theory.ParamSet) (theory.Result, error) {
	s.ComputeCalls++

	return s.compute(params, true)
}

func (s *Solver) compute(params theory.ParamSet, perturbations bool) (theory.Result, error) {
	ps, ok := params.(*paramSet)
	if !ok {
		return nil, fmt.Errorf("theorytest: foreign ParamSet %T", params)
	}

	if s.ComputeCheck != nil {
		if err := s.ComputeCheck(ps.values); err != nil {
			return nil, err
		}
	}

	return &result{
		solver:        s,
		values:        maps.Clone(ps.values),
		cfg:           ps.cfg,
		perturbations: perturbations,
	}, nil
}

func (s *Solver) check(values map[string]float64) error {
	if len(s.KnownParams) > 0 {
		for name := range values {
			if !slices.Contains(s.KnownParams, name) {
				return &theory.UnknownParamError{Param: name}
			}
		}
	}

	if s.RangeCheck != nil {
		return s.RangeCheck(values)
	}

	return nil
}

type paramSet struct {
	solver *Solver
	values map[string]float64
	cfg    theory.SolverConfig
}

func (p *paramSet) Clone() theory.ParamSet {
	return &paramSet{solver: p.solver, values: maps.Clone(p.values), cfg: p.cfg}
}

func (p *paramSet) Set(values map[string]float64) error {
	merged := maps.Clone(p.values)
	maps.Copy(merged, values)

	if err := p.solver.check(merged); err != nil {
		return err
	}

	p.values = merged

	return nil
}

func (p *paramSet) Derived(name string) (float64, bool) {
	value, ok := p.solver.Getters[name]

	return value, ok
}

// result computes deterministic synthetic arrays from the parameter values.
// amp scales every surface so tests can assert parameter dependence; H0
// shapes the background quantities.
type result struct {
	solver        *Solver
	values        map[string]float64
	cfg           theory.SolverConfig
	perturbations bool
}

func (r *result) param(name string, fallback float64) float64 {
	if value, ok := r.values[name]; ok {
		return value
	}

	return fallback
}

func (r *result) amp() float64 { return r.param("amp", 1) }
func (r *result) h0() float64  { return r.param("H0", 70) }

// HubbleRate returns h0/c * (1+z), in 1/Mpc.
func (r *result) HubbleRate(z []float64) ([]float64, error) {
	out := make([]float64, len(z))
	for i, zi := range z {
		out[i] = r.h0() / theory.SpeedOfLightKmS * (1 + zi)
	}

	return out, nil
}

func (r *result) AngularDiameterDistance(z []float64) ([]float64, error) {
	out := make([]float64, len(z))
	for i, zi := range z {
		out[i] = 1e4 * zi / r.h0()
	}

	return out, nil
}

func (r *result) ComovingRadialDistance(z []float64) ([]float64, error) {
	out := make([]float64, len(z))
	for i, zi := range z {
		out[i] = 1.1e4 * zi / r.h0()
	}

	return out, nil
}

// GrowthRate returns 0.8*amp/(1+z) on the configured grid, solver order.
func (r *result) GrowthRate() ([]float64, error) {
	if !r.perturbations {
		return nil, &theory.ComputeError{Reason: "growth rate needs perturbations"}
	}

	out := make([]float64, len(r.cfg.Redshifts))
	for i, z := range r.cfg.Redshifts {
		out[i] = 0.8 * r.amp() / (1 + z)
	}

	return out, nil
}

func (r *result) CMBPower(spectra []theory.CMBSpectrum, rawEll bool) (theory.CMBPowerData, error) {
	if !r.cfg.WantCMB {
		return theory.CMBPowerData{}, &theory.ComputeError{Reason: "CMB spectra not configured"}
	}

	_ = rawEll // always raw

	rows := r.cfg.MaxL + 1
	amp := r.amp()

	data := theory.CMBPowerData{Total: make([][4]float64, rows)}

	for l := 0; l < rows; l++ {
		data.Total[l] = [4]float64{
			amp / float64(l+1),
			amp / (2 * float64(l+1)),
			0,
			amp / (3 * float64(l+1)),
		}
	}

	if slices.Contains(spectra, theory.SpectrumPP) {
		data.LensPotential = make([]float64, rows)
		for l := 0; l < rows; l++ {
			data.LensPotential[l] = amp / (float64(l+1) * float64(l+1))
		}
	}

	return data, nil
}

func (r *result) MatterPower(nonLinear bool, pair theory.VarPair) (theory.MatterPowerData, error) {
	if !r.cfg.WantTransfer {
		return theory.MatterPowerData{}, &theory.ComputeError{Reason: "transfer functions not configured"}
	}

	if len(r.cfg.Redshifts) == 0 {
		return theory.MatterPowerData{}, &theory.ComputeError{Reason: "no perturbation redshifts configured"}
	}

	const kPoints = 8

	k := make([]float64, kPoints)
	for j := range k {
		k[j] = 1e-4 * math.Pow(r.cfg.KMax/1e-4, float64(j)/float64(kPoints-1))
	}

	z := slices.Clone(r.cfg.Redshifts)
	slices.Reverse(z) // ascending

	factor := r.amp()
	if nonLinear {
		factor *= 1.1
	}

	if pair != theory.DefaultVarPair {
		factor *= 0.9
	}

	p := make([][]float64, len(z))

	for i := range z {
		p[i] = make([]float64, kPoints)
		for j := range k {
			p[i][j] = factor * (1 + z[i]) / k[j]
		}
	}

	return theory.MatterPowerData{K: k, Z: z, P: p}, nil
}

func (r *result) SourcePower() (map[string][]float64, error) {
	if !r.cfg.WantCl2D {
		return nil, &theory.ComputeError{Reason: "source spectra not configured"}
	}

	rows := r.cfg.MaxL + 1
	amp := r.amp()

	series := func(scale float64) []float64 {
		out := make([]float64, rows)
		for l := range out {
			out[l] = scale * amp / float64(l+2)
		}

		return out
	}

	terms := make(map[string][]float64)

	for i := range r.cfg.Sources {
		for j := i; j < len(r.cfg.Sources); j++ {
			terms[fmt.Sprintf("W%dxW%d", i+1, j+1)] = series(float64(i+1) * float64(j+1))
		}

		terms[fmt.Sprintf("PxW%d", i+1)] = series(0.5 * float64(i+1))
	}

	terms["PxP"] = series(0.25)

	return terms, nil
}

// Sigma8 returns 0.81*amp/(1+z) on the configured grid (or z=0 when the
// grid is empty), solver order.
func (r *result) Sigma8() ([]float64, error) {
	if !r.cfg.WantTransfer {
		return nil, &theory.ComputeError{Reason: "transfer functions not configured"}
	}

	grid := r.cfg.Redshifts
	if len(grid) == 0 {
		grid = []float64{0}
	}

	out := make([]float64, len(grid))
	for i, z := range grid {
		out[i] = 0.81 * r.amp() / (1 + z)
	}

	return out, nil
}

func (r *result) DerivedTable() map[string]float64 {
	table := map[string]float64{
		"zdrag": 1059.0,
		"rdrag": 147.0 * r.amp(),
	}

	maps.Copy(table, r.solver.ExtraDerived)

	return table
}

func (r *result) Derived(name string) (float64, bool) {
	value, ok := r.solver.Attrs[name]

	return value, ok
}
