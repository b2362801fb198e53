package theory

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Physical constants used for unit conversion.
const (
	// SpeedOfLightKmS converts 1/Mpc Hubble rates to km/s/Mpc.
	SpeedOfLightKmS = 299792.458

	// TCMBKelvin is the CMB monopole temperature used for spectrum units.
	TCMBKelvin = 2.7255
)

// HubbleUnit selects the unit for [Engine.Hubble].
type HubbleUnit string

// Supported Hubble rate units.
const (
	UnitInverseMpc     HubbleUnit = "1/Mpc"
	UnitKmPerSecPerMpc HubbleUnit = "km/s/Mpc"
)

// CMBUnit selects the temperature unit for [Engine.CMBPower].
type CMBUnit string

// Supported CMB spectrum units.
const (
	UnitDimensionless CMBUnit = "1"
	UnitMuK2          CMBUnit = "muK2"
	UnitK2            CMBUnit = "K2"
)

// currentSlot resolves the most recently evaluated slot.
func (e *Engine) currentSlot() (*stateSlot, error) {
	if !e.built {
		return nil, ErrNotBuilt
	}

	i := e.pool.current()
	if i < 0 {
		return nil, ErrNoComputation
	}

	return &e.pool.slots[i], nil
}

func (e *Engine) resultFor(key CollectorKey) (payload, *stateSlot, error) {
	slot, err := e.currentSlot()
	if err != nil {
		return payload{}, nil, err
	}

	out, ok := slot.results[key]
	if !ok {
		return payload{}, nil, fmt.Errorf("%w: %q", ErrNotRequested, key.Quantity)
	}

	return out, slot, nil
}

// lookupZ maps each requested redshift onto its position in the ascending
// grid the solver was actually configured with. An unmatched value is an
// error naming it; there is no nearest-neighbor fallback.
func lookupZ(grid, queries []float64) ([]int, error) {
	idx := make([]int, len(queries))

	for j, z := range queries {
		i := sort.SearchFloat64s(grid, z)
		if i >= len(grid) || grid[i] != z {
			return nil, &DomainError{Value: z, Known: slices.Clone(grid)}
		}

		idx[j] = i
	}

	return idx, nil
}

// zDependent serves a z-indexed stored array at the requested subset of its
// domain. The stored array may be denser than requested.
func (e *Engine) zDependent(key CollectorKey, grid []float64, z []float64) ([]float64, error) {
	out, _, err := e.resultFor(key)
	if err != nil {
		return nil, err
	}

	idx, err := lookupZ(grid, z)
	if err != nil {
		return nil, err
	}

	values := make([]float64, len(idx))
	for j, i := range idx {
		values[j] = out.grid[i]
	}

	return values, nil
}

// Hubble returns the Hubble rate at the requested redshifts, converted to
// the requested unit.
func (e *Engine) Hubble(z []float64, unit HubbleUnit) ([]float64, error) {
	factors := map[HubbleUnit]float64{
		UnitInverseMpc:     1,
		UnitKmPerSecPerMpc: SpeedOfLightKmS,
	}

	factor, ok := factors[unit]
	if !ok {
		return nil, &UnitError{Unit: string(unit), Supported: unitNames(factors)}
	}

	key := CollectorKey{Quantity: QuantityHubble}

	values, err := e.zDependent(key, e.collectors[key].redshifts, z)
	if err != nil {
		return nil, err
	}

	for i := range values {
		values[i] *= factor
	}

	return values, nil
}

// AngularDiameterDistance returns D_A at the requested redshifts, in Mpc.
func (e *Engine) AngularDiameterDistance(z []float64) ([]float64, error) {
	key := CollectorKey{Quantity: QuantityAngularDiameterDistance}

	return e.zDependent(key, e.collectors[key].redshifts, z)
}

// ComovingRadialDistance returns D_C at the requested redshifts, in Mpc.
func (e *Engine) ComovingRadialDistance(z []float64) ([]float64, error) {
	key := CollectorKey{Quantity: QuantityComovingRadialDistance}

	return e.zDependent(key, e.collectors[key].redshifts, z)
}

// GrowthRate returns f*sigma8 at the requested redshifts. Values are
// indexed on the global perturbation grid.
func (e *Engine) GrowthRate(z []float64) ([]float64, error) {
	key := CollectorKey{Quantity: QuantityGrowthRate}

	return e.zDependent(key, e.perturbationGrid(), z)
}

// CMBPowerOptions selects units and multipole weighting for CMBPower.
type CMBPowerOptions struct {
	// Unit scales the temperature spectra. Default: [UnitDimensionless].
	Unit CMBUnit

	// EllWeight applies the l(l+1)/2pi factor to temperature and
	// polarization spectra and the corresponding combined factor to the
	// lensing potential.
	EllWeight bool
}

// CMBPower holds caller-facing angular power spectra indexed by multipole.
// PP is nil unless the lensing potential was declared.
type CMBPower struct {
	Ell []float64
	TT  []float64
	EE  []float64
	BB  []float64
	TE  []float64
	PP  []float64
}

// CMBPower returns the angular power spectra of the current point.
//
// The unit scale and optional multipole weighting apply to all non-lensing
// spectra; the lensing potential receives its combined weighting factor
// only under EllWeight, plus an unconditional 2pi normalization. Monopole
// and dipole rows are left untouched throughout.
func (e *Engine) CMBPower(opts CMBPowerOptions) (CMBPower, error) {
	if opts.Unit == "" {
		opts.Unit = UnitDimensionless
	}

	unitFactors := map[CMBUnit]float64{
		UnitDimensionless: 1,
		UnitMuK2:          TCMBKelvin * 1e6,
		UnitK2:            TCMBKelvin,
	}

	unitFactor, ok := unitFactors[opts.Unit]
	if !ok {
		return CMBPower{}, &UnitError{Unit: string(opts.Unit), Supported: cmbUnitNames(unitFactors)}
	}

	out, _, err := e.resultFor(CollectorKey{Quantity: QuantityCMB})
	if err != nil {
		return CMBPower{}, err
	}

	raw := out.cmb
	rows := len(raw.Total)

	cls := CMBPower{
		Ell: make([]float64, rows),
		TT:  make([]float64, rows),
		EE:  make([]float64, rows),
		BB:  make([]float64, rows),
		TE:  make([]float64, rows),
	}

	for l := 0; l < rows; l++ {
		cls.Ell[l] = float64(l)
		cls.TT[l] = raw.Total[l][0]
		cls.EE[l] = raw.Total[l][1]
		cls.BB[l] = raw.Total[l][2]
		cls.TE[l] = raw.Total[l][3]
	}

	for l := 2; l < rows; l++ {
		scale := unitFactor * unitFactor
		if opts.EllWeight {
			scale *= float64(l) * float64(l+1) / (2 * math.Pi)
		}

		cls.TT[l] *= scale
		cls.EE[l] *= scale
		cls.BB[l] *= scale
		cls.TE[l] *= scale
	}

	if raw.LensPotential != nil {
		cls.PP = slices.Clone(raw.LensPotential)

		// The combined weighting applies only under EllWeight; the 2pi
		// normalization applies regardless, and the unit factor never
		// touches the lensing potential.
		for l := 2; l < len(cls.PP); l++ {
			if opts.EllWeight {
				w := float64(l) * float64(l+1) / (2 * math.Pi)
				cls.PP[l] *= w * w
			}

			cls.PP[l] *= 2 * math.Pi
		}
	}

	return cls, nil
}

// MatterPower returns P(z,k) for one variable pair. The arrays may be
// bigger or denser than requested, but include all required values; k and z
// are ascending and carry no Hubble units.
func (e *Engine) MatterPower(pair VarPair, nonLinear bool) (MatterPowerData, error) {
	if pair == (VarPair{}) {
		pair = DefaultVarPair
	}

	if nonLinear && e.cfg.NonLinear != NonLinearPk && e.cfg.NonLinear != NonLinearBoth {
		return MatterPowerData{}, fmt.Errorf(
			"%w: non-linear matter power not declared in requirements", ErrNotRequested)
	}

	out, _, err := e.resultFor(CollectorKey{
		Quantity:  QuantityMatterPower,
		NonLinear: nonLinear,
		Pair:      pair,
	})
	if err != nil {
		return MatterPowerData{}, err
	}

	m := out.matter
	copied := MatterPowerData{
		K: slices.Clone(m.K),
		Z: slices.Clone(m.Z),
		P: make([][]float64, len(m.P)),
	}

	for i := range m.P {
		copied.P[i] = slices.Clone(m.P[i])
	}

	return copied, nil
}

// PkInterpolator returns a P(z,k) interpolation object for one variable
// pair, memoized per slot. extrapKMax > 0 enables log-linear extrapolation
// beyond the computed k ceiling.
func (e *Engine) PkInterpolator(pair VarPair, nonLinear bool, extrapKMax float64) (*PkInterpolator, error) {
	if pair == (VarPair{}) {
		pair = DefaultVarPair
	}

	if nonLinear && e.cfg.NonLinear != NonLinearPk && e.cfg.NonLinear != NonLinearBoth {
		return nil, fmt.Errorf(
			"%w: non-linear matter power not declared in requirements", ErrNotRequested)
	}

	out, slot, err := e.resultFor(CollectorKey{
		Quantity:  QuantityMatterPower,
		NonLinear: nonLinear,
		Pair:      pair,
	})
	if err != nil {
		return nil, err
	}

	key := interpKey{pair: pair, nonLinear: nonLinear, extrapKMax: extrapKMax}
	if interp, ok := slot.interps[key]; ok {
		return interp, nil
	}

	interp, err := newPkInterpolator(*out.matter, extrapKMax)
	if err != nil {
		return nil, err
	}

	slot.interps[key] = interp

	return interp, nil
}

// SourcePair is a caller-facing pair of source names. The literal position
// marker "P" names the lensing potential term.
type SourcePair struct {
	A string
	B string
}

// SourceCls holds named source cross-spectra indexed by multipole.
type SourceCls struct {
	Ell   []float64
	Terms map[SourcePair][]float64
}

// SourcePower returns the named source cross-spectra of the current point,
// with solver-native term labels parsed back into the caller's source names
// using declaration order.
func (e *Engine) SourcePower() (SourceCls, error) {
	out, _, err := e.resultFor(CollectorKey{Quantity: QuantitySourceCl})
	if err != nil {
		return SourceCls{}, err
	}

	cls := SourceCls{Terms: make(map[SourcePair][]float64, len(out.source))}

	for term, cl := range out.source {
		pair, parseErr := e.parseTermLabel(term)
		if parseErr != nil {
			return SourceCls{}, parseErr
		}

		cls.Terms[pair] = slices.Clone(cl)

		if cls.Ell == nil {
			cls.Ell = make([]float64, len(cl))
			for l := range cls.Ell {
				cls.Ell[l] = float64(l)
			}
		}
	}

	return cls, nil
}

// parseTermLabel maps a solver-native term label like "W1xW2" or "PxW1"
// back to declared source names.
func (e *Engine) parseTermLabel(term string) (SourcePair, error) {
	parts := strings.SplitN(term, "x", 2)
	if len(parts) != 2 {
		return SourcePair{}, fmt.Errorf("%w: malformed source term label %q", ErrConfiguration, term)
	}

	names := make([]string, 2)

	for i, part := range parts {
		if part == "P" {
			names[i] = "P"

			continue
		}

		idx, err := strconv.Atoi(strings.TrimPrefix(part, "W"))
		if err != nil || idx < 1 || idx > len(e.cfg.Sources) {
			return SourcePair{}, fmt.Errorf("%w: source term label %q has no declared window", ErrConfiguration, term)
		}

		names[i] = e.cfg.Sources[idx-1].Name
	}

	return SourcePair{A: names[0], B: names[1]}, nil
}

// RawResult returns the raw solver result object of the current point. It
// must have been declared via [RawResultRequirement].
func (e *Engine) RawResult() (Result, error) {
	out, _, err := e.resultFor(CollectorKey{Quantity: QuantityRawResult})
	if err != nil {
		return nil, err
	}

	return out.raw, nil
}

// Param returns a single scalar of the current point by name, looking
// through the input parameters first, the declared derived scalars second,
// and any further scalars the solver reported last.
func (e *Engine) Param(name string) (float64, error) {
	slot, err := e.currentSlot()
	if err != nil {
		return 0, err
	}

	translated := e.translate(name)

	if value, ok := slot.params[name]; ok {
		return value, nil
	}

	if value, ok := slot.params[translated]; ok {
		return value, nil
	}

	if value, ok := slot.derived[translated]; ok {
		return value, nil
	}

	if value, ok := slot.derivedExtra[translated]; ok {
		return value, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownParam, name)
}

// Config returns the solver configuration assembled by the last Build.
func (e *Engine) Config() (SolverConfig, error) {
	if !e.built {
		return SolverConfig{}, ErrNotBuilt
	}

	cfg := e.cfg
	cfg.Redshifts = slices.Clone(cfg.Redshifts)
	cfg.Sources = slices.Clone(cfg.Sources)
	cfg.Extras = maps.Clone(cfg.Extras)

	return cfg, nil
}

func unitNames(factors map[HubbleUnit]float64) []string {
	names := make([]string, 0, len(factors))
	for unit := range factors {
		names = append(names, string(unit))
	}

	return names
}

func cmbUnitNames(factors map[CMBUnit]float64) []string {
	names := make([]string, 0, len(factors))
	for unit := range factors {
		names = append(names, string(unit))
	}

	return names
}
