package theory

import (
	"fmt"
	"slices"
	"sort"
)

// Quantity identifies a derived physical quantity a caller can require.
type Quantity string

// Supported quantities. Any other name passed to [Engine.Declare] with a
// [DerivedRequirement] payload is treated as a derived scalar parameter.
const (
	QuantityCMB                     Quantity = "cmb_cl"
	QuantityHubble                  Quantity = "hubble"
	QuantityAngularDiameterDistance Quantity = "angular_diameter_distance"
	QuantityComovingRadialDistance  Quantity = "comoving_radial_distance"
	QuantityGrowthRate              Quantity = "growth_rate"
	QuantityMatterPower             Quantity = "matter_power"
	QuantitySourceCl                Quantity = "source_cl"
	QuantityRawResult               Quantity = "raw_result"
)

// CMBSpectrum names one column of the angular power spectrum table.
type CMBSpectrum string

// Angular power spectrum columns.
const (
	SpectrumTT CMBSpectrum = "tt"
	SpectrumEE CMBSpectrum = "ee"
	SpectrumBB CMBSpectrum = "bb"
	SpectrumTE CMBSpectrum = "te"
	SpectrumPP CMBSpectrum = "pp" // lensing potential
)

// VarPair selects which transfer-variable pair a matter power spectrum is
// computed for.
type VarPair struct {
	X string
	Y string
}

// DefaultVarPair is the total-matter auto spectrum.
var DefaultVarPair = VarPair{X: "delta_tot", Y: "delta_tot"}

// SourceWindow describes one source window for named cross-spectra.
type SourceWindow struct {
	Name  string
	Kind  string // "gaussian" or "spline"
	Z     float64
	Sigma float64
}

// Requirement is a caller's declaration of a needed quantity plus its
// precision and domain parameters. Implementations are the per-quantity
// payload types; merging two requirements for the same quantity never loses
// information (numeric bounds take the max, sets take the union) and
// genuinely incompatible declarations fail with
// [ErrConflictingRequirement].
type Requirement interface {
	merge(q Quantity, other Requirement) (Requirement, error)
}

// CMBRequirement requests angular power spectra up to MaxL.
type CMBRequirement struct {
	MaxL    int
	Spectra []CMBSpectrum
}

func (r CMBRequirement) merge(q Quantity, other Requirement) (Requirement, error) {
	o, ok := other.(CMBRequirement)
	if !ok {
		return nil, &ConflictError{Quantity: q, Field: "payload type", Have: r, Want: other}
	}

	return CMBRequirement{
		MaxL:    max(r.MaxL, o.MaxL),
		Spectra: unionSpectra(r.Spectra, o.Spectra),
	}, nil
}

// BackgroundRequirement requests a background quantity (Hubble rate or a
// distance measure) at a set of redshifts.
type BackgroundRequirement struct {
	Redshifts []float64
}

func (r BackgroundRequirement) merge(q Quantity, other Requirement) (Requirement, error) {
	o, ok := other.(BackgroundRequirement)
	if !ok {
		return nil, &ConflictError{Quantity: q, Field: "payload type", Have: r, Want: other}
	}

	return BackgroundRequirement{Redshifts: unionFloats(r.Redshifts, o.Redshifts)}, nil
}

// GrowthRateRequirement requests the growth rate f*sigma8 at a set of
// redshifts. Unlike background quantities, the redshifts feed the global
// perturbation grid the solver is configured with.
type GrowthRateRequirement struct {
	Redshifts []float64
}

func (r GrowthRateRequirement) merge(q Quantity, other Requirement) (Requirement, error) {
	o, ok := other.(GrowthRateRequirement)
	if !ok {
		return nil, &ConflictError{Quantity: q, Field: "payload type", Have: r, Want: other}
	}

	return GrowthRateRequirement{Redshifts: unionFloats(r.Redshifts, o.Redshifts)}, nil
}

// MatterPowerRequirement requests the matter power spectrum P(z,k).
//
// Results are always stored without Hubble units so that requests from
// different likelihoods cannot conflict; declaring HubbleUnits or
// KHubbleUnits is therefore a conflict, not an option.
type MatterPowerRequirement struct {
	Redshifts []float64
	KMax      float64
	Pairs     []VarPair
	NonLinear bool

	// HubbleUnits and KHubbleUnits exist only to reject callers that
	// require them; they must be false.
	HubbleUnits  bool
	KHubbleUnits bool
}

func (r MatterPowerRequirement) merge(q Quantity, other Requirement) (Requirement, error) {
	o, ok := other.(MatterPowerRequirement)
	if !ok {
		return nil, &ConflictError{Quantity: q, Field: "payload type", Have: r, Want: other}
	}

	merged := MatterPowerRequirement{
		Redshifts: unionFloats(r.Redshifts, o.Redshifts),
		KMax:      max(r.KMax, o.KMax),
		Pairs:     unionPairs(r.Pairs, o.Pairs),
		NonLinear: r.NonLinear || o.NonLinear,
	}

	return merged, nil
}

func (r MatterPowerRequirement) validate(q Quantity) error {
	if r.HubbleUnits || r.KHubbleUnits {
		return &ConflictError{
			Quantity: q,
			Field:    "hubble units",
			Have:     false,
			Want:     true,
		}
	}

	if r.KMax <= 0 {
		return fmt.Errorf("%w: matter power requires KMax > 0", ErrInvalidRequirement)
	}

	return nil
}

// SourceRequirement requests named source cross-spectra.
type SourceRequirement struct {
	Sources   []SourceWindow
	MaxL      int
	NonLinear bool
	Limber    bool
}

func (r SourceRequirement) merge(q Quantity, other Requirement) (Requirement, error) {
	o, ok := other.(SourceRequirement)
	if !ok {
		return nil, &ConflictError{Quantity: q, Field: "payload type", Have: r, Want: other}
	}

	sources := slices.Clone(r.Sources)

	for _, sw := range o.Sources {
		i := slices.IndexFunc(sources, func(have SourceWindow) bool { return have.Name == sw.Name })
		if i < 0 {
			sources = append(sources, sw)

			continue
		}

		// Same source declared twice: the windows must agree exactly.
		if sources[i] != sw {
			return nil, &ConflictError{
				Quantity: q,
				Field:    "source " + sw.Name,
				Have:     sources[i],
				Want:     sw,
			}
		}
	}

	return SourceRequirement{
		Sources:   sources,
		MaxL:      max(r.MaxL, o.MaxL),
		NonLinear: r.NonLinear || o.NonLinear,
		Limber:    r.Limber || o.Limber,
	}, nil
}

// DerivedRequirement requests a derived scalar parameter by name. The
// quantity name passed to [Engine.Declare] is the parameter name.
type DerivedRequirement struct{}

func (r DerivedRequirement) merge(Quantity, Requirement) (Requirement, error) {
	return r, nil
}

// RawResultRequirement requests access to the raw solver result object via
// [Engine.RawResult].
type RawResultRequirement struct{}

func (r RawResultRequirement) merge(Quantity, Requirement) (Requirement, error) {
	return r, nil
}

// Declare records one requirement, merging it with any previous declaration
// for the same quantity. Declaring the same requirement twice has no
// additional effect. After a Declare the engine must be rebuilt via
// [Engine.Build] before the next Evaluate.
func (e *Engine) Declare(q Quantity, req Requirement) error {
	if err := checkRequirementType(q, req); err != nil {
		return err
	}

	if mp, ok := req.(MatterPowerRequirement); ok {
		if err := mp.validate(q); err != nil {
			return err
		}

		if len(mp.Pairs) == 0 {
			mp.Pairs = []VarPair{DefaultVarPair}
			req = mp
		}
	}

	existing, ok := e.reqs[q]
	if !ok {
		e.reqs[q] = normalizeRequirement(req)
		e.reqOrder = append(e.reqOrder, q)
		e.dirty = true

		return nil
	}

	merged, err := existing.merge(q, normalizeRequirement(req))
	if err != nil {
		return err
	}

	e.reqs[q] = merged
	e.dirty = true

	return nil
}

// checkRequirementType rejects payload types that do not match the declared
// quantity. Unknown quantity names are valid only as derived parameters.
func checkRequirementType(q Quantity, req Requirement) error {
	var want string

	switch q {
	case QuantityCMB:
		if _, ok := req.(CMBRequirement); ok {
			return nil
		}

		want = "CMBRequirement"
	case QuantityHubble, QuantityAngularDiameterDistance, QuantityComovingRadialDistance:
		if _, ok := req.(BackgroundRequirement); ok {
			return nil
		}

		want = "BackgroundRequirement"
	case QuantityGrowthRate:
		if _, ok := req.(GrowthRateRequirement); ok {
			return nil
		}

		want = "GrowthRateRequirement"
	case QuantityMatterPower:
		if _, ok := req.(MatterPowerRequirement); ok {
			return nil
		}

		want = "MatterPowerRequirement"
	case QuantitySourceCl:
		if _, ok := req.(SourceRequirement); ok {
			return nil
		}

		want = "SourceRequirement"
	case QuantityRawResult:
		if _, ok := req.(RawResultRequirement); ok {
			return nil
		}

		want = "RawResultRequirement"
	default:
		if _, ok := req.(DerivedRequirement); ok {
			return nil
		}

		return fmt.Errorf("%w: %q", ErrUnknownQuantity, q)
	}

	return fmt.Errorf("%w: quantity %q needs %s, got %T", ErrInvalidRequirement, q, want, req)
}

// normalizeRequirement sorts set-valued fields so that merge results and
// collector arguments are independent of declaration order.
func normalizeRequirement(req Requirement) Requirement {
	switch r := req.(type) {
	case CMBRequirement:
		r.Spectra = unionSpectra(r.Spectra, nil)

		return r
	case BackgroundRequirement:
		r.Redshifts = unionFloats(r.Redshifts, nil)

		return r
	case GrowthRateRequirement:
		r.Redshifts = unionFloats(r.Redshifts, nil)

		return r
	case MatterPowerRequirement:
		r.Redshifts = unionFloats(r.Redshifts, nil)
		r.Pairs = unionPairs(r.Pairs, nil)

		return r
	default:
		return req
	}
}

// unionFloats returns the sorted ascending union of two float sets.
func unionFloats(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)

	sort.Float64s(out)

	return slices.Compact(out)
}

func unionSpectra(a, b []CMBSpectrum) []CMBSpectrum {
	out := make([]CMBSpectrum, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)

	slices.Sort(out)

	return slices.Compact(out)
}

func unionPairs(a, b []VarPair) []VarPair {
	out := make([]VarPair, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)

	slices.SortFunc(out, func(p, q VarPair) int {
		if p.X != q.X {
			if p.X < q.X {
				return -1
			}

			return 1
		}

		if p.Y == q.Y {
			return 0
		}

		if p.Y < q.Y {
			return -1
		}

		return 1
	})

	return slices.Compact(out)
}
