package theory

import "fmt"

// Solver is the external numerical engine the cache drives.
//
// Implementations wrap a real cosmological code. The engine calls NewParams
// once per cache miss (or clones a previously built template), applies the
// global [SolverConfig] exactly once per distinct requirement set, and then
// invokes Compute or ComputeBackground depending on whether any registered
// collector needs perturbation results.
//
// Range violations must be reported as [*RangeError], mid-compute failures
// as [*ComputeError] and unrecognized parameter names as
// [*UnknownParamError]; any other error is treated as fatal.
type Solver interface {
	// NewParams builds a native parameter object from a name->value mapping.
	NewParams(values map[string]float64) (ParamSet, error)

	// ApplyConfig applies the requirement-derived global configuration to a
	// parameter object. Called once per requirement set; the configured
	// object is reused as a template for subsequent evaluations.
	ApplyConfig(params ParamSet, cfg SolverConfig) error

	// ComputeBackground runs the lighter background-only path.
	ComputeBackground(params ParamSet) (Result, error)

	// Compute runs the full perturbation-inclusive path.
	Compute(params ParamSet) (Result, error)
}

// ParamSet is a solver-native parameter object.
type ParamSet interface {
	// Clone returns an independent deep copy.
	Clone() ParamSet

	// Set overrides per-sample parameter values on a cloned template.
	Set(values map[string]float64) error

	// Derived resolves a derived parameter by naming convention on the
	// parameter object (the original's get_<name> getters). The second
	// return is false if no such getter exists.
	Derived(name string) (float64, bool)
}

// Result is a solver result object for one parameter point.
//
// The extraction methods correspond one-to-one to collector kinds; each may
// return arrays larger or denser than requested, as long as the requested
// domain values are included.
type Result interface {
	// HubbleRate returns H at the given redshifts, in 1/Mpc.
	HubbleRate(z []float64) ([]float64, error)

	// AngularDiameterDistance returns D_A at the given redshifts, in Mpc.
	AngularDiameterDistance(z []float64) ([]float64, error)

	// ComovingRadialDistance returns D_C at the given redshifts, in Mpc.
	ComovingRadialDistance(z []float64) ([]float64, error)

	// GrowthRate returns f*sigma8 on the configured perturbation grid, in
	// the solver's native (descending redshift) order.
	GrowthRate() ([]float64, error)

	// CMBPower returns raw angular power spectra up to the configured
	// multipole ceiling. Row index is the multipole.
	CMBPower(spectra []CMBSpectrum, rawEll bool) (CMBPowerData, error)

	// MatterPower returns the matter power spectrum for one variable pair,
	// with k, z and P in ascending order and no Hubble units.
	MatterPower(nonLinear bool, pair VarPair) (MatterPowerData, error)

	// SourcePower returns named source cross-spectra keyed by the solver's
	// native term labels (window index or literal position marker).
	SourcePower() (map[string][]float64, error)

	// Sigma8 returns sigma8 on the configured grid, solver order.
	Sigma8() ([]float64, error)

	// DerivedTable returns the solver's built-in derived-parameter table.
	DerivedTable() map[string]float64

	// Derived resolves a derived parameter by attribute lookup on the
	// result object or its sub-components (power spectrum settings,
	// reionization, recombination, dark energy, ...).
	Derived(name string) (float64, bool)
}

// CMBPowerData holds raw angular power spectra as returned by the solver.
//
// Total rows are multipoles; columns are TT, EE, BB, TE in that order.
// LensPotential is present only when the lensing potential was requested;
// its single column is the deflection spectrum.
type CMBPowerData struct {
	Total         [][4]float64
	LensPotential []float64
}

// MatterPowerData holds P(z,k) for one variable pair.
//
// K and Z are ascending; P[i][j] is the value at Z[i], K[j].
type MatterPowerData struct {
	K []float64
	Z []float64
	P [][]float64
}

// RangeError is returned by solvers for physically invalid parameter
// combinations. Recoverable under lenient mode.
type RangeError struct {
	Param  string
	Value  float64
	Reason string
}

func (e *RangeError) Error() string {
	msg := fmt.Sprintf("theory: parameter %s=%v out of range", e.Param, e.Value)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}

	return msg
}

// Is reports a match against [ErrOutOfRange].
func (e *RangeError) Is(target error) bool {
	return target == ErrOutOfRange
}

// ComputeError is returned by solvers for failures during the compute step.
// Recoverable under lenient mode.
type ComputeError struct {
	Reason string
}

func (e *ComputeError) Error() string {
	return "theory: solver computation failed: " + e.Reason
}

// Is reports a match against [ErrComputeFailed].
func (e *ComputeError) Is(target error) bool {
	return target == ErrComputeFailed
}

// UnknownParamError is returned by solvers for parameter names they do not
// recognize. Always fatal.
type UnknownParamError struct {
	Param string
}

func (e *UnknownParamError) Error() string {
	return fmt.Sprintf("theory: unknown parameter %q", e.Param)
}

// Is reports a match against [ErrUnknownParam].
func (e *UnknownParamError) Is(target error) bool {
	return target == ErrUnknownParam
}
