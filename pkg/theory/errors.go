package theory

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors returned by theory operations.
//
// Callers should use [errors.Is] to check error types. Errors carrying
// context (the conflicting values, the offending parameter) are typed and
// match their sentinel through errors.Is.
var (
	// ErrConflictingRequirement indicates two callers declared incompatible
	// variants of the same quantity.
	//
	// This is fatal and surfaced at declaration time.
	ErrConflictingRequirement = errors.New("theory: conflicting requirement")

	// ErrUnknownQuantity indicates a declaration for a quantity the engine
	// does not support.
	ErrUnknownQuantity = errors.New("theory: unknown quantity")

	// ErrInvalidRequirement indicates a requirement payload of the wrong
	// type for its quantity.
	//
	// This is a programming error.
	ErrInvalidRequirement = errors.New("theory: invalid requirement")

	// ErrConfiguration indicates the requested quantities cannot be
	// configured: a required solver setting is also a free sampled input,
	// or a mutually exclusive parameter group is over-specified.
	ErrConfiguration = errors.New("theory: configuration error")

	// ErrNotBuilt indicates Evaluate or an accessor was called before
	// [Engine.Build], or after a Declare without a rebuild.
	ErrNotBuilt = errors.New("theory: requirements not built")

	// ErrNoComputation indicates an accessor was called before any
	// successful Evaluate.
	ErrNoComputation = errors.New("theory: no computation available")

	// ErrNotRequested indicates an accessor was called for a quantity that
	// was never declared as a requirement.
	ErrNotRequested = errors.New("theory: quantity not requested")

	// ErrOutOfRange indicates the solver rejected the parameter point as
	// physically out of domain.
	//
	// Recoverable: under lenient mode Evaluate reports [StatusZeroResult]
	// instead of returning this error.
	ErrOutOfRange = errors.New("theory: parameter point out of range")

	// ErrComputeFailed indicates the solver accepted the parameters but
	// failed during the compute step.
	//
	// Same recovery policy as [ErrOutOfRange].
	ErrComputeFailed = errors.New("theory: solver computation failed")

	// ErrUnknownParam indicates a parameter name the solver does not
	// recognize. Always fatal, regardless of strict mode.
	ErrUnknownParam = errors.New("theory: unknown parameter")

	// ErrUnresolvedDerived indicates a requested derived parameter could
	// not be produced by any resolution path.
	ErrUnresolvedDerived = errors.New("theory: derived parameter unresolved")

	// ErrUnknownUnit indicates an unsupported unit was requested from an
	// accessor.
	ErrUnknownUnit = errors.New("theory: unknown unit")

	// ErrRedshiftNotComputed indicates an accessor was queried at a
	// redshift that is not part of the grid the solver was configured with.
	ErrRedshiftNotComputed = errors.New("theory: redshift not computed")
)

// ConflictError reports two incompatible declarations for the same quantity.
type ConflictError struct {
	Quantity Quantity
	Field    string
	Have     any
	Want     any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("theory: conflicting requirement for %q: %s %v vs %v",
		e.Quantity, e.Field, e.Have, e.Want)
}

// Is reports a match against [ErrConflictingRequirement].
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflictingRequirement
}

// ConfigError reports a structural misconfiguration detected at build or
// first-evaluation time.
type ConfigError struct {
	Reason string
	Params []string
}

func (e *ConfigError) Error() string {
	if len(e.Params) == 0 {
		return "theory: configuration error: " + e.Reason
	}

	return fmt.Sprintf("theory: configuration error: %s: %s", e.Reason, strings.Join(e.Params, ", "))
}

// Is reports a match against [ErrConfiguration].
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// DerivedError names a derived parameter that no resolution path produced.
type DerivedError struct {
	Name string
}

func (e *DerivedError) Error() string {
	return fmt.Sprintf("theory: derived parameter %q unresolved", e.Name)
}

// Is reports a match against [ErrUnresolvedDerived].
func (e *DerivedError) Is(target error) bool {
	return target == ErrUnresolvedDerived
}

// UnitError names an unsupported unit and lists the supported set.
type UnitError struct {
	Unit      string
	Supported []string
}

func (e *UnitError) Error() string {
	supported := append([]string(nil), e.Supported...)
	sort.Strings(supported)

	return fmt.Sprintf("theory: unknown unit %q (supported: %s)", e.Unit, strings.Join(supported, ", "))
}

// Is reports a match against [ErrUnknownUnit].
func (e *UnitError) Is(target error) bool {
	return target == ErrUnknownUnit
}

// DomainError names a redshift that is not part of the computed grid.
type DomainError struct {
	Value float64
	Known []float64
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("theory: redshift %v not computed (grid: %v)", e.Value, e.Known)
}

// Is reports a match against [ErrRedshiftNotComputed].
func (e *DomainError) Is(target error) bool {
	return target == ErrRedshiftNotComputed
}
