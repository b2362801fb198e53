// Package scenario loads JSONC scenario files for the boltzi CLI: which
// quantities to require, how to configure the engine, and which parameter
// points to run.
package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/boltzcache/pkg/theory"
)

// Sentinel errors for scenario loading.
var (
	ErrScenarioRead    = errors.New("scenario: cannot read file")
	ErrScenarioInvalid = errors.New("scenario: invalid file")
	ErrScenarioEmpty   = errors.New("scenario: no requirements declared")
)

// Scenario is one parsed scenario file.
type Scenario struct {
	Options      Options              `json:"options"`
	Requirements Requirements         `json:"requirements"`
	Points       []map[string]float64 `json:"points"`
}

// Options mirrors the engine options the file format exposes.
type Options struct {
	Slots         int                `json:"slots,omitempty"`
	Strict        bool               `json:"strict,omitempty"`
	NoCache       bool               `json:"no_cache,omitempty"`
	SampledParams []string           `json:"sampled_params,omitempty"`
	Aliases       map[string]string  `json:"aliases,omitempty"`
	Extras        map[string]float64 `json:"extras,omitempty"`
}

// Requirements is the declarative requirement block of a scenario file.
// Every present section becomes one or more Declare calls.
type Requirements struct {
	// Background maps a background quantity name (hubble,
	// angular_diameter_distance, comoving_radial_distance) to its
	// redshifts.
	Background map[string][]float64 `json:"background,omitempty"`

	CMB         *CMBBlock         `json:"cmb,omitempty"`
	GrowthRate  *GrowthBlock      `json:"growth_rate,omitempty"`
	MatterPower *MatterPowerBlock `json:"matter_power,omitempty"`
	Sources     *SourceBlock      `json:"sources,omitempty"`

	// Derived lists derived scalar parameter names.
	Derived []string `json:"derived,omitempty"`

	// RawResult requests the raw solver result object.
	RawResult bool `json:"raw_result,omitempty"`
}

// CMBBlock mirrors [theory.CMBRequirement].
type CMBBlock struct {
	MaxL    int      `json:"max_l"`
	Spectra []string `json:"spectra,omitempty"`
}

// GrowthBlock mirrors [theory.GrowthRateRequirement].
type GrowthBlock struct {
	Redshifts []float64 `json:"redshifts"`
}

// MatterPowerBlock mirrors [theory.MatterPowerRequirement].
type MatterPowerBlock struct {
	Redshifts []float64   `json:"redshifts"`
	KMax      float64     `json:"k_max"`
	Pairs     [][2]string `json:"pairs,omitempty"`
	NonLinear bool        `json:"non_linear,omitempty"`
}

// SourceBlock mirrors [theory.SourceRequirement].
type SourceBlock struct {
	MaxL    int      `json:"max_l"`
	Limber  bool     `json:"limber,omitempty"`
	Windows []Window `json:"windows"`
}

// Window mirrors [theory.SourceWindow].
type Window struct {
	Name  string  `json:"name"`
	Kind  string  `json:"kind"`
	Z     float64 `json:"z"`
	Sigma float64 `json:"sigma"`
}

var backgroundQuantities = map[string]theory.Quantity{
	"hubble":                    theory.QuantityHubble,
	"angular_diameter_distance": theory.QuantityAngularDiameterDistance,
	"comoving_radial_distance":  theory.QuantityComovingRadialDistance,
}

// Load reads and parses one scenario file.
func Load(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("%w: %s", ErrScenarioRead, path)
	}

	sc, parseErr := Parse(data)
	if parseErr != nil {
		return Scenario{}, fmt.Errorf("%w %s: %w", ErrScenarioInvalid, path, parseErr)
	}

	return sc, nil
}

// Parse parses scenario bytes. The format is JSONC: comments and trailing
// commas are allowed.
func Parse(data []byte) (Scenario, error) {
	// Standardize JSONC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Scenario{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var sc Scenario

	unmarshalErr := json.Unmarshal(standardized, &sc)
	if unmarshalErr != nil {
		return Scenario{}, fmt.Errorf("invalid JSON: %w", unmarshalErr)
	}

	if validateErr := validate(sc); validateErr != nil {
		return Scenario{}, validateErr
	}

	return sc, nil
}

func validate(sc Scenario) error {
	r := sc.Requirements

	empty := len(r.Background) == 0 &&
		r.CMB == nil &&
		r.GrowthRate == nil &&
		r.MatterPower == nil &&
		r.Sources == nil &&
		len(r.Derived) == 0 &&
		!r.RawResult

	if empty {
		return ErrScenarioEmpty
	}

	for name := range r.Background {
		if _, ok := backgroundQuantities[name]; !ok {
			return fmt.Errorf("unknown background quantity %q", name)
		}
	}

	if r.CMB != nil {
		for _, s := range r.CMB.Spectra {
			switch theory.CMBSpectrum(s) {
			case theory.SpectrumTT, theory.SpectrumEE, theory.SpectrumBB, theory.SpectrumTE, theory.SpectrumPP:
			default:
				return fmt.Errorf("unknown CMB spectrum %q", s)
			}
		}
	}

	if r.Sources != nil {
		for _, w := range r.Sources.Windows {
			if w.Name == "" {
				return errors.New("source window without a name")
			}
		}
	}

	return nil
}

// EngineOptions converts the scenario options block.
func (sc Scenario) EngineOptions() theory.Options {
	return theory.Options{
		Slots:         sc.Options.Slots,
		Strict:        sc.Options.Strict,
		NoCache:       sc.Options.NoCache,
		SampledParams: sc.Options.SampledParams,
		Aliases:       sc.Options.Aliases,
		Extras:        sc.Options.Extras,
	}
}

// Declare translates the requirement block into Declare calls on the
// engine. The caller still runs Build.
func (sc Scenario) Declare(eng *theory.Engine) error {
	r := sc.Requirements

	for name, redshifts := range r.Background {
		q := backgroundQuantities[name]

		if err := eng.Declare(q, theory.BackgroundRequirement{Redshifts: redshifts}); err != nil {
			return err
		}
	}

	if r.CMB != nil {
		spectra := make([]theory.CMBSpectrum, len(r.CMB.Spectra))
		for i, s := range r.CMB.Spectra {
			spectra[i] = theory.CMBSpectrum(s)
		}

		if len(spectra) == 0 {
			spectra = []theory.CMBSpectrum{theory.SpectrumTT}
		}

		err := eng.Declare(theory.QuantityCMB, theory.CMBRequirement{MaxL: r.CMB.MaxL, Spectra: spectra})
		if err != nil {
			return err
		}
	}

	if r.GrowthRate != nil {
		err := eng.Declare(theory.QuantityGrowthRate, theory.GrowthRateRequirement{
			Redshifts: r.GrowthRate.Redshifts,
		})
		if err != nil {
			return err
		}
	}

	if r.MatterPower != nil {
		pairs := make([]theory.VarPair, len(r.MatterPower.Pairs))
		for i, p := range r.MatterPower.Pairs {
			pairs[i] = theory.VarPair{X: p[0], Y: p[1]}
		}

		err := eng.Declare(theory.QuantityMatterPower, theory.MatterPowerRequirement{
			Redshifts: r.MatterPower.Redshifts,
			KMax:      r.MatterPower.KMax,
			Pairs:     pairs,
			NonLinear: r.MatterPower.NonLinear,
		})
		if err != nil {
			return err
		}
	}

	if r.Sources != nil {
		windows := make([]theory.SourceWindow, len(r.Sources.Windows))
		for i, w := range r.Sources.Windows {
			windows[i] = theory.SourceWindow{Name: w.Name, Kind: w.Kind, Z: w.Z, Sigma: w.Sigma}
		}

		err := eng.Declare(theory.QuantitySourceCl, theory.SourceRequirement{
			Sources: windows,
			MaxL:    r.Sources.MaxL,
			Limber:  r.Sources.Limber,
		})
		if err != nil {
			return err
		}
	}

	for _, name := range r.Derived {
		if err := eng.Declare(theory.Quantity(name), theory.DerivedRequirement{}); err != nil {
			return err
		}
	}

	if r.RawResult {
		if err := eng.Declare(theory.QuantityRawResult, theory.RawResultRequirement{}); err != nil {
			return err
		}
	}

	return nil
}
