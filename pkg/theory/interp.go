package theory

import (
	"fmt"
	"math"
	"slices"
	"sort"
)

// PkInterpolator interpolates a matter power spectrum surface P(z,k).
//
// Interpolation is bilinear in (z, log k), over log P when the surface is
// strictly positive and over P directly otherwise. When built with
// extrapKMax beyond the computed ceiling, queries between the last computed
// k and extrapKMax extrapolate log-linearly; that requires a positive
// surface.
//
// Neither k nor P carry Hubble units. Obtain instances via
// [Engine.PkInterpolator]; they stay valid even after their slot is
// evicted, since they copy what they need.
type PkInterpolator struct {
	z    []float64
	logk []float64
	val  [][]float64 // val[i][j] at z[i], logk[j]; logP when logp is set
	logp bool

	extrapKMax float64
}

func newPkInterpolator(data MatterPowerData, extrapKMax float64) (*PkInterpolator, error) {
	if len(data.Z) < 2 || len(data.K) < 2 {
		return nil, fmt.Errorf("%w: interpolation needs at least a 2x2 surface", ErrConfiguration)
	}

	logp := true

	for _, row := range data.P {
		for _, p := range row {
			if p <= 0 {
				logp = false

				break
			}
		}
	}

	if !logp && extrapKMax > data.K[len(data.K)-1] {
		return nil, fmt.Errorf(
			"%w: cannot log-extrapolate a non-positive power spectrum", ErrConfiguration)
	}

	logk := make([]float64, len(data.K))
	for j, k := range data.K {
		logk[j] = math.Log(k)
	}

	val := make([][]float64, len(data.P))

	for i, row := range data.P {
		val[i] = slices.Clone(row)

		if logp {
			for j := range val[i] {
				val[i][j] = math.Log(val[i][j])
			}
		}
	}

	return &PkInterpolator{
		z:          slices.Clone(data.Z),
		logk:       logk,
		val:        val,
		logp:       logp,
		extrapKMax: extrapKMax,
	}, nil
}

// ZRange returns the interpolable redshift bounds.
func (p *PkInterpolator) ZRange() (zmin, zmax float64) {
	return p.z[0], p.z[len(p.z)-1]
}

// KRange returns the interpolable wavenumber bounds, including any
// extrapolation headroom.
func (p *PkInterpolator) KRange() (kmin, kmax float64) {
	kmax = math.Exp(p.logk[len(p.logk)-1])
	if p.extrapKMax > kmax {
		kmax = p.extrapKMax
	}

	return math.Exp(p.logk[0]), kmax
}

// P evaluates the surface at one (z, k) point.
func (p *PkInterpolator) P(z, k float64) (float64, error) {
	zmin, zmax := p.ZRange()
	if z < zmin || z > zmax {
		return 0, &DomainError{Value: z, Known: []float64{zmin, zmax}}
	}

	kmin, kmax := p.KRange()
	if k < kmin || k > kmax {
		return 0, fmt.Errorf("%w: k=%v outside [%v, %v]", ErrConfiguration, k, kmin, kmax)
	}

	logk := math.Log(k)
	lastK := p.logk[len(p.logk)-1]

	if logk > lastK {
		// Log-linear continuation of the last computed interval.
		v := p.at(z, len(p.logk)-2) // value and slope from the last interval
		w := p.at(z, len(p.logk)-1)
		slope := (w - v) / (p.logk[len(p.logk)-1] - p.logk[len(p.logk)-2])
		value := w + slope*(logk-lastK)

		return math.Exp(value), nil // extrapolation implies logp
	}

	j := sort.SearchFloat64s(p.logk, logk)
	if j > 0 && (j == len(p.logk) || p.logk[j] != logk) {
		j--
	}

	if j == len(p.logk)-1 {
		j--
	}

	t := (logk - p.logk[j]) / (p.logk[j+1] - p.logk[j])
	value := (1-t)*p.at(z, j) + t*p.at(z, j+1)

	if p.logp {
		return math.Exp(value), nil
	}

	return value, nil
}

// at interpolates the surface linearly in z at fixed k column j.
func (p *PkInterpolator) at(z float64, j int) float64 {
	i := sort.SearchFloat64s(p.z, z)
	if i > 0 && (i == len(p.z) || p.z[i] != z) {
		i--
	}

	if i == len(p.z)-1 {
		i--
	}

	t := (z - p.z[i]) / (p.z[i+1] - p.z[i])

	return (1-t)*p.val[i][j] + t*p.val[i+1][j]
}
