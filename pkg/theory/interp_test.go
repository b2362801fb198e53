package theory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// surface builds a strictly positive 2x3 test surface with P = a*(1+z)/k.
func surface() MatterPowerData {
	k := []float64{0.01, 0.1, 1.0}
	z := []float64{0, 1.0}

	p := make([][]float64, len(z))
	for i := range z {
		p[i] = make([]float64, len(k))
		for j := range k {
			p[i][j] = 100 * (1 + z[i]) / k[j]
		}
	}

	return MatterPowerData{K: k, Z: z, P: p}
}

func Test_PkInterpolator_Reproduces_Node_Values(t *testing.T) {
	t.Parallel()

	data := surface()

	interp, err := newPkInterpolator(data, 0)
	require.NoError(t, err)

	for i, z := range data.Z {
		for j, k := range data.K {
			got, err := interp.P(z, k)
			require.NoError(t, err)
			require.InEpsilon(t, data.P[i][j], got, 1e-12, "z=%v k=%v", z, k)
		}
	}
}

func Test_PkInterpolator_Interpolates_PowerLaw_Exactly_In_LogK(t *testing.T) {
	t.Parallel()

	interp, err := newPkInterpolator(surface(), 0)
	require.NoError(t, err)

	// P ~ 1/k is a power law, so log P is linear in log k and the
	// interpolation is exact between nodes.
	got, err := interp.P(0, 0.03)
	require.NoError(t, err)
	require.InEpsilon(t, 100/0.03, got, 1e-12)

	// Linear in z between the two planes, on the log surface.
	got, err = interp.P(0.5, 0.1)
	require.NoError(t, err)
	require.InEpsilon(t, math.Exp((math.Log(1000)+math.Log(2000))/2), got, 1e-12)
}

func Test_PkInterpolator_Extrapolates_LogLinearly_Beyond_Last_K(t *testing.T) {
	t.Parallel()

	interp, err := newPkInterpolator(surface(), 10)
	require.NoError(t, err)

	_, kmax := interp.KRange()
	require.InDelta(t, 10.0, kmax, 1e-12)

	// The 1/k law continues past the computed ceiling.
	got, err := interp.P(0, 5.0)
	require.NoError(t, err)
	require.InEpsilon(t, 100/5.0, got, 1e-12)

	_, err = interp.P(0, 11.0)
	require.Error(t, err)
}

func Test_PkInterpolator_Rejects_Queries_Outside_Z_Bounds(t *testing.T) {
	t.Parallel()

	interp, err := newPkInterpolator(surface(), 0)
	require.NoError(t, err)

	_, err = interp.P(2.0, 0.1)

	require.ErrorIs(t, err, ErrRedshiftNotComputed)
}

func Test_PkInterpolator_Falls_Back_To_Linear_When_Surface_Not_Positive(t *testing.T) {
	t.Parallel()

	data := surface()
	data.P[0][1] = -5 // cross-spectra can go negative

	interp, err := newPkInterpolator(data, 0)
	require.NoError(t, err)

	got, err := interp.P(0, data.K[1])
	require.NoError(t, err)
	require.InDelta(t, -5.0, got, 1e-12)
}

func Test_PkInterpolator_Rejects_Extrapolation_On_NonPositive_Surface(t *testing.T) {
	t.Parallel()

	data := surface()
	data.P[1][2] = 0

	_, err := newPkInterpolator(data, 10)

	require.ErrorIs(t, err, ErrConfiguration)
}

func Test_PkInterpolator_Requires_Two_By_Two_Surface(t *testing.T) {
	t.Parallel()

	data := surface()
	data.Z = data.Z[:1]
	data.P = data.P[:1]

	_, err := newPkInterpolator(data, 0)

	require.ErrorIs(t, err, ErrConfiguration)
}
