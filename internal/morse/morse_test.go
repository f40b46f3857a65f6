package morse

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnergyAtEquilibrium(t *testing.T) {
	p := Params{De: 0.35, A: 1.2, R0: 0.8}
	assert.InDelta(t, -0.35, Default.Energy(0.8, p), 1e-15)

	// Dissociation limit is zero.
	assert.InDelta(t, 0.0, Default.Energy(50, p), 1e-12)
}

func TestPenaltyZeroForNonNegative(t *testing.T) {
	cases := []Params{
		{0, 0, 0},
		{0.35, 1.2, 0.8},
		{10, 0, 3},
	}
	for _, p := range cases {
		assert.Equal(t, 0.0, Default.Penalty(p), "params %+v", p)
	}
}

func TestPenaltyIncreasesWithNegativeMagnitude(t *testing.T) {
	prev := 0.0
	for _, x := range []float64{-1e-4, -1e-3, -0.01, -0.1, -1} {
		for i, p := range []Params{{x, 1, 1}, {1, x, 1}, {1, 1, x}} {
			pen := Default.Penalty(p)
			require.Greater(t, pen, 0.0, "component %d at %g", i, x)
			if i == 0 {
				assert.Greater(t, pen, prev)
				prev = pen
			}
		}
	}
	assert.InDelta(t, DefaultPenaltyFactor*8, Default.Penalty(Params{-2, 1, 1}), 1e-3)
}

func TestInjectedPenaltyFactor(t *testing.T) {
	m := Model{PenaltyFactor: 2}
	p := Params{De: -1, A: -1, R0: 1}
	assert.Equal(t, 4.0, m.Penalty(p))

	none := Model{}
	assert.Equal(t, 0.0, none.Penalty(p))
}

func TestPartialsMatchFiniteDifferences(t *testing.T) {
	const h = 1e-6
	params := []Params{
		{0.35, 1.2, 0.8},
		{1.5, 0.7, 2.1},
		{-0.001, 1.0, 1.0},
		{0.2, -0.002, 1.3},
		{0.2, 0.9, -0.003},
	}
	m := Model{PenaltyFactor: 1e3}
	for _, p := range params {
		for _, r := range []float64{0.5, 1.0, 2.5} {
			v := p.Slice()
			num := make([]float64, 3)
			for k := range v {
				up := append([]float64(nil), v...)
				dn := append([]float64(nil), v...)
				up[k] += h
				dn[k] -= h
				num[k] = (m.Energy(r, FromSlice(up)) - m.Energy(r, FromSlice(dn))) / (2 * h)
			}

			dDe, dA, dR0 := m.Gradient(r, p)
			tol := func(x float64) float64 { return 1e-5 * math.Max(1, math.Abs(x)) }
			assert.InDelta(t, num[0], dDe, tol(num[0]), "dDe at r=%g p=%+v", r, p)
			assert.InDelta(t, num[1], dA, tol(num[1]), "dA at r=%g p=%+v", r, p)
			assert.InDelta(t, num[2], dR0, tol(num[2]), "dR0 at r=%g p=%+v", r, p)

			assert.Equal(t, dDe, m.DEnergyDDe(r, p))
			assert.InDelta(t, dA, m.DEnergyDA(r, p), 1e-12)
			assert.InDelta(t, dR0, m.DEnergyDR0(r, p), 1e-12)
		}
	}
}
