package opt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestMinimizerDecay(t *testing.T) {
	for _, method := range []string{"L-BFGS-B", "BFGS"} {
		t.Run(method, func(t *testing.T) {
			res, err := NewMinimizer(method, 1000, 1e-12).Solve(decayProblem(), []float64{1.8, 0.55})
			require.NoError(t, err)

			assert.InDelta(t, 2.0, res.X[0], 1e-3)
			assert.InDelta(t, 0.5, res.X[1], 1e-3)
			assert.Less(t, res.Cost, 1e-6)
			assert.NotEmpty(t, res.Status)
		})
	}
}

func TestMinimizerAtOptimumSucceeds(t *testing.T) {
	res, err := NewMinimizer("LBFGS", 100, 1e-8).Solve(decayProblem(), []float64{2, 0.5})
	require.NoError(t, err)

	assert.True(t, res.Success, res.Message)
	assert.InDelta(t, 2.0, res.X[0], 1e-9)
	assert.InDelta(t, 0.5, res.X[1], 1e-9)
}

// minimum of (x-3)² lies outside the box [-1, 2]
func boxedQuadratic() Problem {
	return Problem{
		Dim:      1,
		Residual: func(x []float64) []float64 { return []float64{x[0] - 3} },
		Jacobian: func(x []float64) *mat.Dense { return mat.NewDense(1, 1, []float64{1}) },
		Lower:    []float64{-1},
		Upper:    []float64{2},
	}
}

func TestMinimizerRespectsBounds(t *testing.T) {
	for _, method := range []string{"LBFGS", "Nelder-Mead", "CG"} {
		t.Run(method, func(t *testing.T) {
			res, err := NewMinimizer(method, 500, 1e-10).Solve(boxedQuadratic(), []float64{0})
			require.NoError(t, err)

			assert.LessOrEqual(t, res.X[0], 2.0)
			assert.GreaterOrEqual(t, res.X[0], -1.0)
			assert.InDelta(t, 2.0, res.X[0], 1e-3)
		})
	}
}

func TestMinimizerProjectsStart(t *testing.T) {
	p := boxedQuadratic()
	p.Jacobian = nil
	res, err := NewMinimizer("LBFGS", 200, 1e-10).Solve(p, []float64{10})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res.X[0], 1e-3)
	assert.False(t, math.IsNaN(res.Cost))
}

func TestMinimizerUnknownMethod(t *testing.T) {
	_, err := NewMinimizer("simplex", 10, 1e-8).Solve(boxedQuadratic(), []float64{0})
	assert.ErrorIs(t, err, ErrUnknownMethod)
}
