package opt

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// minMayflyPop is the smallest population mayfly v0.1.0 accepts
const minMayflyPop = 20

// MayflyAdapter wraps the external Mayfly library as a Solver. The library
// only takes scalar bounds, so the search runs in the unit cube and is mapped
// onto the per-parameter box. Unbounded sides are replaced by a window around
// the starting point.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	tol      float64
	rng      *rand.Rand
}

// NewMayfly creates a new Mayfly optimizer adapter. The random stream is
// seeded once, so successive Solve calls continue the same sequence.
func NewMayfly(maxIters, popSize int, seed int64, tol float64) *MayflyAdapter {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		tol:      tol,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Name implements Solver
func (m *MayflyAdapter) Name() string { return MethodMayfly }

// Solve implements Solver. The run succeeds only when the best sum of
// squares is within tolerance. A run that does not improve on its start
// reports "stagnation" without success, so the caller keeps going.
func (m *MayflyAdapter) Solve(p Problem, x0 []float64) (*Result, error) {
	if err := validate(p, x0); err != nil {
		return nil, err
	}
	if m.maxIters <= 0 {
		return nil, fmt.Errorf("opt: iteration budget must be positive")
	}
	if m.popSize < minMayflyPop {
		return nil, fmt.Errorf("opt: mayfly population must be at least %d, got %d", minMayflyPop, m.popSize)
	}

	n := p.Dim
	lo, hi := searchBox(p, x0)
	evals := 0

	toParams := func(y []float64) []float64 {
		x := make([]float64, n)
		for i, v := range y {
			v = math.Max(0, math.Min(1, v))
			x[i] = lo[i] + v*(hi[i]-lo[i])
		}
		return x
	}
	cost := func(x []float64) float64 {
		evals++
		c := SumOfSquares(p.Residual(x))
		if math.IsNaN(c) {
			return math.Inf(1)
		}
		return c
	}

	start := make([]float64, n)
	lower, upper := boundVectors(p)
	project(start, x0, lower, upper)
	startCost := cost(start)

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(y []float64) float64 { return cost(toParams(y)) }
	config.ProblemSize = n
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = 0
	config.UpperBound = 1
	config.Rand = m.rng

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, fmt.Errorf("opt: mayfly: %w", err)
	}

	best := toParams(result.GlobalBest.Position)
	bestCost := result.GlobalBest.Cost
	if !(bestCost < startCost) {
		best, bestCost = start, startCost
	}

	improvement := (startCost - bestCost) / math.Max(startCost, epsmch)
	res := &Result{
		X:           best,
		Cost:        bestCost,
		Iterations:  m.maxIters,
		Evaluations: evals,
	}
	switch {
	case bestCost <= m.tol:
		res.Success = true
		res.Status = "cost"
		res.Message = "sum of squares within tolerance"
	case improvement <= m.tol:
		res.Status = "stagnation"
		res.Message = "relative improvement within tolerance"
	default:
		res.Status = "iterations"
		res.Message = "iteration limit reached"
	}
	return res, nil
}

// searchBox returns finite per-parameter bounds for the search. Missing
// sides are max(|x|, 1) away from the projected start.
func searchBox(p Problem, x0 []float64) (lo, hi []float64) {
	lower, upper := boundVectors(p)
	lo = make([]float64, p.Dim)
	hi = make([]float64, p.Dim)
	for i, x := range x0 {
		x = math.Max(lower[i], math.Min(upper[i], x))
		w := math.Max(math.Abs(x), 1)
		lo[i], hi[i] = lower[i], upper[i]
		if math.IsInf(lo[i], -1) {
			lo[i] = x - w
		}
		if math.IsInf(hi[i], 1) {
			hi[i] = x + w
		}
	}
	return lo, hi
}
