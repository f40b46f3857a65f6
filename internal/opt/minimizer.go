package opt

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

// boundPenalty weights the squared distance outside the box so that the
// unconstrained gonum methods are pulled back inside it
const boundPenalty = 1e8

var minimizerMethods = map[string]func() optimize.Method{
	"l-bfgs-b":    func() optimize.Method { return &optimize.LBFGS{} },
	"lbfgs":       func() optimize.Method { return &optimize.LBFGS{} },
	"bfgs":        func() optimize.Method { return &optimize.BFGS{} },
	"cg":          func() optimize.Method { return &optimize.CG{} },
	"nelder-mead": func() optimize.Method { return &optimize.NelderMead{} },
	"gd":          func() optimize.Method { return &optimize.GradientDescent{} },
}

// Minimizer adapts the least-squares problem to a scalar objective Σ r_i²
// and hands it to a gonum/optimize method. Bounds are enforced by
// evaluating at the projection of x onto the box plus a quadratic penalty on
// the distance outside it; the returned vector is always inside the box.
type Minimizer struct {
	Method        string
	MaxIterations int
	Tolerance     float64
}

// NewMinimizer creates a minimizer for the named gonum method
func NewMinimizer(method string, maxIters int, tol float64) *Minimizer {
	return &Minimizer{
		Method:        method,
		MaxIterations: maxIters,
		Tolerance:     tol,
	}
}

// Name implements Solver
func (mz *Minimizer) Name() string { return mz.Method }

func (mz *Minimizer) usesGradient() bool {
	return strings.ToLower(mz.Method) != "nelder-mead"
}

// Solve implements Solver
func (mz *Minimizer) Solve(p Problem, x0 []float64) (*Result, error) {
	if err := validate(p, x0); err != nil {
		return nil, err
	}
	newMethod, ok := minimizerMethods[strings.ToLower(mz.Method)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, mz.Method)
	}
	if mz.MaxIterations <= 0 {
		return nil, fmt.Errorf("opt: iteration budget must be positive")
	}

	lower, upper := boundVectors(p)
	n := p.Dim
	evals := 0

	start := make([]float64, n)
	project(start, x0, lower, upper)

	objective := func(x []float64) float64 {
		inside := make([]float64, n)
		project(inside, x, lower, upper)
		evals++
		f := SumOfSquares(p.Residual(inside))
		for i := range x {
			d := x[i] - inside[i]
			f += boundPenalty * d * d
		}
		return f
	}

	problem := optimize.Problem{Func: objective}
	if mz.usesGradient() {
		if p.Jacobian != nil {
			problem.Grad = func(grad, x []float64) {
				inside := make([]float64, n)
				project(inside, x, lower, upper)
				evals++
				r := p.Residual(inside)
				SumOfSquaresGradient(grad, r, p.Jacobian(inside))
				for i := range x {
					if x[i] != inside[i] {
						grad[i] = 2 * boundPenalty * (x[i] - inside[i])
					}
				}
			}
		} else {
			problem.Grad = func(grad, x []float64) {
				fd.Gradient(grad, objective, x, nil)
			}
		}
	}

	settings := &optimize.Settings{
		MajorIterations:   mz.MaxIterations,
		GradientThreshold: mz.Tolerance,
		Converger: &optimize.FunctionConverge{
			Absolute:   mz.Tolerance,
			Relative:   mz.Tolerance,
			Iterations: 20,
		},
	}

	res, err := optimize.Minimize(problem, start, settings, newMethod())
	if res == nil {
		return nil, fmt.Errorf("opt: %s minimizer: %w", mz.Method, err)
	}

	x := make([]float64, n)
	project(x, res.X, lower, upper)
	cost := SumOfSquares(p.Residual(x))

	msg := res.Status.String()
	if err != nil {
		msg += ": " + err.Error()
	}

	return &Result{
		X:           x,
		Cost:        cost,
		Success:     err == nil && converged(res.Status) && !math.IsNaN(cost),
		Status:      res.Status.String(),
		Message:     msg,
		Iterations:  res.Stats.MajorIterations,
		Evaluations: evals,
	}, nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success,
		optimize.FunctionThreshold,
		optimize.FunctionConvergence,
		optimize.GradientThreshold,
		optimize.StepConvergence,
		optimize.MethodConverge:
		return true
	}
	return false
}
